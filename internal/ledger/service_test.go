package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/notify"
	"github.com/MrJamesThe3rd/haven/internal/notify/notifytest"
)

func TestService_Deposit(t *testing.T) {
	type args struct {
		owner  string
		amount int64
	}

	type testCase struct {
		name      string
		args      args
		setupMock func(m *ledger.MockRepository, tx *ledger.MockPostingTx)
		wantErr   error
		want      int64
	}

	tests := []testCase{
		{
			name: "Success",
			args: args{owner: "buyer", amount: 250000},
			setupMock: func(m *ledger.MockRepository, tx *ledger.MockPostingTx) {
				m.EXPECT().BeginPosting(gomock.Any(), []string{"buyer"}).Return(tx, nil)
				gomock.InOrder(
					tx.EXPECT().Balance(gomock.Any(), "buyer").Return(int64(0), nil),
					tx.EXPECT().Append(gomock.Any(), gomock.Len(1)).Return(nil),
					tx.EXPECT().Balance(gomock.Any(), "buyer").Return(int64(250000), nil),
					tx.EXPECT().Commit().Return(nil),
				)
				tx.EXPECT().Rollback().Return(nil)
			},
			want: 250000,
		},
		{
			name: "InvalidAmount",
			args: args{owner: "buyer", amount: 0},
			setupMock: func(m *ledger.MockRepository, tx *ledger.MockPostingTx) {
				m.EXPECT().BeginPosting(gomock.Any(), []string{"buyer"}).Return(tx, nil)
				tx.EXPECT().Rollback().Return(nil)
			},
			wantErr: ledger.ErrInvalidAmount,
		},
		{
			name: "BalanceWouldOverflow",
			args: args{owner: "buyer", amount: 10},
			setupMock: func(m *ledger.MockRepository, tx *ledger.MockPostingTx) {
				m.EXPECT().BeginPosting(gomock.Any(), []string{"buyer"}).Return(tx, nil)
				tx.EXPECT().Balance(gomock.Any(), "buyer").Return(int64(math.MaxInt64-5), nil)
				tx.EXPECT().Rollback().Return(nil)
			},
			wantErr: ledger.ErrInvalidAmount,
		},
		{
			name:      "MissingOwner",
			args:      args{owner: "", amount: 10},
			setupMock: func(*ledger.MockRepository, *ledger.MockPostingTx) {},
			wantErr:   ledger.ErrInvalidBatch,
		},
		{
			name: "CommitFails",
			args: args{owner: "buyer", amount: 10},
			setupMock: func(m *ledger.MockRepository, tx *ledger.MockPostingTx) {
				m.EXPECT().BeginPosting(gomock.Any(), []string{"buyer"}).Return(tx, nil)
				tx.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)
				tx.EXPECT().Balance(gomock.Any(), "buyer").Return(int64(10), nil).Times(2)
				tx.EXPECT().Commit().Return(errors.New("connection lost"))
				tx.EXPECT().Rollback().Return(nil)
			},
			wantErr: errors.New("commit posting: connection lost"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockRepo := ledger.NewMockRepository(ctrl)
			mockTx := ledger.NewMockPostingTx(ctrl)
			tt.setupMock(mockRepo, mockTx)

			rec := &notifytest.Recorder{}
			svc := ledger.NewService(mockRepo, rec, slog.New(slog.DiscardHandler))

			got, err := svc.Deposit(context.Background(), tt.args.owner, tt.args.amount)

			if tt.wantErr != nil {
				if errors.Is(tt.wantErr, ledger.ErrInvalidAmount) || errors.Is(tt.wantErr, ledger.ErrInvalidBatch) {
					assert.ErrorIs(t, err, tt.wantErr)
				} else {
					assert.EqualError(t, err, tt.wantErr.Error())
				}

				assert.Empty(t, rec.Calls())

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Balance)
			assert.Equal(t, ledger.KindDeposit, got.Entry.Kind)
			assert.Equal(t, []notify.EventKind{notify.EventFundsChanged}, rec.Kinds(tt.args.owner))
		})
	}
}

func TestService_Withdrawal(t *testing.T) {
	type testCase struct {
		name      string
		amount    int64
		setupMock func(m *ledger.MockRepository, tx *ledger.MockPostingTx)
		wantErr   error
	}

	tests := []testCase{
		{
			name:   "Success",
			amount: 40,
			setupMock: func(m *ledger.MockRepository, tx *ledger.MockPostingTx) {
				m.EXPECT().BeginPosting(gomock.Any(), []string{"a"}).Return(tx, nil)
				gomock.InOrder(
					tx.EXPECT().Balance(gomock.Any(), "a").Return(int64(100), nil),
					tx.EXPECT().Append(gomock.Any(), gomock.Len(1)).Return(nil),
					tx.EXPECT().Balance(gomock.Any(), "a").Return(int64(60), nil),
					tx.EXPECT().Commit().Return(nil),
				)
				tx.EXPECT().Rollback().Return(nil)
			},
		},
		{
			name:   "Overdraft",
			amount: 101,
			setupMock: func(m *ledger.MockRepository, tx *ledger.MockPostingTx) {
				m.EXPECT().BeginPosting(gomock.Any(), []string{"a"}).Return(tx, nil)
				tx.EXPECT().Balance(gomock.Any(), "a").Return(int64(100), nil)
				tx.EXPECT().Rollback().Return(nil)
			},
			wantErr: ledger.ErrInsufficientFunds,
		},
		{
			name:   "AppendRejectsOverdraft",
			amount: 50,
			setupMock: func(m *ledger.MockRepository, tx *ledger.MockPostingTx) {
				m.EXPECT().BeginPosting(gomock.Any(), []string{"a"}).Return(tx, nil)
				tx.EXPECT().Balance(gomock.Any(), "a").Return(int64(100), nil)
				tx.EXPECT().Append(gomock.Any(), gomock.Any()).Return(ledger.ErrInsufficientFunds)
				tx.EXPECT().Rollback().Return(nil)
			},
			wantErr: ledger.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockRepo := ledger.NewMockRepository(ctrl)
			mockTx := ledger.NewMockPostingTx(ctrl)
			tt.setupMock(mockRepo, mockTx)

			svc := ledger.NewService(mockRepo, notify.Discard{}, slog.New(slog.DiscardHandler))

			got, err := svc.Withdrawal(context.Background(), "a", tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, int64(-tt.amount), got.Entry.Amount)
			assert.Equal(t, int64(60), got.Balance)
		})
	}
}

func TestService_BalanceOf(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := ledger.NewMockRepository(ctrl)
	mockRepo.EXPECT().GetWallet(gomock.Any(), "ghost").Return(&ledger.Wallet{OwnerID: "ghost"}, nil)

	svc := ledger.NewService(mockRepo, notify.Discard{}, slog.New(slog.DiscardHandler))

	got, err := svc.BalanceOf(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestService_Reconcile(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	want := []ledger.Mismatch{{OwnerID: "a", Cached: 10, Ledger: 5}}

	mockRepo := ledger.NewMockRepository(ctrl)
	mockRepo.EXPECT().Reconcile(gomock.Any()).Return(want, nil)

	svc := ledger.NewService(mockRepo, notify.Discard{}, slog.New(slog.DiscardHandler))

	got, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
