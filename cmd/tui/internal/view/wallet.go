package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/haven/internal/ledger"
)

type walletState int

const (
	walletStateForm walletState = iota
	walletStateResult
)

const (
	walletOpBalance    = "balance"
	walletOpDeposit    = "deposit"
	walletOpWithdrawal = "withdrawal"
)

type WalletModel struct {
	CommonModel
	wallets *ledger.Service

	state   walletState
	form    *huh.Form
	table   table.Model
	balance int64
	status  string

	// Form bindings live behind a pointer so every copy of the model sees the
	// values huh writes.
	fields *walletFields
}

type walletFields struct {
	owner  string
	op     string
	amount string
}

func NewWalletModel(wallets *ledger.Service) WalletModel {
	columns := []table.Column{
		{Title: "Date", Width: 17},
		{Title: "Kind", Width: 18},
		{Title: "Amount", Width: 14},
		{Title: "Listing", Width: 10},
	}

	m := WalletModel{
		wallets: wallets,
		table:   newTable(columns, 12),
		fields:  &walletFields{op: walletOpBalance},
	}
	m.form = m.buildForm()

	return m
}

func (m WalletModel) Title() string { return "Wallet" }

func (m WalletModel) ShortHelp() string {
	if m.state == walletStateResult {
		return "Esc: back | n: new operation"
	}

	return "Esc: back | Enter: confirm"
}

func (m WalletModel) Init() tea.Cmd {
	return m.form.Init()
}

func (m WalletModel) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Owner").
				Value(&m.fields.owner).
				Validate(required("owner")),

			huh.NewSelect[string]().
				Title("Operation").
				Options(
					huh.NewOption("Show balance", walletOpBalance),
					huh.NewOption("Deposit", walletOpDeposit),
					huh.NewOption("Withdrawal", walletOpWithdrawal),
				).
				Value(&m.fields.op),

			huh.NewInput().
				Title("Amount (ignored for balance)").
				Value(&m.fields.amount),
		),
	).WithWidth(45).WithShowHelp(false)
}

func (m WalletModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case walletResultMsg:
		m.state = walletStateResult
		m.status = msg.status
		m.balance = msg.balance
		m.refreshTable(msg.history)

		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyEsc {
			return m, Back
		}

		if m.state == walletStateResult && msg.String() == "n" {
			m.state = walletStateForm
			m.fields.amount = ""
			m.form = m.buildForm()

			return m, m.form.Init()
		}
	}

	if m.state == walletStateResult {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)

		return m, cmd
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State != huh.StateCompleted {
		return m, cmd
	}

	return m, m.submitCmd()
}

func (m WalletModel) View() string {
	if m.state == walletStateForm {
		return lipgloss.NewStyle().Padding(1).Render(panel("Wallet operation", m.form.View()))
	}

	header := fmt.Sprintf("Owner: %s | Balance: %s", activeStyle(m.fields.owner), activeStyle(FormatAmount(m.balance)))

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().PaddingBottom(1).Render(header),
		boxed(m.table.View()),
	)

	if m.status != "" {
		content = lipgloss.NewStyle().Faint(true).Render(m.status) + "\n" + content
	}

	return lipgloss.NewStyle().Padding(1).Render(content)
}

func (m *WalletModel) refreshTable(history []*ledger.Entry) {
	rows := make([]table.Row, 0, len(history))

	for _, e := range history {
		listingID := ""
		if e.ListingID != nil {
			listingID = ShortID(e.ListingID.String())
		}

		rows = append(rows, table.Row{
			FormatTime(&e.CreatedAt),
			string(e.Kind),
			FormatAmount(e.Amount),
			listingID,
		})
	}

	m.table.SetRows(rows)
}

type walletResultMsg struct {
	status  string
	balance int64
	history []*ledger.Entry
}

func (m WalletModel) submitCmd() tea.Cmd {
	owner, op, rawAmount := strings.TrimSpace(m.fields.owner), m.fields.op, m.fields.amount

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		var status string

		if op != walletOpBalance {
			amount, err := parsePrice(rawAmount)
			if err != nil {
				status = fmt.Sprintf("%s rejected: amount %v", op, err)
			} else {
				post := m.wallets.Deposit
				if op == walletOpWithdrawal {
					post = m.wallets.Withdrawal
				}

				if _, err := post(ctx, owner, amount); err != nil {
					status = fmt.Sprintf("%s failed: %v", op, err)
				} else {
					status = fmt.Sprintf("%s of %s committed", op, FormatAmount(amount))
				}
			}
		}

		balance, err := m.wallets.BalanceOf(ctx, owner)
		if err != nil {
			return walletResultMsg{status: fmt.Sprintf("reading balance: %v", err)}
		}

		history, err := m.wallets.History(ctx, owner)
		if err != nil {
			return walletResultMsg{status: fmt.Sprintf("reading history: %v", err), balance: balance}
		}

		return walletResultMsg{status: status, balance: balance, history: history}
	}
}
