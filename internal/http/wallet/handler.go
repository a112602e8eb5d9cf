package wallet

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MrJamesThe3rd/haven/internal/http/auth"
	"github.com/MrJamesThe3rd/haven/internal/http/response"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
)

type Handler struct {
	svc      *ledger.Service
	validate *validator.Validate
}

func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.get)
	r.Post("/deposit", h.deposit)
	r.Post("/withdrawal", h.withdrawal)
}

// LedgerRoutes mounts the operator endpoints under /ledger.
func (h *Handler) LedgerRoutes(r chi.Router) {
	r.Get("/reconcile", h.reconcile)
}

type amountRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type receiptResponse struct {
	Entry   response.Entry `json:"entry"`
	Balance int64          `json:"balance"`
}

type walletResponse struct {
	OwnerID string           `json:"owner_id"`
	Balance int64            `json:"balance"`
	History []response.Entry `json:"history"`
}

type mismatchResponse struct {
	OwnerID string `json:"owner_id"`
	Cached  int64  `json:"cached"`
	Ledger  int64  `json:"ledger"`
}

type reconcileResponse struct {
	Consistent bool               `json:"consistent"`
	Mismatches []mismatchResponse `json:"mismatches"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Caller(r.Context())

	balance, err := h.svc.BalanceOf(r.Context(), ownerID)
	if err != nil {
		response.Error(w, err)
		return
	}

	history, err := h.svc.History(r.Context(), ownerID)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, walletResponse{
		OwnerID: ownerID,
		Balance: balance,
		History: response.Entries(history),
	})
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.svc.Deposit)
}

func (h *Handler) withdrawal(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.svc.Withdrawal)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ownerID string, amount int64) (*ledger.Receipt, error)) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err)
		return
	}

	receipt, err := fn(r.Context(), auth.Caller(r.Context()), req.Amount)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, receiptResponse{
		Entry:   response.Entries([]*ledger.Entry{receipt.Entry})[0],
		Balance: receipt.Balance,
	})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.svc.Reconcile(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}

	resp := reconcileResponse{
		Consistent: len(mismatches) == 0,
		Mismatches: make([]mismatchResponse, 0, len(mismatches)),
	}

	for _, m := range mismatches {
		resp.Mismatches = append(resp.Mismatches, mismatchResponse{OwnerID: m.OwnerID, Cached: m.Cached, Ledger: m.Ledger})
	}

	response.JSON(w, http.StatusOK, resp)
}
