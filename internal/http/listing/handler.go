package listing

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
	"github.com/MrJamesThe3rd/haven/internal/http/auth"
	"github.com/MrJamesThe3rd/haven/internal/http/response"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/listing"
)

type Handler struct {
	escrow   *escrow.Service
	wallets  *ledger.Service
	validate *validator.Validate
}

func NewHandler(escrowSvc *escrow.Service, wallets *ledger.Service) *Handler {
	return &Handler{escrow: escrowSvc, wallets: wallets, validate: validator.New()}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/reserve", h.reserve)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/withdraw", h.withdraw)
	r.Post("/{id}/relist", h.relist)
	r.Get("/{id}/ledger", h.ledger)
}

type createListingRequest struct {
	Price   int64        `json:"price" validate:"required,gt=0"`
	Kind    listing.Kind `json:"kind" validate:"required,oneof=for_sale for_rent"`
	AgentID *string      `json:"agent_id,omitempty" validate:"omitempty,min=1"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err)
		return
	}

	l, err := h.escrow.CreateListing(r.Context(), escrow.CreateParams{
		OwnerID: auth.Caller(r.Context()),
		AgentID: req.AgentID,
		Price:   req.Price,
		Kind:    req.Kind,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, toResponse(l))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}

	l, err := h.escrow.Get(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, toResponse(l))
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}

	res, err := h.escrow.Initiate(r.Context(), id, auth.Caller(r.Context()))
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, reserveResponse{
		Listing:               toResponse(res.Listing),
		InsufficientFundsHint: res.InsufficientFundsHint,
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}

	res, err := h.escrow.Approve(r.Context(), id, auth.Caller(r.Context()))
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, approveResponse{
		Listing:       toResponse(res.Listing),
		BuyerBalance:  res.BuyerBalance,
		SellerBalance: res.SellerBalance,
		Entries:       response.Entries(res.Entries),
		Replayed:      res.Replayed,
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.CancelReservation)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.Withdraw)
}

func (h *Handler) relist(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.Relist)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, callerID string) (*listing.Listing, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}

	l, err := fn(r.Context(), id, auth.Caller(r.Context()))
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, toResponse(l))
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}

	if _, err := h.escrow.Get(r.Context(), id); err != nil {
		response.Error(w, err)
		return
	}

	entries, err := h.wallets.ListingEntries(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Entries(entries))
}

func listingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, err)
		return uuid.Nil, false
	}

	return id, true
}
