package statement

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/http/auth"
	"github.com/MrJamesThe3rd/haven/internal/http/response"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/statement"
)

type Handler struct {
	svc *statement.Service
}

func NewHandler(svc *statement.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.metadata)
	r.Get("/download", h.download)
}

type lineResponse struct {
	Date      time.Time   `json:"date"`
	Kind      ledger.Kind `json:"kind"`
	Amount    int64       `json:"amount"`
	Balance   int64       `json:"balance"`
	ListingID *uuid.UUID  `json:"listing_id,omitempty"`
	BatchID   uuid.UUID   `json:"batch_id"`
}

type statementResponse struct {
	OwnerID string         `json:"owner_id"`
	Lines   []lineResponse `json:"lines"`
	Summary string         `json:"summary"`
}

func (h *Handler) metadata(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.Caller(r.Context())

	lines, err := h.svc.Build(r.Context(), ownerID)
	if err != nil {
		response.Error(w, err)
		return
	}

	resp := statementResponse{
		OwnerID: ownerID,
		Lines:   make([]lineResponse, 0, len(lines)),
		Summary: statement.Summary(lines),
	}

	for _, l := range lines {
		resp.Lines = append(resp.Lines, lineResponse(l))
	}

	response.JSON(w, http.StatusOK, resp)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	lines, err := h.svc.Build(r.Context(), auth.Caller(r.Context()))
	if err != nil {
		response.Error(w, err)
		return
	}

	filename := fmt.Sprintf("statement_%s.csv", time.Now().UTC().Format("20060102"))

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	// Headers are already sent, so a failure here can only be logged.
	if err := statement.WriteCSV(w, lines); err != nil {
		slog.ErrorContext(r.Context(), "failed to write statement", "error", err)
	}
}
