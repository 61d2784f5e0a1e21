package advance

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/platform/httpx"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// Handler wires advance endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers advance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/advances", h.issue)
	r.Get("/advances/{id}", h.get)
	r.Post("/advances/{id}/cancel", h.cancel)
	r.Get("/farmers/{farmerID}/advances", h.listByFarmer)
}

type issueRequest struct {
	FarmerID    int64   `json:"farmer_id" validate:"required"`
	Category    string  `json:"category" validate:"required,oneof=CASH_ADVANCE CF_ADVANCE LOAN_ADVANCE"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	PaymentMode string  `json:"payment_mode" validate:"required,oneof=CASH BANK"`
	Date        string  `json:"date"`
	Narration   string  `json:"narration"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	identity := shared.IdentityFromContext(r.Context())
	created, err := h.service.Issue(r.Context(), IssueInput{
		CompanyID:   identity.CompanyID,
		ActorID:     identity.ActorID,
		FarmerID:    req.FarmerID,
		Category:    Category(req.Category),
		Amount:      req.Amount,
		PaymentMode: ledger.PaymentMode(req.PaymentMode),
		Date:        date,
		Narration:   req.Narration,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid advance id")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	out, err := h.service.Get(r.Context(), identity.CompanyID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid advance id")
		return
	}
	var req cancelRequest
	_ = httpx.DecodeJSON(r, &req)
	identity := shared.IdentityFromContext(r.Context())
	cancelled, err := h.service.Cancel(r.Context(), identity.CompanyID, id, identity.ActorID, req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cancelled)
}

func (h *Handler) listByFarmer(w http.ResponseWriter, r *http.Request) {
	farmerID, err := strconv.ParseInt(chi.URLParam(r, "farmerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid farmer id")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	advances, err := h.service.ListByFarmer(r.Context(), identity.CompanyID, farmerID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, advances)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrPartlyAdjusted):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ledger.ErrPostingFailed):
		h.logger.Error("advance posting failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Posting Failed", "accounting entry could not be created")
	default:
		h.logger.Error("advance handler failure", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
