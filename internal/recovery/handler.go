package recovery

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/platform/httpx"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// Handler wires receipt endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.create)
	r.Get("/receipts/{id}", h.get)
	r.Post("/receipts/{id}/cancel", h.cancel)
	r.Get("/farmers/{farmerID}/receipts", h.listByFarmer)
}

type createRequest struct {
	FarmerID      int64   `json:"farmer_id" validate:"required"`
	ReferenceType string  `json:"reference_type" validate:"required,oneof=ADVANCE LOAN"`
	ReferenceID   int64   `json:"reference_id" validate:"required"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	PaymentMode   string  `json:"payment_mode" validate:"required,oneof=CASH BANK"`
	Date          string  `json:"date"`
	Narration     string  `json:"narration"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
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
	created, err := h.service.CreateReceipt(r.Context(), CreateReceiptInput{
		CompanyID:     identity.CompanyID,
		ActorID:       identity.ActorID,
		FarmerID:      req.FarmerID,
		ReferenceType: ReferenceType(req.ReferenceType),
		ReferenceID:   req.ReferenceID,
		Amount:        req.Amount,
		PaymentMode:   ledger.PaymentMode(req.PaymentMode),
		Date:          date,
		Narration:     req.Narration,
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
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
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
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
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
	receipts, err := h.service.ListByFarmer(r.Context(), identity.CompanyID, farmerID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipts)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var exceeded *shared.BalanceExceededError
	switch {
	case errors.As(err, &exceeded):
		httpx.ProblemWithMeta(w, http.StatusUnprocessableEntity, "Balance Exceeded", exceeded.Error(), map[string]any{
			"attempted": exceeded.Attempted,
			"remaining": exceeded.Remaining,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, advance.ErrNotFound), errors.Is(err, loan.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, advance.ErrCancelled), errors.Is(err, loan.ErrTerminal):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ledger.ErrPostingFailed):
		h.logger.Error("receipt posting failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Posting Failed", "accounting entry could not be created")
	default:
		h.logger.Error("receipt handler failure", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
