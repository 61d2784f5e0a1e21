package loan

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

// Handler wires loan endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers loan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/loans", h.disburse)
	r.Get("/loans/{id}", h.get)
	r.Post("/loans/{id}/emi-payments", h.recordEMIPayment)
	r.Post("/loans/{id}/cancel", h.cancel)
	r.Post("/loans/{id}/check-overdue", h.checkOverdue)
	r.Get("/farmers/{farmerID}/loans", h.listByFarmer)
}

type disburseRequest struct {
	FarmerID       int64   `json:"farmer_id" validate:"required"`
	LoanType       string  `json:"loan_type" validate:"required,oneof=CASH_ADVANCE CF_ADVANCE LOAN_ADVANCE"`
	Scheme         string  `json:"scheme" validate:"omitempty,oneof=MONTHLY WEEKLY CUSTOM"`
	Principal      float64 `json:"principal" validate:"required,gt=0"`
	InterestType   string  `json:"interest_type" validate:"required,oneof=PERCENTAGE FLAT"`
	InterestRate   float64 `json:"interest_rate" validate:"gte=0"`
	InterestAmount float64 `json:"interest_amount" validate:"gte=0"`
	TotalEMI       int     `json:"total_emi" validate:"required,min=1"`
	PaymentMode    string  `json:"payment_mode" validate:"required,oneof=CASH BANK"`
	Date           string  `json:"date"`
	Narration      string  `json:"narration"`
}

func (h *Handler) disburse(w http.ResponseWriter, r *http.Request) {
	var req disburseRequest
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
	scheme := Scheme(req.Scheme)
	if scheme == "" {
		scheme = SchemeMonthly
	}
	identity := shared.IdentityFromContext(r.Context())
	created, err := h.service.Disburse(r.Context(), DisburseInput{
		CompanyID:      identity.CompanyID,
		ActorID:        identity.ActorID,
		FarmerID:       req.FarmerID,
		Type:           Type(req.LoanType),
		Scheme:         scheme,
		Principal:      req.Principal,
		InterestType:   InterestType(req.InterestType),
		InterestRate:   req.InterestRate,
		InterestAmount: req.InterestAmount,
		TotalEMI:       req.TotalEMI,
		PaymentMode:    ledger.PaymentMode(req.PaymentMode),
		Date:           date,
		Narration:      req.Narration,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

type emiPaymentRequest struct {
	EmiNumber int     `json:"emi_number" validate:"required,min=1"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) recordEMIPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
		return
	}
	var req emiPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	updated, err := h.service.RecordEMIPayment(r.Context(), identity.CompanyID, id, req.EmiNumber, req.Amount, identity.ActorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
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

func (h *Handler) checkOverdue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
		return
	}
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	identity := shared.IdentityFromContext(r.Context())
	changed, err := h.service.CheckOverdue(r.Context(), identity.CompanyID, id, asOf)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"defaulted": changed})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
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

func (h *Handler) listByFarmer(w http.ResponseWriter, r *http.Request) {
	farmerID, err := strconv.ParseInt(chi.URLParam(r, "farmerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid farmer id")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	loans, err := h.service.ListByFarmer(r.Context(), identity.CompanyID, farmerID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loans)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var exceeded *shared.BalanceExceededError
	switch {
	case errors.As(err, &exceeded):
		httpx.ProblemWithMeta(w, http.StatusUnprocessableEntity, "Balance Exceeded", err.Error(), map[string]any{
			"attempted": exceeded.Attempted,
			"remaining": exceeded.Remaining,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInstallmentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrTerminal), errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrServiced):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ledger.ErrPostingFailed):
		h.logger.Error("loan posting failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Posting Failed", "accounting entry could not be created")
	default:
		h.logger.Error("loan handler failure", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
