package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dairyledger/dairyledger/internal/platform/httpx"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// Handler wires voucher and ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the posting engine.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledgers", h.listLedgers)
	r.Get("/ledgers/{id}", h.getLedger)
	r.Post("/ledgers/{id}/deactivate", h.deactivateLedger)
	r.Get("/vouchers", h.listVouchers)
	r.Get("/vouchers/{id}", h.getVoucher)
	r.Post("/vouchers", h.postVoucher)
	r.Post("/vouchers/{id}/cancel", h.cancelVoucher)
}

type voucherEntryRequest struct {
	Ledger string  `json:"ledger" validate:"required"`
	Group  string  `json:"group"`
	Debit  float64 `json:"debit" validate:"gte=0"`
	Credit float64 `json:"credit" validate:"gte=0"`
}

type postVoucherRequest struct {
	Type      string                `json:"type" validate:"required,oneof=PAYMENT RECEIPT"`
	Date      string                `json:"date" validate:"required"`
	Narration string                `json:"narration"`
	Entries   []voucherEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

func (h *Handler) postVoucher(w http.ResponseWriter, r *http.Request) {
	var req postVoucherRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	input := PostingInput{
		CompanyID:    identity.CompanyID,
		ActorID:      identity.ActorID,
		Type:         VoucherType(req.Type),
		Date:         date,
		Narration:    req.Narration,
		SourceModule: "manual",
		SourceID:     uuid.New(),
	}
	for _, entry := range req.Entries {
		input.Entries = append(input.Entries, EntryInput{
			LedgerName: entry.Ledger,
			Group:      Group(entry.Group),
			Debit:      entry.Debit,
			Credit:     entry.Credit,
		})
	}
	voucher, err := h.service.Post(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, voucher)
}

func (h *Handler) cancelVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid voucher id")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	reversal, err := h.service.Cancel(r.Context(), identity.CompanyID, id, identity.ActorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reversal)
}

func (h *Handler) getVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid voucher id")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	voucher, err := h.service.GetVoucher(r.Context(), identity.CompanyID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, voucher)
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	filter := VoucherFilter{Limit: 100}
	if t := r.URL.Query().Get("type"); t != "" {
		filter.Type = VoucherType(t)
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if parsed, err := time.Parse("2006-01-02", from); err == nil {
			filter.DateFrom = parsed
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if parsed, err := time.Parse("2006-01-02", to); err == nil {
			filter.DateTo = parsed
		}
	}
	vouchers, err := h.service.ListVouchers(r.Context(), identity.CompanyID, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vouchers)
}

func (h *Handler) listLedgers(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	accounts, err := h.service.ListLedgers(r.Context(), identity.CompanyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid ledger id")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	account, err := h.service.GetLedger(r.Context(), identity.CompanyID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) deactivateLedger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid ledger id")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	if err := h.service.DeactivateLedger(r.Context(), identity.CompanyID, id, identity.ActorID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrImbalanced), errors.Is(err, ErrNoEntries):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Imbalanced Voucher", err.Error())
	case errors.Is(err, ErrVoucherNotFound), errors.Is(err, ErrLedgerNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyCancelled):
		httpx.Problem(w, http.StatusConflict, "Already Cancelled", err.Error())
	default:
		h.logger.Error("ledger handler failure", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
