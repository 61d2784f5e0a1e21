package farmerledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dairyledger/dairyledger/internal/platform/httpx"
	"github.com/dairyledger/dairyledger/internal/shared"
)

// Handler wires the farmer ledger read endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers farmer ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/farmers/{farmerID}/statement", h.statement)
	r.Get("/farmers/{farmerID}/outstanding", h.outstanding)
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	farmerID, err := strconv.ParseInt(chi.URLParam(r, "farmerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid farmer id")
		return
	}
	from, err := parseDateParam(r, "from")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	st, err := h.service.GetStatement(r.Context(), identity.CompanyID, farmerID, from, to)
	if err != nil {
		h.logger.Error("statement failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	farmerID, err := strconv.ParseInt(chi.URLParam(r, "farmerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid farmer id")
		return
	}
	identity := shared.IdentityFromContext(r.Context())
	out, err := h.service.GetOutstandingByType(r.Context(), identity.CompanyID, farmerID)
	if err != nil {
		h.logger.Error("outstanding failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func parseDateParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
