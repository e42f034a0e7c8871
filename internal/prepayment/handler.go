package prepayment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/httpx"
)

// SetoffUsages changes usages together with the setoff they belong to.
type SetoffUsages interface {
	AddPrepaymentUsage(ctx context.Context, prepaymentID, setoffID int64, amount decimal.Decimal) (Usage, error)
	UpdatePrepaymentUsage(ctx context.Context, usageID int64, amount decimal.Decimal) (Usage, error)
	ReleasePrepaymentUsage(ctx context.Context, usageID int64) error
}

type Handler struct {
	service *Service
	usages  SetoffUsages
	logger  *slog.Logger
}

// NewHandler serves prepayment reads from service and routes usage writes
// through usages so setoff headers stay in step.
func NewHandler(logger *slog.Logger, service *Service, usages SetoffUsages) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, usages: usages}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.Get)
	r.Post("/{id}/usages", h.Use)
	r.Patch("/usages/{id}", h.Update)
	r.Delete("/usages/{id}", h.Release)
}

type useRequest struct {
	SetoffID int64           `json:"setoff_id" validate:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount"`
}

type updateRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get prepayment", err)
		return
	}
	httpx.OK(w, http.StatusOK, p)
}

func (h *Handler) Use(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	var req useRequest
	if !httpx.Bind(w, r, &req) {
		return
	}
	usage, err := h.usages.AddPrepaymentUsage(r.Context(), id, req.SetoffID, req.Amount)
	if err != nil {
		h.fail(w, "use prepayment", err)
		return
	}
	httpx.OK(w, http.StatusCreated, usage)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	var req updateRequest
	if !httpx.Bind(w, r, &req) {
		return
	}
	usage, err := h.usages.UpdatePrepaymentUsage(r.Context(), id, req.Amount)
	if err != nil {
		h.fail(w, "update prepayment usage", err)
		return
	}
	httpx.OK(w, http.StatusOK, usage)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	if err := h.usages.ReleasePrepaymentUsage(r.Context(), id); err != nil {
		h.fail(w, "release prepayment usage", err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
