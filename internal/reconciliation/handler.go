package reconciliation

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers setoff routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/rebuild", h.Rebuild)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Patch("/details/{id}", h.UpdateDetail)
}

// MountSourceLineRoutes registers the outstanding balance query.
func (h *Handler) MountSourceLineRoutes(r chi.Router) {
	r.Get("/{type}/{id}", h.Outstanding)
}

type updateDetailRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type outstandingResponse struct {
	SourceLine
	Remaining decimal.Decimal `json:"remaining"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var input CreateSetoffInput
	if !httpx.Bind(w, r, &input) {
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	setoff, err := h.service.CreateSetoff(r.Context(), input)
	if err != nil {
		h.fail(w, "create setoff", err)
		return
	}
	httpx.OK(w, http.StatusCreated, setoff)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	setoff, err := h.service.GetSetoff(r.Context(), id)
	if err != nil {
		h.fail(w, "get setoff", err)
		return
	}
	httpx.OK(w, http.StatusOK, setoff)
}

func (h *Handler) UpdateDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	var req updateDetailRequest
	if !httpx.Bind(w, r, &req) {
		return
	}
	detail, err := h.service.UpdateDetail(r.Context(), id, req.Amount)
	if err != nil {
		h.fail(w, "update setoff detail", err)
		return
	}
	httpx.OK(w, http.StatusOK, detail)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	if err := h.service.DeleteSetoff(r.Context(), id); err != nil {
		h.fail(w, "delete setoff", err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	sourceType := SourceType(strings.ToUpper(r.URL.Query().Get("source_type")))
	results, err := h.service.Rebuild(r.Context(), sourceType)
	if err != nil && !errors.Is(err, ErrOverSettled) {
		h.fail(w, "rebuild settled cache", err)
		return
	}
	if err != nil {
		h.logger.Error("rebuild found over-settled lines", slog.Any("error", err))
		httpx.JSON(w, http.StatusOK, shared.Result{Success: false, Error: err.Error(), Data: results})
		return
	}
	httpx.OK(w, http.StatusOK, results)
}

func (h *Handler) Outstanding(w http.ResponseWriter, r *http.Request) {
	sourceType := SourceType(strings.ToUpper(chi.URLParam(r, "type")))
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	line, err := h.service.Outstanding(r.Context(), sourceType, id)
	if err != nil {
		h.fail(w, "get source line", err)
		return
	}
	httpx.OK(w, http.StatusOK, outstandingResponse{SourceLine: line, Remaining: line.Remaining()})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
