package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/httpx"
)

// Handler mengekspos audit timeline sebagai JSON.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler membuat handler audit.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes mendaftarkan route audit.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.Timeline)
}

// Timeline menerima filter from, to (RFC3339), actor_id, entity, entity_id,
// action, page dan page_size.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	filters, msg := parseFilters(r)
	if msg != "" {
		httpx.BadRequest(w, msg)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (TimelineFilters, string) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
	}
	for name, target := range map[string]*time.Time{"from": &filters.From, "to": &filters.To} {
		if raw := q.Get(name); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filters, "invalid " + name
			}
			*target = ts
		}
	}
	for name, target := range map[string]*int{"page": &filters.Page, "page_size": &filters.PageSize} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return filters, "invalid " + name
			}
			*target = n
		}
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filters, "invalid actor_id"
		}
		filters.ActorID = id
	}
	return filters, ""
}
