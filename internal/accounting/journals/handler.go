package journals

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

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

type listResponse struct {
	Entries    []JournalEntry    `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pager := shared.NewPagination(page, perPage, 0)
	filter := ListFilter{
		Status:     Status(q.Get("status")),
		SourceType: q.Get("source_type"),
		Limit:      pager.PerPage,
		Offset:     pager.Offset(),
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.BadRequest(w, key+" must be YYYY-MM-DD")
			return
		}
		*dst = &parsed
	}
	entries, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list journals", err)
		return
	}
	httpx.OK(w, http.StatusOK, listResponse{Entries: entries, Pagination: shared.NewPagination(pager.Page, pager.PerPage, total)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get journal", err)
		return
	}
	httpx.OK(w, http.StatusOK, entry)
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var input SaveInput
	if !httpx.Bind(w, r, &input) {
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	entry, err := h.service.Save(r.Context(), input)
	if err != nil {
		h.fail(w, "save journal", err)
		return
	}
	status := http.StatusOK
	if input.ID == 0 {
		status = http.StatusCreated
	}
	httpx.OK(w, status, entry)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	entry, err := h.service.Post(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "post journal", err)
		return
	}
	httpx.OK(w, http.StatusOK, entry)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	var input ReverseInput
	if r.ContentLength != 0 && !httpx.Bind(w, r, &input) {
		return
	}
	input.EntryID = id
	input.ActorID = shared.ActorFromContext(r.Context())
	entry, err := h.service.Reverse(r.Context(), input)
	if err != nil {
		h.fail(w, "reverse journal", err)
		return
	}
	httpx.OK(w, http.StatusCreated, entry)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
