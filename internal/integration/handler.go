package integration

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/httpx"
)

// Enqueuer schedules journalization in the background.
type Enqueuer interface {
	EnqueueJournalize(ctx context.Context, docType string, id int64) error
}

type Handler struct {
	journalizer *Journalizer
	enqueuer    Enqueuer
	logger      *slog.Logger
}

func NewHandler(logger *slog.Logger, journalizer *Journalizer, enqueuer Enqueuer) *Handler {
	return &Handler{logger: logger, journalizer: journalizer, enqueuer: enqueuer}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{type}/{id}/journal", h.Journalize)
}

// Journalize books the document synchronously, or enqueues it when async=true.
func (h *Handler) Journalize(w http.ResponseWriter, r *http.Request) {
	docType := DocumentType(strings.ToUpper(chi.URLParam(r, "type")))
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	if !docType.Valid() {
		httpx.BadRequest(w, "unsupported document type")
		return
	}
	if r.URL.Query().Get("async") == "true" && h.enqueuer != nil {
		if err := h.enqueuer.EnqueueJournalize(r.Context(), string(docType), id); err != nil {
			h.logger.Error("enqueue journalize", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.OK(w, http.StatusAccepted, map[string]any{"source_type": docType, "source_id": id})
		return
	}
	entry, err := h.journalizer.Journalize(r.Context(), docType, id)
	if err != nil {
		h.logger.Warn("journalize document", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, entry)
}
