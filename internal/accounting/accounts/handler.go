package accounts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/httpx"
)

type Handler struct {
	resolver *Resolver
	logger   *slog.Logger
}

func NewHandler(logger *slog.Logger, resolver *Resolver) *Handler {
	return &Handler{logger: logger, resolver: resolver}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/resolve", h.Resolve)
	r.Patch("/{id}/classification", h.Reclassify)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.resolver.List(r.Context())
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, accounts)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	kind := LinkKind(r.URL.Query().Get("kind"))
	var entityID int64
	if raw := r.URL.Query().Get("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			httpx.BadRequest(w, "invalid entity_id")
			return
		}
		entityID = id
	}
	account, err := h.resolver.Resolve(r.Context(), kind, entityID)
	if err != nil {
		h.logger.Warn("resolve account", slog.String("kind", string(kind)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, account)
}

type reclassifyRequest struct {
	Type AccountType `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	Side NormalSide  `json:"side" validate:"required,oneof=DEBIT CREDIT"`
}

func (h *Handler) Reclassify(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.BadRequest(w, "invalid id")
		return
	}
	var req reclassifyRequest
	if !httpx.Bind(w, r, &req) {
		return
	}
	if err := h.resolver.Reclassify(r.Context(), id, req.Type, req.Side); err != nil {
		h.logger.Warn("reclassify account", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}
