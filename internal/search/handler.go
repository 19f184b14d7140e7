package search

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/linksapi/links/internal/errx"
	"github.com/linksapi/links/internal/httpx"
)

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, q string, num int) (Response, error)
}

// Handler serves the search proxy.
type Handler struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(searcher Searcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{searcher: searcher, logger: logger}
}

// Register mounts GET /search_google on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/search_google", h.Search).Methods(http.MethodGet)
}

// Search handles GET /search_google?q=&num=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := r.URL.Query().Get("q")
	if q == "" {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "query parameter q is required",
			map[string]string{"field": "q"})
		return
	}
	num, err := httpx.QueryInt(r, "num", DefaultNum)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(),
			map[string]string{"field": "num"})
		return
	}

	resp, err := h.searcher.Search(ctx, q, num)
	if err != nil {
		kind := errx.KindOf(err)
		h.logger.WarnContext(ctx, "search failed",
			"request_id", httpx.GetRequestID(ctx),
			"error", err.Error(),
			"error_kind", kind,
		)
		switch kind {
		case errx.Invalid:
			httpx.WriteKindError(w, err, err.Error())
		case errx.Unavailable:
			httpx.WriteKindError(w, err, "Search is not configured.")
		case errx.Upstream:
			httpx.WriteKindError(w, err, "The search provider returned an error.")
		default:
			httpx.WriteKindError(w, err, "An unexpected error occurred.")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}
