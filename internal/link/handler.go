package link

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/linksapi/links/internal/errx"
	"github.com/linksapi/links/internal/httpx"
)

// csvHeader is the column order of the CSV export.
var csvHeader = []string{"id", "url", "title", "tags", "notes", "created_at", "updated_at"}

// BulkResponse is the JSON body returned by listing and bulk creation.
type BulkResponse struct {
	Links []Link `json:"links"`
	Total int    `json:"total"`
}

// ExportResponse is the JSON body of the full export.
type ExportResponse struct {
	Links []Link `json:"links"`
}

// DeleteResponse is the JSON body of a successful delete.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// Handler provides the HTTP handlers for link records.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
	}
}

// Register mounts the link routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/links", h.List).Methods(http.MethodGet)
	r.HandleFunc("/links", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/links/bulk", h.CreateBulk).Methods(http.MethodPost)
	r.HandleFunc("/links/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/links/{id}", h.Update).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/links/{id}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/export.json", h.ExportJSON).Methods(http.MethodGet)
	r.HandleFunc("/export.csv", h.ExportCSV).Methods(http.MethodGet)
}

// List handles GET /links?limit=&offset=&tag=&q=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := httpx.QueryInt(r, "limit", DefaultLimit)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}

	query := r.URL.Query()
	page, err := h.service.List(ctx, ListQuery{
		Limit:  limit,
		Offset: offset,
		Tag:    query.Get("tag"),
		Query:  query.Get("q"),
	})
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, BulkResponse{Links: page.Links, Total: page.Total})
}

// Create handles POST /links.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	d, err := httpx.DecodeJSON[Draft](r)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to decode draft",
			"request_id", httpx.GetRequestID(ctx),
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	created, err := h.service.Create(ctx, d)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	h.logger.InfoContext(ctx, "link created",
		"request_id", httpx.GetRequestID(ctx),
		"link_id", created.ID,
	)
	httpx.WriteJSON(w, http.StatusCreated, created)
}

// CreateBulk handles POST /links/bulk with a JSON array of drafts.
func (h *Handler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ds, err := httpx.DecodeJSON[[]Draft](r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	created, err := h.service.CreateBulk(ctx, ds)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	h.logger.InfoContext(ctx, "links created in bulk",
		"request_id", httpx.GetRequestID(ctx),
		"count", len(created),
	)
	httpx.WriteJSON(w, http.StatusCreated, BulkResponse{Links: created, Total: len(created)})
}

// Get handles GET /links/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	l, err := h.service.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, l)
}

// Update handles PUT and PATCH /links/{id}. Only fields present and non-null
// in the body change.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := httpx.DecodeJSON[Patch](r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	l, err := h.service.Update(ctx, mux.Vars(r)["id"], p)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, l)
}

// Delete handles DELETE /links/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	ok, err := h.service.Delete(ctx, id)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	if !ok {
		h.handleError(ctx, w, errx.E("link.handler.Delete", errx.NotFound, ErrNotFound))
		return
	}

	h.logger.InfoContext(ctx, "link deleted",
		"request_id", httpx.GetRequestID(ctx),
		"link_id", id,
	)
	httpx.WriteJSON(w, http.StatusOK, DeleteResponse{Deleted: true})
}

// ExportJSON handles GET /export.json.
func (h *Handler) ExportJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	links, err := h.service.Export(ctx)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ExportResponse{Links: links})
}

// ExportCSV handles GET /export.csv.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	links, err := h.service.Export(ctx)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="links.csv"`)
	w.WriteHeader(http.StatusOK)

	if err := WriteCSV(w, links); err != nil {
		h.logger.ErrorContext(ctx, "failed to write csv export",
			"request_id", httpx.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
}

// WriteCSV writes links as CSV with a header row. Tags are joined with commas
// and missing title/notes are written as empty cells.
func WriteCSV(w io.Writer, links []Link) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, l := range links {
		record := []string{
			l.ID,
			l.URL,
			deref(l.Title),
			strings.Join(l.Tags, ","),
			deref(l.Notes),
			l.CreatedAt.UTC().Format(time.RFC3339Nano),
			l.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// handleError maps a service error to a JSON error response.
func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"request_id", httpx.GetRequestID(ctx),
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	status := httpx.ErrorKindToStatus(kind)
	code := httpx.ErrorKindToCode(kind)

	switch kind {
	case errx.NotFound:
		h.logger.WarnContext(ctx, "link not found", logAttrs...)
		httpx.WriteError(w, status, code, "Link not found", nil)

	case errx.Invalid:
		h.logger.WarnContext(ctx, "invalid link request", logAttrs...)
		var ve *ValidationError
		if errors.As(err, &ve) {
			httpx.WriteError(w, status, "validation_failed", ve.Error(),
				map[string]string{"field": ve.Field})
			return
		}
		httpx.WriteError(w, status, code, err.Error(), nil)

	case errx.Integrity:
		h.logger.ErrorContext(ctx, "write rejected by storage", logAttrs...)
		httpx.WriteError(w, status, code,
			"The links could not be stored; nothing was saved.", nil)

	case errx.Unavailable:
		h.logger.ErrorContext(ctx, "storage unavailable", logAttrs...)
		httpx.WriteError(w, status, code,
			"Storage is unavailable at this time. Please try again.", nil)

	default:
		h.logger.ErrorContext(ctx, "unexpected storage error", logAttrs...)
		httpx.WriteError(w, status, code, "An unexpected error occurred.", nil)
	}
}
