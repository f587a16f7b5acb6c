package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
)

const maxDocumentBytes = 2 << 20

type Handler struct {
	service *searcher.Service
	cache   *cache.QueryCache
	logger  *slog.Logger
}

// New creates the search API handler. queryCache may be nil when caching is
// disabled.
func New(service *searcher.Service, queryCache *cache.QueryCache) *Handler {
	return &Handler{
		service: service,
		cache:   queryCache,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search and index routes on mux. instant, when not nil,
// wraps the instant-search route only; keystroke traffic is rate limited
// there.
func (h *Handler) Register(mux *http.ServeMux, instant func(http.Handler) http.Handler) {
	var instantHandler http.Handler = http.HandlerFunc(h.InstantSearch)
	if instant != nil {
		instantHandler = instant(instantHandler)
	}
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.Handle("GET /api/v1/search/instant", instantHandler)
	mux.HandleFunc("POST /api/v1/index/documents", h.IndexDocument)
	mux.HandleFunc("DELETE /api/v1/index/documents/{id}", h.RemoveFromIndex)
	mux.HandleFunc("POST /api/v1/index/documents/{id}/archive", h.ArchiveDocument)
	mux.HandleFunc("POST /api/v1/index/rebuild", h.Rebuild)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search serves the full results view. Unparseable page or pageSize values
// fall back to the defaults.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	filters := searcher.Filters{
		Type:       document.Type(params.Get("type")),
		Department: document.Department(params.Get("department")),
	}
	page := intParam(params.Get("page"))
	pageSize := intParam(params.Get("pageSize"))

	resp, err := h.service.Search(r.Context(), params.Get("q"), filters, page, pageSize)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type instantResponse struct {
	*searcher.Response
	Seq *uint64 `json:"seq,omitempty"`
}

// InstantSearch echoes the client's seq parameter so the client can discard
// responses for input it has already replaced.
func (h *Handler) InstantSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit := intParam(params.Get("limit"))
	resp := h.service.InstantSearch(r.Context(), params.Get("q"), limit)

	out := instantResponse{Response: resp}
	if s := params.Get("seq"); s != "" {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			apperrors.Write(w, apperrors.New(apperrors.ErrValidation, "seq must be a non-negative integer"))
			return
		}
		out.Seq = &seq
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)
	var doc document.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		apperrors.Write(w, apperrors.Newf(apperrors.ErrValidation, "invalid document body: %v", err))
		return
	}

	res, err := h.service.IndexDocument(r.Context(), &doc)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if res.Rejected {
		h.writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RemoveFromIndex(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RemoveFromIndex(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if res.NotFound {
		h.writeJSON(w, http.StatusNotFound, res)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ArchiveDocument(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ArchiveDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Rebuild(r.Context())
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"report": report,
		"stats":  h.service.IndexStats(),
	})
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.IndexStats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  h.cache.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		apperrors.Write(w, apperrors.New(apperrors.ErrUnavailable, "caching is disabled"))
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeAppError(w, r, fmt.Errorf("invalidating cache: %w", err))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// intParam returns 0 for missing or malformed values so the service applies
// its defaults.
func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.HTTPStatusCode(err) >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	apperrors.Write(w, err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

