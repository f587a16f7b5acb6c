package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
)

type Handler struct {
	publisher      *publisher.Publisher
	maxBodyBytes   int64
	maxTitleLength int
	logger         *slog.Logger
}

func New(pub *publisher.Publisher, maxBodyBytes int64, maxTitleLength int) *Handler {
	return &Handler{
		publisher:      pub,
		maxBodyBytes:   maxBodyBytes,
		maxTitleLength: maxTitleLength,
		logger:         slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the document administration routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Create)
	mux.HandleFunc("GET /api/v1/documents", h.List)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/documents/{id}/archive", h.Archive)
	mux.HandleFunc("POST /api/v1/documents/{id}/view", h.View)
	mux.HandleFunc("POST /api/v1/documents/{id}/favorite", h.Favorite)
	mux.HandleFunc("GET /health", h.Health)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	resp, err := h.publisher.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create", err)
		return
	}
	logger.FromContext(r.Context()).Info("document created", "doc_id", resp.DocumentID, "status", resp.Status)
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	resp, err := h.publisher.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, r, "update", err)
		return
	}
	logger.FromContext(r.Context()).Info("document updated",
		"doc_id", resp.DocumentID,
		"kind", resp.Kind,
		"version", resp.Version,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.publisher.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	filter := ingestion.ListFilter{
		Type:       document.Type(params.Get("type")),
		Department: document.Department(params.Get("department")),
		Status:     document.Status(params.Get("status")),
	}
	resp, err := h.publisher.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	resp, err := h.publisher.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "archive", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	resp, err := h.publisher.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "delete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	if err := h.publisher.RecordView(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, "view", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Favorite(w http.ResponseWriter, r *http.Request) {
	if err := h.publisher.RecordFavorite(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, "favorite", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*ingestion.DocumentRequest, bool) {
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	var req ingestion.DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if err := validator.Validate(&req, h.maxTitleLength); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status := apperrors.HTTPStatusCode(err); status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("document operation failed",
			"op", op,
			"error", err,
			"status_code", status,
		)
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

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
