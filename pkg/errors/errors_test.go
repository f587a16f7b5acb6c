package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("get kb-404: %w", ErrNotFound), http.StatusNotFound, "not_found"},
		{"validation", ErrValidation, http.StatusBadRequest, "validation"},
		{"malformed", fmt.Errorf("indexing: %w", New(ErrMalformedDocument, "no title")), http.StatusBadRequest, "malformed_document"},
		{"empty query", ErrEmptyQuery, http.StatusBadRequest, "empty_query"},
		{"conflict", fmt.Errorf("create: %w", ErrConflict), http.StatusConflict, "conflict"},
		{"unsupported", New(ErrUnsupported, "no engagement counters"), http.StatusNotImplemented, "unsupported"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout, "timeout"},
		{"unavailable", ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{"inconsistency", ErrIndexInconsistency, http.StatusInternalServerError, "index_inconsistency"},
		{"unknown", fmt.Errorf("scan: connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatusCode(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrMalformedDocument, "document %q has no title", "kb-009")
	assert.ErrorIs(t, err, ErrMalformedDocument)
	assert.True(t, IsValidation(err))
	assert.Equal(t, `malformed document: document "kb-009" has no title`, err.Error())
	assert.False(t, IsValidation(ErrNotFound))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "unknown department \"龍\"",
		PublicMessage(fmt.Errorf("search: %w", Newf(ErrValidation, "unknown department %q", "龍"))))
	assert.Equal(t, `get "kb-1": document not found`,
		PublicMessage(fmt.Errorf("get %q: %w", "kb-1", ErrNotFound)))
	assert.Equal(t, "internal error",
		PublicMessage(fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")))
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, New(ErrConflict, `document "kb-001" already exists`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, Body{Error: `document "kb-001" already exists`, Code: "conflict"}, body)
}
