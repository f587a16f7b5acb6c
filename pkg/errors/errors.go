// Package errors names the failure kinds shared by the ARK services and
// decides how each one is reported over HTTP.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrMalformedDocument  = errors.New("malformed document")
	ErrEmptyQuery         = errors.New("empty query")
	ErrNotFound           = errors.New("document not found")
	ErrConflict           = errors.New("document already exists")
	ErrUnsupported        = errors.New("not supported by this store")
	ErrIndexInconsistency = errors.New("index inconsistency")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrUnavailable        = errors.New("dependency unavailable")
	ErrTimeout            = errors.New("operation timed out")
)

// kinds is checked in order; the first sentinel err matches decides.
var kinds = []struct {
	err    error
	status int
	code   string
}{
	{ErrEmptyQuery, http.StatusBadRequest, "empty_query"},
	{ErrMalformedDocument, http.StatusBadRequest, "malformed_document"},
	{ErrValidation, http.StatusBadRequest, "validation"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrUnsupported, http.StatusNotImplemented, "unsupported"},
	{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{ErrTimeout, http.StatusGatewayTimeout, "timeout"},
	{ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
	{ErrIndexInconsistency, http.StatusInternalServerError, "index_inconsistency"},
}

// AppError is a failure with a message safe to show to API clients.
type AppError struct {
	Kind    error
	Message string
}

func New(kind error, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func Newf(kind error, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *AppError) Error() string { return e.Kind.Error() + ": " + e.Message }
func (e *AppError) Unwrap() error { return e.Kind }

// IsValidation reports whether err is caller input that can never succeed:
// empty queries and malformed documents included.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMalformedDocument) ||
		errors.Is(err, ErrEmptyQuery)
}

func HTTPStatusCode(err error) int {
	status, _ := classify(err)
	return status
}

// Code is the machine-readable kind of err, "internal" when unknown.
func Code(err error) string {
	_, code := classify(err)
	return code
}

func classify(err error) (int, string) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// PublicMessage is what a client may see: the AppError message if there
// is one, the full text of other client errors, and nothing about server
// faults.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if HTTPStatusCode(err) < http.StatusInternalServerError {
		return err.Error()
	}
	return "internal error"
}

// Body is the JSON error response of every ARK endpoint.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Write sends err as a Body with its status.
func Write(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatusCode(err))
	_ = json.NewEncoder(w).Encode(Body{Error: PublicMessage(err), Code: Code(err)})
}
