// Package validator checks document administration requests and reports
// every failing field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
)

const (
	maxIDLength  = 64
	maxTags      = 32
	maxTagLength = 64
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		names = append(names, field)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, field := range names {
		parts[i] = fmt.Sprintf("%s: %s", field, e.Fields[field])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrValidation
}

// Validate checks a create or update request. maxTitleLength counts
// characters, not bytes.
func Validate(req *ingestion.DocumentRequest, maxTitleLength int) error {
	errs := make(map[string]string)

	if id := strings.TrimSpace(req.ID); utf8.RuneCountInString(id) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	} else if strings.ContainsAny(id, "/?# ") {
		errs["id"] = "id must not contain '/', '?', '#' or spaces"
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		errs["title"] = "title is required"
	} else if maxTitleLength > 0 && utf8.RuneCountInString(title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}

	if !req.Type.Valid() {
		errs["type"] = fmt.Sprintf("unknown type %q", req.Type)
	}
	if !req.Department.Valid() {
		errs["department"] = fmt.Sprintf("unknown department %q", req.Department)
	}
	if req.Status != "" && !req.Status.Valid() {
		errs["status"] = fmt.Sprintf("unknown status %q", req.Status)
	}
	switch req.ContentFormat {
	case "", ingestion.FormatText, ingestion.FormatHTML:
	default:
		errs["contentFormat"] = "contentFormat must be text or html"
	}

	if len(req.Tags) > maxTags {
		errs["tags"] = fmt.Sprintf("at most %d tags are allowed", maxTags)
	} else {
		for _, tag := range req.Tags {
			if utf8.RuneCountInString(strings.TrimSpace(tag)) > maxTagLength {
				errs["tags"] = fmt.Sprintf("tags must be at most %d characters", maxTagLength)
				break
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
