// Package ingestion defines the request and response types of the document
// administration service.
package ingestion

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
)

// Content formats accepted on create and update.
const (
	FormatText = "text"
	FormatHTML = "html"
)

// DocumentRequest is the JSON body of create and update calls. ID is
// optional on create; one is generated when absent.
type DocumentRequest struct {
	ID            string              `json:"id,omitempty"`
	Title         string              `json:"title"`
	Content       string              `json:"content"`
	ContentFormat string              `json:"contentFormat,omitempty"`
	Type          document.Type       `json:"type"`
	Department    document.Department `json:"department"`
	Author        string              `json:"author,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	Status        document.Status     `json:"status,omitempty"`
}

// Document converts the request into a record. Content is taken as is;
// callers convert HTML first.
func (r *DocumentRequest) Document() *document.Document {
	return &document.Document{
		ID:         strings.TrimSpace(r.ID),
		Title:      strings.TrimSpace(r.Title),
		Content:    r.Content,
		Type:       r.Type,
		Department: r.Department,
		Author:     strings.TrimSpace(r.Author),
		Tags:       document.NormalizeTags(r.Tags),
		Status:     r.Status,
	}
}

// DocumentResponse is returned after a mutation.
type DocumentResponse struct {
	DocumentID string              `json:"documentId"`
	Kind       document.ChangeKind `json:"kind"`
	Version    int64               `json:"version"`
	Status     document.Status     `json:"status,omitempty"`
}

// ListFilter narrows a document listing. Empty fields match everything.
type ListFilter struct {
	Type       document.Type
	Department document.Department
	Status     document.Status
}

func (f ListFilter) Match(doc *document.Document) bool {
	return (f.Type == "" || doc.Type == f.Type) &&
		(f.Department == "" || doc.Department == f.Department) &&
		(f.Status == "" || doc.Status == f.Status)
}

type ListResponse struct {
	Documents []*document.Document `json:"documents"`
	Total     int                  `json:"total"`
}
