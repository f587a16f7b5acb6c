package analytics

import "time"

type EventType string

const (
	EventSearch        EventType = "search"
	EventInstantSearch EventType = "instant_search"
	EventDocument      EventType = "document"
)

type SearchEvent struct {
	Type EventType `json:"type"`
	// Query is the normalized query text.
	Query      string    `json:"query"`
	Terms      []string  `json:"terms"`
	Filters    string    `json:"filters,omitempty"`
	TotalCount int       `json:"totalCount"`
	Returned   int       `json:"returned"`
	LatencyMs  float64   `json:"latencyMs"`
	CacheHit   bool      `json:"cacheHit"`
	Generation uint64    `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"requestId,omitempty"`
}

// DocumentEvent records an indexing outcome for one document.
type DocumentEvent struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"documentId"`
	Action     string    `json:"action"`
	Version    int64     `json:"version,omitempty"`
	Rejected   bool      `json:"rejected,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
