// Package document defines the versioned knowledge records that the search
// core indexes, and the Store through which they are read and mutated.
// The store is the single source of truth; the index is derived from it.
package document

import (
	"slices"
	"strings"
	"time"
)

// Type classifies a knowledge record.
type Type string

const (
	TypeRegulation Type = "regulation"
	TypeSOP        Type = "sop"
	TypeCase       Type = "case"
	TypeFAQ        Type = "faq"
)

func (t Type) Valid() bool {
	switch t {
	case TypeRegulation, TypeSOP, TypeCase, TypeFAQ:
		return true
	}
	return false
}

// Department is the owning unit of a record. The set is closed.
type Department string

const (
	DeptCredit        Department = "credit"
	DeptInvestigation Department = "investigation"
	DeptDeposit       Department = "deposit"
	DeptDigital       Department = "digital"
	DeptCompliance    Department = "compliance"
	DeptForex         Department = "forex"
)

var departmentNames = map[Department]string{
	DeptCredit:        "授信部",
	DeptInvestigation: "徵信部",
	DeptDeposit:       "存匯部",
	DeptDigital:       "電金部",
	DeptCompliance:    "法遵部",
	DeptForex:         "外匯部",
}

func (d Department) Valid() bool {
	_, ok := departmentNames[d]
	return ok
}

// DisplayName returns the department's name as shown in the portal.
func (d Department) DisplayName() string {
	return departmentNames[d]
}

// Departments lists the closed department set in a stable order.
func Departments() []Department {
	return []Department{DeptCredit, DeptInvestigation, DeptDeposit, DeptDigital, DeptCompliance, DeptForex}
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Document is one knowledge record. ID never changes once assigned.
type Document struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	Content    string     `json:"content" yaml:"content"`
	Type       Type       `json:"type" yaml:"type"`
	Department Department `json:"department" yaml:"department"`
	Author     string     `json:"author,omitempty" yaml:"author"`
	Tags       []string   `json:"tags" yaml:"tags"`
	Status     Status     `json:"status" yaml:"status"`
	Version    int64      `json:"version" yaml:"version"`
	CreatedAt  time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt" yaml:"updatedAt"`
	Views      int64      `json:"views" yaml:"views"`
	Favorites  int64      `json:"favorites" yaml:"favorites"`
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Tags = slices.Clone(d.Tags)
	return &c
}

// Published reports whether the record belongs in the search index.
func (d *Document) Published() bool {
	return d != nil && d.Status == StatusPublished
}

// NormalizeTags trims, drops empties and de-duplicates. The result is sorted
// since tag order carries no meaning.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func sameTags(a, b []string) bool {
	return slices.Equal(NormalizeTags(a), NormalizeTags(b))
}
