// Package listview implements the filter, sort and pagination state machine
// behind every admin table.
package listview

import (
	"context"
	"errors"
	"maps"
	"strings"
)

type Mode int

const (
	// ModeServer trusts the total reported by the backend and fetches one page at a time.
	ModeServer Mode = iota
	// ModeClient fetches one capped batch and pages over it locally.
	ModeClient
)

func (m Mode) String() string {
	if m == ModeClient {
		return "client"
	}
	return "server"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

type FieldKind int

const (
	// Text fields are typed into and fetch after a quiet period.
	Text FieldKind = iota
	// Choice fields (select boxes) fetch immediately.
	Choice
)

type Field struct {
	Key     string
	Kind    FieldKind
	Default string
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

var (
	ErrUnknownFilter = errors.New("unknown filter")
	ErrUnknownSort   = errors.New("unknown sort field")
	ErrSortOrder     = errors.New("sort order must be asc or desc")
)

// Query is the state sent to the backend on each fetch.
type Query struct {
	Filters   map[string]string `json:"filters"`
	Page      int               `json:"page"`
	Limit     int               `json:"limit"`
	SortBy    string            `json:"sort_by,omitempty"`
	SortOrder string            `json:"sort_order,omitempty"`
}

func (q Query) Filter(key string) string {
	return q.Filters[key]
}

func (q Query) clone() Query {
	q.Filters = maps.Clone(q.Filters)
	if q.Filters == nil {
		q.Filters = map[string]string{}
	}
	return q
}

// TotalPages is max(1, ceil(n/limit)).
func TotalPages(n, limit int) int {
	if limit <= 0 || n <= 0 {
		return 1
	}
	return (n + limit - 1) / limit
}

func normalizeOrder(order string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", SortAsc:
		return SortAsc, nil
	case SortDesc:
		return SortDesc, nil
	default:
		return "", ErrSortOrder
	}
}

// View is a controller seen without its row type.
type View interface {
	Name() string
	Load() bool
	SetFilter(key, value string) error
	SetPage(n int) bool
	Next() bool
	Prev() bool
	SetLimit(n int) bool
	SetSort(by, order string) error
	Refresh()
	Reset()
	Invalidate()
	Settle(ctx context.Context) error
	State() any
	Close()
}
