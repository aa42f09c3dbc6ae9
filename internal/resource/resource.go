// Package resource holds one typed client per backend domain: auth, users,
// game rooms, game sessions and the leaderboard.
package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"arcadeops/admin-console/internal/apiclient"
)

// Dispatcher performs one backend call. *apiclient.Client satisfies it.
type Dispatcher interface {
	Do(ctx context.Context, req apiclient.Request) (json.RawMessage, error)
}

// Keyed rows expose the stable identity used as render key and detail target.
type Keyed interface {
	Key() string
}

// Page is one fetched slice of a list endpoint.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// ListParams are the paging and sort keys every list endpoint accepts.
type ListParams struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

func (p ListParams) apply(q url.Values) {
	setInt(q, "page", p.Page)
	setInt(q, "limit", p.Limit)
	setString(q, "sortBy", p.SortBy)
	setString(q, "sortOrder", strings.ToLower(p.SortOrder))
}

// setString skips blank values so the backend never sees "" as a filter.
func setString(q url.Values, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		q.Set(key, v)
	}
}

func setInt(q url.Values, key string, n int) {
	if n > 0 {
		q.Set(key, strconv.Itoa(n))
	}
}

func entityPath(prefix, id string, rest ...string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%s: id is required", prefix)
	}
	p := prefix + "/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p, nil
}

type listEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Items json.RawMessage `json:"items"`
	Total *int            `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// decodePage accepts a bare array, {data: [...]}, {ok, data} or
// {data, total, page, limit}. A missing total falls back to the row count.
func decodePage[T any](payload json.RawMessage, params ListParams) (Page[T], error) {
	out := Page[T]{Page: params.Page, Limit: params.Limit}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || string(payload) == "null" {
		out.Items = []T{}
		return out, nil
	}

	rows := payload
	if payload[0] == '{' {
		var env listEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return Page[T]{}, fmt.Errorf("decode list envelope: %w", err)
		}
		rows = env.Data
		if len(bytes.TrimSpace(rows)) == 0 {
			rows = env.Items
		}
		// Some endpoints nest the paging block inside data.
		if trimmed := bytes.TrimSpace(rows); len(trimmed) > 0 && trimmed[0] == '{' {
			var inner listEnvelope
			if err := json.Unmarshal(trimmed, &inner); err != nil {
				return Page[T]{}, fmt.Errorf("decode list envelope: %w", err)
			}
			rows = inner.Items
			if len(bytes.TrimSpace(rows)) == 0 {
				rows = inner.Data
			}
			if env.Total == nil {
				env.Total = inner.Total
			}
			if env.Page == 0 {
				env.Page = inner.Page
			}
			if env.Limit == 0 {
				env.Limit = inner.Limit
			}
		}
		if env.Total != nil {
			out.Total = max(0, *env.Total)
		}
		if env.Page > 0 {
			out.Page = env.Page
		}
		if env.Limit > 0 {
			out.Limit = env.Limit
		}
		if env.Total == nil {
			out.Total = -1
		}
	} else {
		out.Total = -1
	}

	if trimmed := bytes.TrimSpace(rows); len(trimmed) > 0 && string(trimmed) != "null" {
		if err := json.Unmarshal(trimmed, &out.Items); err != nil {
			return Page[T]{}, fmt.Errorf("decode list rows: %w", err)
		}
	}
	if out.Items == nil {
		out.Items = []T{}
	}
	if out.Total < 0 {
		out.Total = len(out.Items)
	}
	return out, nil
}

// decodeData unwraps an optional {data: ...} envelope into out.
func decodeData(payload json.RawMessage, out any) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || string(payload) == "null" {
		return &apiclient.Error{Kind: apiclient.KindUnexpected, Message: "empty response body"}
	}
	if payload[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(payload, &env); err == nil {
			if d := bytes.TrimSpace(env.Data); len(d) > 0 && string(d) != "null" {
				payload = d
			}
		}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
