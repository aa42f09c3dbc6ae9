package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"arcadeops/admin-console/internal/listview"
)

const settleTimeout = 10 * time.Second

type viewAction struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

func registerViewHandlers(mux *http.ServeMux, deps Deps) {
	mux.Handle("/v1/views", protect(deps, true, func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		names := make([]string, 0, len(deps.Views))
		for name := range deps.Views {
			names = append(names, name)
		}
		sort.Strings(names)
		writeJSON(w, http.StatusOK, map[string]any{"views": names})
	}))

	mux.Handle("/v1/views/", protect(deps, true, func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/views/"), "/")
		name, action, _ := strings.Cut(rest, "/")
		view, ok := deps.Views[name]
		if name == "" || !ok {
			writeError(w, http.StatusNotFound, "view not found")
			return
		}

		if action == "" {
			if !methodAllowed(w, r, http.MethodGet) {
				return
			}
			view.Load()
			if r.URL.Query().Get("wait") == "true" {
				if !settle(w, r, view) {
					return
				}
			}
			writeJSON(w, http.StatusOK, view.State())
			return
		}

		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		var req viewAction
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}

		accepted, err := applyViewAction(view, action, req)
		if err != nil {
			if errors.Is(err, errUnknownAction) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if r.URL.Query().Get("wait") == "true" {
			if !settle(w, r, view) {
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accepted": accepted,
			"view":     view.State(),
		})
	}))
}

var errUnknownAction = errors.New("unknown view action")

func applyViewAction(view listview.View, action string, req viewAction) (bool, error) {
	switch action {
	case "filter":
		if strings.TrimSpace(req.Key) == "" {
			return false, errors.New("key is required")
		}
		if err := view.SetFilter(req.Key, req.Value); err != nil {
			return false, err
		}
		return true, nil
	case "page":
		return view.SetPage(req.Page), nil
	case "next":
		return view.Next(), nil
	case "prev":
		return view.Prev(), nil
	case "limit":
		if req.Limit <= 0 {
			return false, errors.New("limit must be positive")
		}
		return view.SetLimit(req.Limit), nil
	case "sort":
		if err := view.SetSort(req.SortBy, req.SortOrder); err != nil {
			return false, err
		}
		return true, nil
	case "refresh":
		view.Refresh()
		return true, nil
	case "reset":
		view.Reset()
		return true, nil
	default:
		return false, errUnknownAction
	}
}

// settle waits for pending fetches. It writes a 504 and reports false when
// the view does not go quiet in time.
func settle(w http.ResponseWriter, r *http.Request, view listview.View) bool {
	ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
	defer cancel()
	if err := view.Settle(ctx); err != nil {
		writeError(w, http.StatusGatewayTimeout, "view did not settle")
		return false
	}
	return true
}

// refreshViews reloads the named views after a mutation.
func refreshViews(deps Deps, names ...string) {
	for _, name := range names {
		if v, ok := deps.Views[name]; ok {
			v.Refresh()
		}
	}
}
