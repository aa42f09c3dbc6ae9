package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"arcadeops/admin-console/internal/audit"
)

// View names the mutation handlers refresh.
const (
	ViewUsers       = "users"
	ViewRooms       = "rooms"
	ViewSessions    = "sessions"
	ViewLeaderboard = "leaderboard"
)

type confirmBody struct {
	Confirm bool   `json:"confirm"`
	Reason  string `json:"reason"`
}

// readConfirm decodes the optional body and reports whether the operator
// confirmed the destructive action, via ?confirm=true or "confirm": true.
func readConfirm(w http.ResponseWriter, r *http.Request) (confirmBody, bool) {
	var body confirmBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return body, false
	}
	if !body.Confirm && r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "confirmation required")
		return body, false
	}
	return body, true
}

func registerAdminHandlers(mux *http.ServeMux, deps Deps) {
	mux.Handle("/v1/users/", protect(deps, true, func(w http.ResponseWriter, r *http.Request) {
		if deps.Users == nil {
			writeError(w, http.StatusServiceUnavailable, "user service unavailable")
			return
		}
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
		id, action, _ := strings.Cut(rest, "/")
		if id == "" {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		actor := actorName(deps)

		switch action {
		case "":
			switch r.Method {
			case http.MethodGet:
				u, err := deps.Users.Get(r.Context(), id)
				if err != nil {
					writeAPIError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, u)
			case http.MethodDelete:
				if _, ok := readConfirm(w, r); !ok {
					return
				}
				if err := deps.Users.Delete(r.Context(), id); err != nil {
					auditReq(deps, r, actor, "user.delete", id, audit.Failed, err.Error())
					writeAPIError(w, err)
					return
				}
				auditReq(deps, r, actor, "user.delete", id, audit.Success, "")
				refreshViews(deps, ViewUsers, ViewLeaderboard)
				w.WriteHeader(http.StatusNoContent)
			default:
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			}
		case "ban":
			if !methodAllowed(w, r, http.MethodPost) {
				return
			}
			body, ok := readConfirm(w, r)
			if !ok {
				return
			}
			if err := deps.Users.Ban(r.Context(), id, strings.TrimSpace(body.Reason)); err != nil {
				auditReq(deps, r, actor, "user.ban", id, audit.Failed, err.Error())
				writeAPIError(w, err)
				return
			}
			auditReq(deps, r, actor, "user.ban", id, audit.Success, body.Reason)
			refreshViews(deps, ViewUsers)
			w.WriteHeader(http.StatusNoContent)
		case "unban":
			if !methodAllowed(w, r, http.MethodPost) {
				return
			}
			if _, ok := readConfirm(w, r); !ok {
				return
			}
			if err := deps.Users.Unban(r.Context(), id); err != nil {
				auditReq(deps, r, actor, "user.unban", id, audit.Failed, err.Error())
				writeAPIError(w, err)
				return
			}
			auditReq(deps, r, actor, "user.unban", id, audit.Success, "")
			refreshViews(deps, ViewUsers)
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusNotFound, "unknown user action")
		}
	}))

	mux.Handle("/v1/rooms/", protect(deps, true, func(w http.ResponseWriter, r *http.Request) {
		if deps.Rooms == nil {
			writeError(w, http.StatusServiceUnavailable, "room service unavailable")
			return
		}
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/rooms/"), "/")
		id, action, _ := strings.Cut(rest, "/")
		if id == "" {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}

		switch action {
		case "":
			if !methodAllowed(w, r, http.MethodGet) {
				return
			}
			room, err := deps.Rooms.Get(r.Context(), id)
			if err != nil {
				writeAPIError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, room)
		case "close":
			if !methodAllowed(w, r, http.MethodPost) {
				return
			}
			if _, ok := readConfirm(w, r); !ok {
				return
			}
			actor := actorName(deps)
			if err := deps.Rooms.Close(r.Context(), id); err != nil {
				auditReq(deps, r, actor, "room.close", id, audit.Failed, err.Error())
				writeAPIError(w, err)
				return
			}
			auditReq(deps, r, actor, "room.close", id, audit.Success, "")
			refreshViews(deps, ViewRooms, ViewSessions)
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusNotFound, "unknown room action")
		}
	}))

	mux.Handle("/v1/sessions/", protect(deps, true, func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		if deps.Sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "session service unavailable")
			return
		}
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
		switch {
		case id == "":
			writeError(w, http.StatusNotFound, "game session not found")
		case id == "stats":
			stats, err := deps.Sessions.Stats(r.Context())
			if err != nil {
				writeAPIError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, stats)
		case strings.Contains(id, "/"):
			writeError(w, http.StatusNotFound, "game session not found")
		default:
			gs, err := deps.Sessions.Get(r.Context(), id)
			if err != nil {
				writeAPIError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, gs)
		}
	}))

	mux.Handle("/v1/leaderboard/players/", protect(deps, true, func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		if deps.Leaderboard == nil {
			writeError(w, http.StatusServiceUnavailable, "leaderboard service unavailable")
			return
		}
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/leaderboard/players/"), "/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		entry, err := deps.Leaderboard.Player(r.Context(), id)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}))

	mux.Handle("/v1/audit", protect(deps, true, func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		if deps.Audit == nil {
			writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
			return
		}
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, 500)
		}
		events, err := deps.Audit.Tail(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read audit log")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}))
}
