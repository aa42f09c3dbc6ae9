package httpserver

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Tabs of the console shell.
var Tabs = []string{"overview", "users", "rooms", "sessions", "leaderboard", "profile"}

const DefaultTab = "overview"

type NavState struct {
	Tab       string            `json:"tab"`
	Params    map[string]string `json:"params,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Navigation holds the active tab. Any component may switch it.
type Navigation struct {
	mu      sync.RWMutex
	state   NavState
	nowFunc func() time.Time
}

func NewNavigation() *Navigation {
	n := &Navigation{nowFunc: time.Now}
	n.state = NavState{Tab: DefaultTab, UpdatedAt: n.nowFunc().UTC()}
	return n
}

func (n *Navigation) Current() NavState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s := n.state
	s.Params = maps.Clone(n.state.Params)
	return s
}

// Switch makes tab active. Params replace the previous ones.
func (n *Navigation) Switch(tab string, params map[string]string) (NavState, error) {
	tab = strings.ToLower(strings.TrimSpace(tab))
	if !slices.Contains(Tabs, tab) {
		return NavState{}, fmt.Errorf("unknown tab %q", tab)
	}
	var copied map[string]string
	if len(params) > 0 {
		copied = maps.Clone(params)
	}
	n.mu.Lock()
	n.state = NavState{Tab: tab, Params: copied, UpdatedAt: n.nowFunc().UTC()}
	n.mu.Unlock()
	return n.Current(), nil
}

func registerNavigationHandlers(mux *http.ServeMux, deps Deps) {
	nav := deps.Navigation
	mux.Handle("/v1/navigation", protect(deps, false, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, nav.Current())
		case http.MethodPut, http.MethodPost:
			var req struct {
				Tab    string            `json:"tab"`
				Params map[string]string `json:"params"`
			}
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json body")
				return
			}
			state, err := nav.Switch(req.Tab, req.Params)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, state)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}))
}
