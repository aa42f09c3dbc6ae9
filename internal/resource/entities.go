package resource

import (
	"strconv"
	"strings"
	"time"
)

type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	Email       string     `json:"email,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	Level       int        `json:"level,omitempty"`
	Status      string     `json:"status,omitempty"`
	Banned      bool       `json:"banned"`
	BanReason   string     `json:"ban_reason,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

func (u User) Key() string { return u.ID }

type GameRoom struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	Name       string     `json:"name,omitempty"`
	Status     string     `json:"status"`
	HostID     string     `json:"host_id,omitempty"`
	Players    int        `json:"players"`
	MaxPlayers int        `json:"max_players,omitempty"`
	Private    bool       `json:"private"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

func (r GameRoom) Key() string { return r.ID }

type GameSession struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id,omitempty"`
	RoomCode    string     `json:"room_code,omitempty"`
	Status      string     `json:"status"`
	Players     []string   `json:"players,omitempty"`
	WinnerID    string     `json:"winner_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	DurationSec int        `json:"duration_sec,omitempty"`
}

func (s GameSession) Key() string { return s.ID }

// SessionStats feeds the stats panel next to the sessions table.
type SessionStats struct {
	Total          int     `json:"total"`
	Active         int     `json:"active"`
	Completed      int     `json:"completed"`
	Abandoned      int     `json:"abandoned"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
}

// UnknownPlayer is shown when an entry carries neither display name nor username.
const UnknownPlayer = "Unknown player"

type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	Username    string  `json:"username,omitempty"`
	DisplayName string  `json:"display_name"`
	Score       int64   `json:"score"`
	Wins        int     `json:"wins,omitempty"`
	GamesPlayed int     `json:"games_played,omitempty"`
	WinRate     float64 `json:"win_rate,omitempty"`
	Level       int     `json:"level,omitempty"`
}

// Key prefers the user id; anonymous rows fall back to their rank.
func (e LeaderboardEntry) Key() string {
	if e.UserID != "" {
		return e.UserID
	}
	return "rank-" + strconv.Itoa(e.Rank)
}

func (e *LeaderboardEntry) fillDisplayName() {
	name := strings.TrimSpace(e.DisplayName)
	if name == "" {
		name = strings.TrimSpace(e.Username)
	}
	if name == "" {
		name = UnknownPlayer
	}
	e.DisplayName = name
}
