package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"arcadeops/admin-console/internal/app"
	"arcadeops/admin-console/internal/apiclient"
	"arcadeops/admin-console/internal/audit"
	"arcadeops/admin-console/internal/guard"
	"arcadeops/admin-console/internal/resource"
)

type env struct {
	clients *app.Clients
	stdin   io.Reader
	out     io.Writer
}

type command func(ctx context.Context, e env, args []string) error

var commands = map[string]command{
	"login":       cmdLogin,
	"logout":      cmdLogout,
	"whoami":      cmdWhoami,
	"users":       cmdUsers,
	"rooms":       cmdRooms,
	"sessions":    cmdSessions,
	"stats":       cmdStats,
	"leaderboard": cmdLeaderboard,
	"ban":         cmdBan,
	"unban":       cmdUnban,
	"close-room":  cmdCloseRoom,
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

type pageFlags struct {
	page  int
	limit int
	sort  string
	order string
}

func (p *pageFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&p.page, "page", 1, "page number")
	fs.IntVar(&p.limit, "limit", 20, "rows per page")
	fs.StringVar(&p.sort, "sort", "", "sort field")
	fs.StringVar(&p.order, "order", "", "asc or desc")
}

func (p pageFlags) params() resource.ListParams {
	return resource.ListParams{Page: p.page, Limit: p.limit, SortBy: p.sort, SortOrder: p.order}
}

// describe renders failures the way the console shows them.
func describe(err error) error {
	if err == nil {
		return nil
	}
	msg := apiclient.UserMessage(err)
	if fields := apiclient.FieldErrors(err); len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for k, v := range fields {
			parts = append(parts, k+": "+v)
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return fmt.Errorf("%s", msg)
}

func actor(e env) string {
	p, _ := e.clients.Store.Profile()
	return p.Username
}

func record(e env, action, target string, err error) {
	outcome, detail := audit.Success, "cli"
	if err != nil {
		outcome, detail = audit.Failed, "cli | "+err.Error()
	}
	_ = e.clients.Audit.Log(audit.Event{Actor: actor(e), Action: action, Target: target, Outcome: outcome, Detail: detail})
}

func cmdLogin(ctx context.Context, e env, args []string) error {
	fs := newFlagSet("login")
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password (read from stdin when empty)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return fmt.Errorf("%w: login: -u is required", errUsage)
	}
	if *password == "" {
		line, err := bufio.NewReader(e.stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read password: %w", err)
		}
		*password = strings.TrimRight(line, "\r\n")
	}
	res, err := e.clients.Auth.Login(ctx, resource.Credentials{Username: *username, Password: *password})
	if err != nil {
		_ = e.clients.Audit.Log(audit.Event{Actor: *username, Action: "auth.login", Outcome: audit.Failed, Detail: "cli | " + err.Error()})
		return describe(err)
	}
	_ = e.clients.Audit.Log(audit.Event{Actor: res.Profile.Username, Action: "auth.login", Outcome: audit.Success, Detail: "cli"})
	fmt.Fprintf(e.out, "signed in as %s\n", firstNonEmpty(res.Profile.DisplayName, res.Profile.Username, *username))
	return nil
}

func cmdLogout(ctx context.Context, e env, args []string) error {
	if err := parse(newFlagSet("logout"), args); err != nil {
		return err
	}
	who := actor(e)
	if err := e.clients.Auth.Logout(ctx); err != nil {
		return err
	}
	_ = e.clients.Audit.Log(audit.Event{Actor: who, Action: "auth.logout", Outcome: audit.Success, Detail: "cli"})
	fmt.Fprintln(e.out, "signed out")
	return nil
}

func requireSignedIn(e env, admin bool) error {
	if !e.clients.Store.Authenticated() {
		return fmt.Errorf("not signed in; run consolectl login")
	}
	if admin && e.clients.Guard.Check(true) != guard.Allow {
		return fmt.Errorf("access denied: admin role required")
	}
	return nil
}

func cmdWhoami(ctx context.Context, e env, args []string) error {
	fs := newFlagSet("whoami")
	refresh := fs.Bool("refresh", false, "fetch the profile from the backend")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireSignedIn(e, false); err != nil {
		return err
	}
	p, ok := e.clients.Store.Profile()
	if *refresh || !ok {
		var err error
		if p, err = e.clients.Auth.Me(ctx); err != nil {
			return describe(err)
		}
	}
	if *asJSON {
		return writeJSON(e.out, p)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", p.ID)
	fmt.Fprintf(tw, "username\t%s\n", p.Username)
	fmt.Fprintf(tw, "display name\t%s\n", p.DisplayName)
	fmt.Fprintf(tw, "roles\t%s\n", strings.Join(p.Roles, ","))
	fmt.Fprintf(tw, "admin\t%t\n", e.clients.Guard.IsAdmin(p.Roles))
	return tw.Flush()
}

func cmdUsers(ctx context.Context, e env, args []string) error {
	fs := newFlagSet("users")
	var pf pageFlags
	pf.register(fs)
	search := fs.String("search", "", "username or email")
	role := fs.String("role", "", "role filter")
	status := fs.String("status", "", "status filter")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireSignedIn(e, true); err != nil {
		return err
	}
	page, err := e.clients.Users.List(ctx, resource.UserFilter{ListParams: pf.params(), Search: *search, Role: *role, Status: *status})
	if err != nil {
		return describe(err)
	}
	if *asJSON {
		return writeJSON(e.out, page)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tROLES\tSTATUS")
	for _, u := range page.Items {
		st := u.Status
		if u.Banned {
			st = "banned"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, strings.Join(u.Roles, ","), st)
	}
	writeFooter(tw, page.Page, page.Limit, page.Total)
	return tw.Flush()
}

func cmdRooms(ctx context.Context, e env, args []string) error {
	fs := newFlagSet("rooms")
	var pf pageFlags
	pf.register(fs)
	status := fs.String("status", "", "status filter")
	code := fs.String("code", "", "room code")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireSignedIn(e, true); err != nil {
		return err
	}
	page, err := e.clients.Rooms.List(ctx, resource.RoomFilter{ListParams: pf.params(), Status: *status, RoomCode: *code})
	if err != nil {
		return describe(err)
	}
	if *asJSON {
		return writeJSON(e.out, page)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tNAME\tSTATUS\tPLAYERS")
	for _, r := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\n", r.ID, r.Code, r.Name, r.Status, r.Players, r.MaxPlayers)
	}
	writeFooter(tw, page.Page, page.Limit, page.Total)
	return tw.Flush()
}

func cmdSessions(ctx context.Context, e env, args []string) error {
	fs := newFlagSet("sessions")
	var pf pageFlags
	pf.register(fs)
	status := fs.String("status", "", "status filter")
	code := fs.String("code", "", "room code")
	player := fs.String("player", "", "player name")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireSignedIn(e, true); err != nil {
		return err
	}
	page, err := e.clients.Sessions.List(ctx, resource.SessionFilter{ListParams: pf.params(), Status: *status, RoomCode: *code, Player: *player})
	if err != nil {
		return describe(err)
	}
	if *asJSON {
		return writeJSON(e.out, page)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROOM\tSTATUS\tPLAYERS\tWINNER")
	for _, s := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.RoomCode, s.Status, len(s.Players), s.WinnerID)
	}
	writeFooter(tw, page.Page, page.Limit, page.Total)
	return tw.Flush()
}

func cmdStats(ctx context.Context, e env, args []string) error {
	if err := parse(newFlagSet("stats"), args); err != nil {
		return err
	}
	if err := requireSignedIn(e, true); err != nil {
		return err
	}
	stats, err := e.clients.Sessions.Stats(ctx)
	if err != nil {
		return describe(err)
	}
	return writeJSON(e.out, stats)
}

func cmdLeaderboard(ctx context.Context, e env, args []string) error {
	fs := newFlagSet("leaderboard")
	period := fs.String("period", "all", "all, weekly or daily")
	player := fs.String("player", "", "player name")
	limit := fs.Int("limit", 100, "rows to fetch")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireSignedIn(e, true); err != nil {
		return err
	}
	page, err := e.clients.Leaderboard.List(ctx, resource.LeaderboardFilter{
		ListParams: resource.ListParams{Page: 1, Limit: *limit},
		Period:     *period,
		Player:     *player,
	})
	if err != nil {
		return describe(err)
	}
	if *asJSON {
		return writeJSON(e.out, page)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPLAYER\tSCORE\tWINS\tGAMES")
	for _, entry := range page.Items {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", entry.Rank, entry.DisplayName, entry.Score, entry.Wins, entry.GamesPlayed)
	}
	return tw.Flush()
}

type destructiveFlags struct {
	yes    bool
	reason string
}

func parseDestructive(name string, args []string, withReason bool) (destructiveFlags, string, error) {
	fs := newFlagSet(name)
	var df destructiveFlags
	fs.BoolVar(&df.yes, "yes", false, "confirm the action")
	if withReason {
		fs.StringVar(&df.reason, "reason", "", "reason shown to the player")
	}
	if err := parse(fs, args); err != nil {
		return df, "", err
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return df, "", fmt.Errorf("%w: %s takes exactly one id", errUsage, name)
	}
	id := strings.TrimSpace(fs.Arg(0))
	if !df.yes {
		return df, "", fmt.Errorf("refusing to %s %s without -yes", name, id)
	}
	return df, id, nil
}

func cmdBan(ctx context.Context, e env, args []string) error {
	df, id, err := parseDestructive("ban", args, true)
	if err != nil {
		return err
	}
	if err := requireSignedIn(e, true); err != nil {
		return err
	}
	err = e.clients.Users.Ban(ctx, id, strings.TrimSpace(df.reason))
	record(e, "user.ban", id, err)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(e.out, "banned %s\n", id)
	return nil
}

func cmdUnban(ctx context.Context, e env, args []string) error {
	_, id, err := parseDestructive("unban", args, false)
	if err != nil {
		return err
	}
	if err := requireSignedIn(e, true); err != nil {
		return err
	}
	err = e.clients.Users.Unban(ctx, id)
	record(e, "user.unban", id, err)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(e.out, "unbanned %s\n", id)
	return nil
}

func cmdCloseRoom(ctx context.Context, e env, args []string) error {
	_, id, err := parseDestructive("close-room", args, false)
	if err != nil {
		return err
	}
	if err := requireSignedIn(e, true); err != nil {
		return err
	}
	err = e.clients.Rooms.Close(ctx, id)
	record(e, "room.close", id, err)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(e.out, "closed room %s\n", id)
	return nil
}

func writeFooter(w io.Writer, page, limit, total int) {
	fmt.Fprintf(w, "\npage %d, %d per page, %d total\n", page, limit, total)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
