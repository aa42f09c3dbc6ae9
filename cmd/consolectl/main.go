// Command consolectl runs one-shot admin console operations against the
// platform backend, sharing the console's session store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"arcadeops/admin-console/internal/app"
	"arcadeops/admin-console/internal/config"
	"arcadeops/admin-console/internal/observability"
)

const usage = `usage: consolectl <command> [flags]

commands:
  login        -u USER [-p PASSWORD]   sign in and store the token
  logout                               sign out and clear the token
  whoami       [-refresh]              show the signed-in profile
  users        [-search -role -status -page -limit]
  rooms        [-status -code -page -limit]
  sessions     [-status -code -player -page -limit]
  stats                                game session totals
  leaderboard  [-period -player -limit]
  ban          -yes [-reason R] USER_ID
  unban        -yes USER_ID
  close-room   -yes ROOM_ID
`

var errUsage = errors.New("invalid usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	logger := observability.NewLoggerTo(stderr, cfg.Log.Level, "text")
	clients, err := app.NewClients(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer clients.Close()

	return cmd(ctx, env{clients: clients, stdin: stdin, out: stdout}, args[1:])
}
