package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type pinger func(ctx context.Context) error

func main() {
	store := strings.ToLower(strings.TrimSpace(os.Getenv("SESSION_STORE")))

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_STORE_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_STORE_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	var ping pinger
	switch store {
	case "postgres":
		dsn := firstEnv("DATABASE_URL", "TEST_POSTGRES_DSN")
		if dsn == "" {
			fmt.Fprintln(os.Stderr, "DATABASE_URL is required when SESSION_STORE=postgres")
			os.Exit(2)
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		ping = db.PingContext
	case "redis":
		addr := firstEnv("REDIS_ADDR", "TEST_REDIS_ADDR")
		if addr == "" {
			fmt.Fprintln(os.Stderr, "REDIS_ADDR is required when SESSION_STORE=redis")
			os.Exit(2)
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		defer rdb.Close()
		ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	default:
		fmt.Printf("session store %q needs no wait\n", store)
		return
	}

	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := ping(ctx)
		cancel()
		if err == nil {
			fmt.Printf("%s ready\n", store)
			return
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "%s not ready within %s: %v\n", store, timeout, err)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
