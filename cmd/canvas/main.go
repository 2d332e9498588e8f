package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"canvas/api/internal/cli"
	"canvas/api/internal/client"
	"canvas/api/internal/logging"
	"canvas/api/internal/shell"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("CANVAS_SERVER", "http://localhost:8787"), "canvas API base URL")
	sessionPath := flag.String("session", defaultSessionPath(), "file holding the cached session")
	logLevel := flag.String("log-level", envOr("CANVAS_LOG_LEVEL", "warn"), "log level")
	flag.Parse()

	log := logging.New(*logLevel, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.New(client.New(*server, nil), cli.Options{
		Cache:  shell.FileCache{Path: *sessionPath},
		Logger: log,
	})
	if err := app.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "canvas:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "canvas", "session.json")
}
