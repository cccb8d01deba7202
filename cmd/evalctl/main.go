package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/evalsync/internal/cli"
	"github.com/okian/evalsync/pkg/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	// stdout carries command output; keep the log quiet unless asked.
	level := os.Getenv("EVALCTL_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	if err := logger.SetLevelString(level); err != nil {
		_ = logger.SetLevelString("warn")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
