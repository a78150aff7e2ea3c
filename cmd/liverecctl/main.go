// Command liverecctl inspects the browser credentials the recorder would use
// and drives a running recorder through its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-recorder/app"
)

func main() {
	_ = godotenv.Load(".env")

	// library logs go to stderr and stay quiet unless LOG_LEVEL asks otherwise
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	slog.SetDefault(app.NewLogger(os.Stderr, level, os.Getenv("LOG_FORMAT")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
