package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/clipvault/clipvault/cmd"
	"github.com/clipvault/clipvault/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(&app.Env{})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
