// Package ocr manages the recognition engine from the command line.
package ocr

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/clipvault/clipvault/internal/app"
	engine "github.com/clipvault/clipvault/internal/ocr"
)

const progressInterval = time.Second

// Command creates the ocr command group.
func Command(env *app.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Inspect or install the text recognition engine",
	}
	cmd.AddCommand(statusCommand(env), prepareCommand(env))
	return cmd
}

func statusCommand(env *app.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the engine installation status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := engine.New(engine.ConfigFromSettings(env.Settings))
			printStatus(cmd.OutOrStdout(), e.Status(cmd.Context()), e.TotalSize())
			return nil
		},
	}
}

func prepareCommand(env *app.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Download and install the engine",
		Long: "Download the engine archive, resuming a partial download, then " +
			"extract and verify it. Interrupting pauses the download; run the " +
			"command again to resume.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.Settings.EnsureDataDir(); err != nil {
				return err
			}
			cfg := engine.ConfigFromSettings(env.Settings)
			cfg.Logger = env.Logger.Module("ocr")
			e := engine.New(cfg)
			return prepare(cmd.Context(), cmd.OutOrStdout(), e)
		},
	}
}

type result struct {
	outcome engine.PrepareOutcome
	err     error
}

// prepare runs the installation detached from ctx; cancelling ctx pauses
// the download instead of aborting it.
func prepare(ctx context.Context, out io.Writer, e *engine.Engine) error {
	detached := context.WithoutCancel(ctx)
	done := make(chan result, 1)
	go func() {
		outcome, err := e.Prepare(detached)
		done <- result{outcome, err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for {
		select {
		case r := <-done:
			if r.err != nil {
				return r.err
			}
			fmt.Fprintf(out, "engine %s\n", r.outcome)
			printStatus(out, e.Status(detached), e.TotalSize())
			return nil
		case <-interrupted:
			interrupted = nil
			if e.Pause() {
				fmt.Fprintln(out, "pausing after the current chunk")
			}
		case <-ticker.C:
			printStatus(out, e.Status(detached), e.TotalSize())
		}
	}
}

func printStatus(out io.Writer, st engine.Status, total int64) {
	have := uint64(st.Percent / 100 * float64(total))
	fmt.Fprintf(out, "%-11s %5.1f%%  %s / %s\n",
		st.State, st.Percent, humanize.IBytes(have), humanize.IBytes(uint64(total)))
}
