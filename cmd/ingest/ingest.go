// Package ingest stores image files from the command line.
package ingest

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clipvault/clipvault/internal/app"
)

// Command creates the ingest command.
func Command(env *app.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Store image files as if they were copied to the clipboard",
		Long: "Decode every file first, then store them in order. A file that " +
			"cannot be decoded aborts the batch before anything is stored.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.Open()
			if err != nil {
				return err
			}
			defer a.Close()

			outcomes, err := a.Pipeline.IngestFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, o := range outcomes {
				action := "stored"
				if o.Touched {
					action = "touched"
				}
				fmt.Fprintf(out, "%s\t%s\tid=%d\n", args[i], action, o.ID)
			}
			return nil
		},
	}
}
