// Package serve runs clipvault as a long-lived service.
package serve

import (
	"github.com/spf13/cobra"

	"github.com/clipvault/clipvault/internal/app"
)

// Command creates the serve command.
func Command(env *app.Env) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run retention, enrichment and the local API",
		Long: "Open the image store and run the retention and enrichment loops " +
			"together with the local HTTP API until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				env.Settings.WebServer.Listen = listen
			}
			a, err := env.Open()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address, overrides webserver.listen")
	return cmd
}
