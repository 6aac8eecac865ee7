package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Expose the agent over HTTP: status, propose, approve and execute.

The HTTP surface delegates to the same services as the CLI, so approval and
execution gates apply identically.

Example:
  tradeagent serve --addr :8080`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.close()

	server := web.NewServer(svc.store, svc.proposer, svc.approvals, svc.exec, svc.cfg, svc.log)
	return server.ListenAndServe(serveAddr)
}
