package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/nfrund/quickchat/internal/config"
	"github.com/nfrund/quickchat/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the store over WebSocket",
	Long: `Serve exposes the configured store (memory or surreal) to remote clients on
/ws, with a health check on /healthz. Clients connect with QUICKCHAT_STORE=ws.

Examples:
  QUICKCHAT_ADDR=:3000 quickchat serve
  QUICKCHAT_STORE=surreal SURREAL_URL=ws://localhost:8000 SURREAL_NS=app SURREAL_DB=chat quickchat serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	injector, err := newInjector(os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = injector.Shutdown() }()

	cfg := do.MustInvoke[*config.Config](injector)
	if cfg.GetStore() == config.StoreWS {
		return errors.New("serve needs a memory or surreal store, not ws")
	}
	logger := do.MustInvoke[*slog.Logger](injector)
	b, err := do.Invoke[*backend](injector)
	if err != nil {
		return err
	}

	srv := server.New(b.connector, logger)
	return srv.Start(cmd.Context(), cfg.GetAddr())
}
