package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexkukunis/tradingtracker/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the journal HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := bootstrap()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := app.store.InitSchema(ctx); err != nil {
			return fmt.Errorf("%w: can't init schema", err)
		}

		srv := server.NewHTTPServer(ctx, app.cfg.Server.Port, app.store, app.orch, app.logger)
		app.logger.Infof("listening on :%s", app.cfg.Server.Port)

		if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%w: server stopped", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
