package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"

	"wsrpc/config"
	"wsrpc/logger"
	"wsrpc/server"
)

type serveCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	addr           string
}

func newServeCommandeer(rootCommandeer *RootCommandeer) *serveCommandeer {
	commandeer := &serveCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo endpoint (echo, sum, sleep, fail)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(rootCommandeer.configPath)
			if err != nil {
				return errors.Wrap(err, "Failed to load configuration")
			}
			if commandeer.addr != "" {
				cfg.Addr = commandeer.addr
			}
			if err := rootCommandeer.initLogger(&cfg.Log); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return commandeer.serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&commandeer.addr, "addr", "a", "", "Listen address, overrides the configuration")

	commandeer.cmd = cmd
	return commandeer
}

func (sc *serveCommandeer) serve(ctx context.Context, cfg config.ServerConfig) error {
	log := logger.WithComponent("serve")

	demo, err := newDemoEndpoint()
	if err != nil {
		return err
	}
	srv, err := demo.AsServer(cfg)
	if err != nil {
		return errors.Wrap(err, "Failed to create server")
	}

	served := make(chan error, 1)
	go func() {
		served <- srv.ListenAndServe()
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-served; err != server.ErrServerClosed {
		return err
	}
	return nil
}
