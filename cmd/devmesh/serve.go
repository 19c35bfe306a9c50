package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/devmesh"
)

func serveCmd(load loader) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mesh, err := devmesh.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := mesh.Close(context.WithoutCancel(ctx)); err != nil {
					mesh.Logger.Warn("mesh.close.failed", "error", err)
				}
			}()

			srv, err := mesh.Server()
			if err != nil {
				return err
			}
			go mesh.WatchSessions(ctx, cfg.Session.SweepEvery)

			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
