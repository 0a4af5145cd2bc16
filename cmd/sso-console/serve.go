package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-training/ssoflow/pkg/host"
	"github.com/go-training/ssoflow/pkg/metrics"
	"github.com/go-training/ssoflow/pkg/operation"
	"github.com/go-training/ssoflow/pkg/store"

	"github.com/appleboy/graceful"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the login pages, the API proxy, metrics and MCP over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd, os.Stdout)
			if err != nil {
				return err
			}
			sc, err := newStorage(cfg)
			if err != nil {
				return err
			}
			storage, err := store.NewStore(sc)
			if err != nil {
				return err
			}
			defer store.Close(storage)

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			recorder, err := metrics.New(reg)
			if err != nil {
				return err
			}

			mcpServer := operation.NewMCPServer("sso-console", version)
			h, err := host.New(host.Options{
				Config:   cfg,
				Storage:  storage,
				Recorder: recorder,
				MCP:      mcpServer.ServeHTTP(),
			})
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      h.Router(),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			m := graceful.NewManager()
			m.AddRunningJob(func(ctx context.Context) error {
				slog.Info("SSO console listening", "addr", cfg.Server.Addr, "sso_enabled", cfg.SSO.Enabled())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			m.AddShutdownJob(func() error {
				slog.Info("Shutdown signal received, shutting down server...")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				err := srv.Shutdown(ctx)
				h.Close()
				return err
			})

			<-m.Done()
			slog.Info("Server shutdown gracefully")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "address to listen on (default from config, :8080)")
	return cmd
}
