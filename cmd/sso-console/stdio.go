package main

import (
	"os"

	"github.com/go-training/ssoflow/pkg/host"
	"github.com/go-training/ssoflow/pkg/operation"
	"github.com/go-training/ssoflow/pkg/store"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newStdioCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the MCP tools over stdio for a single session",
		Long: `Serve the MCP tools over stdio. Logins started with sso_authorize still
finish in a browser, so the redirect landing page is served on the
configured address as well.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd, os.Stderr)
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

			h, err := host.New(host.Options{Config: cfg, Storage: storage})
			if err != nil {
				return err
			}
			defer h.Close()

			// stdout carries the protocol
			gin.SetMode(gin.ReleaseMode)
			gin.DefaultWriter = os.Stderr
			errc := make(chan error, 1)
			go func() {
				errc <- h.Router().Run(cfg.Server.Addr)
			}()

			mcpServer := operation.NewMCPServer("sso-console", version)
			go func() {
				errc <- mcpServer.ServeStdio(h)
			}()
			return <-errc
		},
	}
}
