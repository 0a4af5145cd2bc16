// Command sso-console serves an SSO login front for an upstream API, over
// HTTP for browsers and over MCP for tool clients.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-training/ssoflow/pkg/config"
	"github.com/go-training/ssoflow/pkg/logger"
	"github.com/go-training/ssoflow/pkg/store"

	"github.com/spf13/cobra"
)

var version = "dev"

type options struct {
	configFile    string
	envFiles      []string
	logLevel      string
	addr          string
	storeType     string
	redisAddr     string
	redisPassword string
	redisDB       int
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:          "sso-console",
		Short:        "OAuth2 authorization-code login front with a bearer-token proxy and MCP tools",
		Version:      version,
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	f.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before environment overrides")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	f.StringVar(&opts.storeType, "store", "", "Store type: memory or redis")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address (only used when store=redis)")
	f.StringVar(&opts.redisPassword, "redis-password", "", "Redis password (only used when store=redis)")
	f.IntVar(&opts.redisDB, "redis-db", 0, "Redis database (only used when store=redis)")

	root.AddCommand(newServeCmd(opts), newStdioCmd(opts))
	return root
}

// load reads the configuration and lets explicitly set flags win over it.
func (o *options) load(cmd *cobra.Command, logOut io.Writer) (*config.Config, error) {
	cfg, err := config.Load(o.configFile, o.envFiles...)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Server.LogLevel = o.logLevel
	}
	if flags.Changed("addr") {
		cfg.Server.Addr = o.addr
	}
	if flags.Changed("store") {
		cfg.Store.Type = o.storeType
	}
	if flags.Changed("redis-addr") {
		cfg.Store.Redis.Addr = o.redisAddr
	}
	if flags.Changed("redis-password") {
		cfg.Store.Redis.Password = o.redisPassword
	}
	if flags.Changed("redis-db") {
		cfg.Store.Redis.DB = o.redisDB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.NewWithWriter(logOut, cfg.Server.LogLevel)
	return cfg, nil
}

func newStorage(cfg *config.Config) (store.Config, error) {
	sc := cfg.Store.StoreFactoryConfig()
	if sc.Type == store.StoreTypeRedis && sc.Redis.Addr == "" {
		return sc, fmt.Errorf("redis store requires an address")
	}
	switch sc.Type {
	case store.StoreTypeMemory:
		slog.Info("Using in-memory store")
	case store.StoreTypeRedis:
		slog.Info("Using Redis store", "addr", sc.Redis.Addr, "db", sc.Redis.DB)
	}
	return sc, nil
}
