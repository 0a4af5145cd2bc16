package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-training/ssoflow/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd(&options{})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "stdio"}, names)
}

func TestOptionsLoad_FlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\nstore:\n  type: memory\n"), 0o600))

	opts := &options{}
	root := newRootCmd(opts)
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags([]string{
		"--config", path,
		"--store", "redis",
		"--redis-addr", "localhost:6380",
		"--addr", ":9100",
	}))

	cfg, err := opts.load(serve, os.Stderr)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "localhost:6380", cfg.Store.Redis.Addr)

	sc, err := newStorage(cfg)
	require.NoError(t, err)
	assert.Equal(t, store.StoreTypeRedis, sc.Type)
}

func TestNewStorage_RedisNeedsAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: redis\n"), 0o600))

	opts := &options{}
	root := newRootCmd(opts)
	opts.configFile = path
	cfg, err := opts.load(root, os.Stderr)
	require.NoError(t, err)

	_, err = newStorage(cfg)
	assert.EqualError(t, err, "redis store requires an address")
}
