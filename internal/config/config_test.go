package config_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shiro-wallet/shirod/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		datadir := t.TempDir()
		t.Setenv("SHIROD_DATADIR", datadir)

		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		require.Equal(t, datadir, cfg.Datadir)
		require.Equal(t, filepath.Join(datadir, "db"), cfg.DbDir)
		require.Equal(t, uint32(config.DefaultPort), cfg.Port)
		require.Equal(t, "badger", cfg.DbType)
		require.Equal(t, "gocron", cfg.SchedulerType)
		require.Equal(t, "inmemory", cfg.IdempotencyStoreType)
		require.Equal(t, uint32(1), cfg.ConfirmationDepth)
		require.Equal(t, int64(86400), cfg.InvoiceExpiry)
		require.Empty(t, cfg.OtelCollectorEndpoint)
		require.Equal(t, 10*time.Second, cfg.OtelPushIntervalDuration())
		require.DirExists(t, cfg.DbDir)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("SHIROD_DATADIR", t.TempDir())
		t.Setenv("SHIROD_PORT", "9090")
		t.Setenv("SHIROD_NETWORK", "REGTEST")
		t.Setenv("SHIROD_DB_TYPE", "sqlite")
		t.Setenv("SHIROD_CONFIRMATION_DEPTH", "3")
		t.Setenv("SHIROD_UNLOCKER_TYPE", "env")
		t.Setenv("SHIROD_UNLOCKER_PASSWORD", "secret")

		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		require.Equal(t, uint32(9090), cfg.Port)
		require.Equal(t, "regtest", cfg.Network)
		require.Equal(t, "sqlite", cfg.DbType)
		require.Equal(t, uint32(3), cfg.ConfirmationDepth)
		require.NotContains(t, cfg.String(), "secret")
	})

	t.Run("missing redis url", func(t *testing.T) {
		t.Setenv("SHIROD_DATADIR", t.TempDir())
		t.Setenv("SHIROD_DB_TYPE", "redis")

		cfg, err := config.LoadConfig()
		require.Error(t, err)
		require.Nil(t, cfg)
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		for _, dbType := range []string{"badger", "sqlite"} {
			t.Run(dbType, func(t *testing.T) {
				t.Setenv("SHIROD_DATADIR", t.TempDir())
				t.Setenv("SHIROD_NETWORK", "regtest")
				t.Setenv("SHIROD_DB_TYPE", dbType)
				t.Setenv("SHIROD_UNLOCKER_TYPE", "env")
				t.Setenv("SHIROD_UNLOCKER_PASSWORD", "secret")

				cfg, err := config.LoadConfig()
				require.NoError(t, err)
				require.NoError(t, cfg.Validate())
				require.NotNil(t, cfg.UnlockerService())
				require.NotNil(t, cfg.IdempotencyStore())

				svc, err := cfg.AppService()
				require.NoError(t, err)
				require.NotNil(t, svc)
				svc.Stop()
			})
		}
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"network", func(c *config.Config) { c.Network = "litecoin" }},
			{"db type", func(c *config.Config) { c.DbType = "postgres" }},
			{"scheduler type", func(c *config.Config) { c.SchedulerType = "cron" }},
			{"unlocker type", func(c *config.Config) { c.UnlockerType = "vault" }},
			{"idempotency store type", func(c *config.Config) { c.IdempotencyStoreType = "memcached" }},
			{"port", func(c *config.Config) { c.Port = 0 }},
			{"refresh interval", func(c *config.Config) { c.RefreshInterval = 0 }},
			{"network timeout", func(c *config.Config) { c.NetworkTimeout = 0 }},
			{"confirmation depth", func(c *config.Config) { c.ConfirmationDepth = 0 }},
			{"otel push interval", func(c *config.Config) {
				c.OtelCollectorEndpoint = "http://localhost:4318"
				c.OtelPushInterval = 0
			}},
			{"file unlocker without file", func(c *config.Config) {
				c.UnlockerType = "file"
				c.UnlockerFilePath = ""
			}},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				cfg := validConfig(t)
				f.mutate(cfg)
				require.Error(t, cfg.Validate())
			})
		}
	})
}

func validConfig(t *testing.T) *config.Config {
	return &config.Config{
		Datadir:              t.TempDir(),
		DbDir:                "",
		Port:                 uint32(config.DefaultPort),
		Network:              "regtest",
		DbType:               "badger",
		SchedulerType:        "gocron",
		RefreshInterval:      60,
		ConfirmationDepth:    1,
		InvoiceExpiry:        60,
		SendExpiry:           60,
		NetworkTimeout:       10,
		IdempotencyStoreType: "inmemory",
		IdempotencyTTL:       60,
	}
}

func TestLinkDialerTimeout(t *testing.T) {
	chain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// nolint
		fmt.Fprint(w, "100")
	}))
	t.Cleanup(chain.Close)

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(relay.Close)

	cfg := validConfig(t)
	cfg.NetworkTimeout = 1
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.LinkDialer())

	start := time.Now()
	_, _, err := cfg.LinkDialer().Dial(context.Background(), chain.URL, relay.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "relay")
	require.Less(t, time.Since(start), 4*time.Second)
}
