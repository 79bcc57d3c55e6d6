package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"complylaw/internal/config"
	"complylaw/internal/domain"
	"complylaw/internal/live"
)

func TestBuildAppInMemory(t *testing.T) {
	c := config.Config{}
	c.Live.Buffer = 8
	c.Scan.Parallelism = 2
	a, err := buildApp(context.Background(), c, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.db)
	require.NotNil(t, a.mem)
	assert.Equal(t, live.Fanout{a.hub}, a.publisher, "without Postgres events go straight to the hub")

	events, cancel := a.hub.Subscribe(live.UserTopic("u1"))
	defer cancel()
	job, err := a.scans.Enqueue(context.Background(), "t1", "u1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Empty(t, events)
}

func TestLoadTiersFile(t *testing.T) {
	a, err := buildApp(context.Background(), config.Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  - name: free\n    checks: [no.such.check]\n"), 0o600))
	c := config.Config{}
	c.Scan.TiersFile = path
	_, err = buildApp(context.Background(), c, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, domain.ErrUnknownCheck)

	c.Scan.TiersFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = buildApp(context.Background(), c, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(config.Config{Env: "production", LogLevel: "debug"})
	assert.NoError(t, err)
	_, err = newLogger(config.Config{Env: "development", LogLevel: "loud"})
	assert.Error(t, err)
}
