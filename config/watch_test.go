package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "framecore.toml")
	require.NoError(t, os.WriteFile(path, []byte("[surface]\nvsync = true\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, logger, path, func(cfg *Config) {
			select {
			case reloads <- cfg:
			default:
			}
		})
	}()

	// Rewrite until the watcher is registered and reports the change. A write can be observed
	// half-finished, so earlier reloads may still carry the defaults.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("[surface]\nvsync = false\n"), 0o644)
		for {
			select {
			case cfg := <-reloads:
				if !cfg.Surface.VSync {
					return true
				}
			case <-time.After(50 * time.Millisecond):
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after its context was cancelled")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	err := Watch(context.Background(), logger, filepath.Join(t.TempDir(), "missing", "framecore.toml"), func(*Config) {})
	require.Error(t, err)
}
