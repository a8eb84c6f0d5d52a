package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fintrack/internal/log"
)

func stubExit(t *testing.T) *int {
	t.Helper()
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })
	return &code
}

func TestBootstrap(t *testing.T) {
	t.Setenv("DATA_BACKEND", "memory")
	t.Setenv("AUTH_MODE", "firebase")
	t.Setenv("FIREBASE_PROJECT_ID", "")
	t.Setenv("FIREBASE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("FIREBASE_SERVICE_ACCOUNT_BASE64", "")
	t.Setenv("LOG_FORMAT", "json")

	t.Run("background skips identity", func(t *testing.T) {
		code := stubExit(t)
		var buf bytes.Buffer
		cfg, logger := Bootstrap(log.ComponentWorker, ModeBackground, &buf)
		if *code != -1 {
			t.Fatalf("Bootstrap exited with %d: %s", *code, buf.String())
		}
		if cfg.DataBackend != "memory" || logger.Component() != log.ComponentWorker {
			t.Errorf("unexpected bootstrap result: backend=%s component=%s", cfg.DataBackend, logger.Component())
		}
	})

	t.Run("server requires identity", func(t *testing.T) {
		code := stubExit(t)
		var buf bytes.Buffer
		Bootstrap(log.ComponentApp, ModeServer, &buf)
		if *code != 1 {
			t.Fatalf("exit code = %d, want 1", *code)
		}
		if !strings.Contains(buf.String(), log.ErrorTypeConfiguration) {
			t.Errorf("configuration error not logged: %s", buf.String())
		}
	})
}

func TestOpenBackend(t *testing.T) {
	t.Setenv("DATA_BACKEND", "sqlite")
	t.Setenv("SQLITE_DB_PATH", filepath.Join(t.TempDir(), "fintrack.db"))
	t.Setenv("AMQP_URL", "")

	code := stubExit(t)
	var buf bytes.Buffer
	cfg, logger := Bootstrap(log.ComponentWorker, ModeBackground, &buf)

	be := OpenBackend(context.Background(), cfg, logger)
	if *code != -1 || be == nil {
		t.Fatalf("OpenBackend failed (exit %d): %s", *code, buf.String())
	}
	defer CloseBackend(be, logger)

	if err := be.Store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestShutdownContextCancel(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Output: &buf})
	ctx, cancel := ShutdownContext(logger)
	cancel()
	<-ctx.Done()
	if buf.Len() != 0 {
		t.Errorf("cancel without a signal logged: %s", buf.String())
	}
}
