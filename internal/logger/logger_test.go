package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

func TestAsyncHandlerWritesDailyFile(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()

	handler := NewAsyncHandler(dir, slog.LevelInfo)
	log := slog.New(handler).With("component", "relay").WithGroup("session")
	log.Info("offer published", "id", "abc")
	log.Debug("filtered out")
	if err := handler.Close(); err != nil {
		t.Fatalf("closing handler: %v", err)
	}

	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "offer published") {
		t.Errorf("log file missing message: %q", text)
	}
	if !strings.Contains(text, "component=relay") || !strings.Contains(text, "session.id=abc") {
		t.Errorf("log file missing attributes: %q", text)
	}
	if strings.Contains(text, "filtered out") {
		t.Errorf("debug record written at info level: %q", text)
	}
}

func TestShutdownCallbackIsIdempotent(t *testing.T) {
	handler := NewAsyncHandler("", slog.LevelInfo)
	callback := &ShutdownCallback{handler: handler}
	if err := callback.Invoke(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := callback.Invoke(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	// writing after close must not panic
	handler.Write([]byte("late record\n"))
}
