package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/NeoRed-domo/qualys2human/internal/config"
	"github.com/NeoRed-domo/qualys2human/internal/testutil"
)

func TestNewLevels(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "text"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v", logger.GetLevel())
	}

	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("invalid level accepted")
	}
	if _, err := New(config.LoggingConfig{Level: "info", Format: "xml"}); err == nil {
		t.Error("invalid format accepted")
	}
}

func TestNewFileOutput(t *testing.T) {
	dir := testutil.TempDir(t)
	file := filepath.Join(dir, "logs", "q2h.log")

	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", File: file, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("hello")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Error("nothing written to log file")
	}
}
