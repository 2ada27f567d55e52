package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestInitWritesJSONFile(t *testing.T) {
	restore := Set(zap.NewNop())
	defer restore()

	path := filepath.Join(t.TempDir(), "nested", "log.json")
	if err := Init(Options{Level: "info", Format: "json", ToFile: true, File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	L().Info("move_applied", zap.String("san", "e4"))
	_ = L().Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"move_applied"`) || !strings.Contains(string(raw), `"san":"e4"`) {
		t.Fatalf("unexpected log content: %s", raw)
	}
}

func TestInitWithoutSinksIsNop(t *testing.T) {
	restore := Set(zap.NewNop())
	defer restore()
	if err := Init(Options{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if L().Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected nop logger")
	}
}
