package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	SetLevel(LevelInfo)
	Debug("hidden")
	Info("import done", "calendar", "work", "summary", "two words")
	Error("import failed", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
	if !strings.Contains(out, `[INFO] import done calendar=work summary="two words"`) {
		t.Errorf("info line missing: %q", out)
	}
	if !strings.Contains(out, "[ERROR] import failed err=boom") {
		t.Errorf("error line missing: %q", out)
	}

	buf.Reset()
	SetLevel(LevelError)
	Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info line written at error level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": LevelDebug, "": LevelInfo, " Error ": LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel accepted verbose")
	}
}
