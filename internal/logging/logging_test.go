package logging

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesLogfmt(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Info).(*logfmtLogger)
	logger.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	Named(logger, "ledger").Info("auto rejected", F("action_id", "a1"), F("dialogue_id", int64(7)), Err(errors.New("not found")))

	got := strings.TrimSpace(buf.String())
	want := `ts=2024-01-02T03:04:05Z level=info msg="auto rejected" component=ledger action_id=a1 dialogue_id=7 error="not found"`
	if got != want {
		t.Fatalf("unexpected line:\ngot:  %s\nwant: %s", got, want)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Warn)
	logger.Debug("drop")
	logger.Info("drop")
	logger.Warn("keep")
	if strings.Count(buf.String(), "\n") != 1 || !strings.Contains(buf.String(), "msg=keep") {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if logger.Enabled(Info) || !logger.Enabled(Error) {
		t.Fatalf("unexpected Enabled results")
	}
}

func TestNopIsSilent(t *testing.T) {
	logger := Nop()
	if logger.Enabled(Error) {
		t.Fatalf("nop logger should not be enabled")
	}
	logger.With(F("k", "v")).Error("nothing")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": Debug, " WARNING ": Warn, "error": Error, "": Info, "bogus": Info}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestOpenFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stream.log")
	logger, closer, err := OpenFile(path, Debug)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	logger.Debug("first")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
