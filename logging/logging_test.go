package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line %q not valid JSON: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestHandler_OneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, nil)

	log.Info("episode done", "episode", 7, "return", -12.5)
	log.Warn("slow step", "elapsed", 250*time.Millisecond)

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["msg"] != "episode done" || lines[0]["episode"] != float64(7) {
		t.Errorf("first line = %v", lines[0])
	}
	if lines[1]["level"] != "WARN" || lines[1]["elapsed"] != "250ms" {
		t.Errorf("second line = %v", lines[1])
	}
}

func TestHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelWarn)

	log.Info("dropped")
	log.Error("kept")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Fatalf("got %v", lines)
	}
}

func TestHandler_GroupsFlattenToDottedKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, nil).With("run", "r1").WithGroup("worldcfg")

	log.Info("start", "agents", 4)

	lines := decodeLines(t, &buf)
	if lines[0]["run"] != "r1" {
		t.Errorf("WithAttrs before group lost: %v", lines[0])
	}
	if lines[0]["worldcfg.agents"] != float64(4) {
		t.Errorf("group attr not flattened: %v", lines[0])
	}
}
