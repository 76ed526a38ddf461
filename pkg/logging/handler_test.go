package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)

	logger.Info("beam calibrated", "rows", 10)
	logger.Debug("hidden")
	logger.With("step", "resolve").Warn("positions left unresolved", "count", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "[") || !strings.HasSuffix(lines[0], "[rows=10] beam calibrated") {
		t.Errorf("Unexpected info line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "[WARN] [step=resolve] [count=3] positions left unresolved") {
		t.Errorf("Unexpected warn line %q", lines[1])
	}
}

func TestHandlerVerbose(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, true).Debug("frames ready")
	if !strings.Contains(buf.String(), "frames ready") {
		t.Errorf("Expected debug output, got %q", buf.String())
	}
}

func TestHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false).WithGroup("beam").With("rows", 10).WithGroup("edge")

	logger.Info("calibrated", "row", 4.5, slog.Group("anchor", "energy", 12.658))

	want := "[beam.rows=10] [beam.edge.row=4.5] [beam.edge.anchor.energy=12.658] calibrated"
	if got := strings.TrimSpace(buf.String()); !strings.HasSuffix(got, want) {
		t.Errorf("Expected suffix %q, got %q", want, got)
	}
}
