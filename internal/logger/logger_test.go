package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	defer SetLevel("info")

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInfoBlockSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	InfoBlock("line-a\nline-b\n")
	InfoBlock("   ")

	out := buf.String()
	assert.Contains(t, out, "line-a")
	assert.Contains(t, out, "line-b")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("level=INFO")))
}

func TestTailKeepsRecentLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Infof("tail-marker-%d", 1)
	Warnf("tail-marker-%d", 2)
	lines := Tail(2)
	if assert.Len(t, lines, 2) {
		assert.Contains(t, lines[0], "tail-marker-1")
		assert.Contains(t, lines[1], "tail-marker-2")
	}
}

func TestTailRingWraps(t *testing.T) {
	r := &tailRing{lines: make([]string, 3)}
	_, _ = r.Write([]byte("a\nb\n"))
	_, _ = r.Write([]byte("c\nd"))
	assert.Equal(t, []string{"a", "b", "c"}, r.last(0))
	_, _ = r.Write([]byte("\ne\n"))
	assert.Equal(t, []string{"c", "d", "e"}, r.last(0))
	assert.Equal(t, []string{"e"}, r.last(1))
}
