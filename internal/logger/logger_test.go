package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/annals/internal/config"
)

type recorder struct {
	lines []string
}

func (r *recorder) add(level, message string, keyvals ...any) {
	r.lines = append(r.lines, fmt.Sprintf("%s %s %v", level, message, keyvals))
}

func (r *recorder) Debug(m string, kv ...any) { r.add("DEBUG", m, kv...) }
func (r *recorder) Info(m string, kv ...any)  { r.add("INFO", m, kv...) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("WARN", m, kv...) }
func (r *recorder) Error(m string, kv ...any) { r.add("ERROR", m, kv...) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("FATAL", m, kv...) }

func TestDispatchToAllInstances(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	defer Init()

	Info("unit processed", "unit", "u1")
	Warn("relation skipped", "source", "x")

	require.Len(t, a.lines, 2)
	assert.Equal(t, a.lines, b.lines)
	assert.Equal(t, "INFO unit processed [unit u1]", a.lines[0])
}

func TestCallsBeforeInitAreDropped(t *testing.T) {
	mu.Lock()
	singleton = nil
	mu.Unlock()

	assert.NotPanics(t, func() { Error("nobody listening") })
}

func TestSetupWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annals.log")
	Setup(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1})
	defer Init()

	Info("checkpoint flushed", "processed", 10)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "checkpoint flushed")
}
