package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarning, false},
		{"WARNING", LevelWarning, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ERROR_SAMPLE_RATE", "10")
	t.Setenv("OTEL_ENABLED", "TRUE")
	t.Setenv("OTEL_SERVICE_NAME", "rules-test")

	cfg := ConfigFromEnv()
	assert.Equal(t, LevelDebug, cfg.Level)
	assert.Equal(t, 10, cfg.SampleRate)
	assert.True(t, cfg.OTELEnabled)
	assert.Equal(t, "rules-test", cfg.ServiceName)
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ERROR_SAMPLE_RATE", "-3")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg := ConfigFromEnv()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, 100, cfg.SampleRate)
	assert.False(t, cfg.OTELEnabled)
	assert.Equal(t, "rule-engine", cfg.ServiceName)
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(context.Background(), Config{Level: LevelInfo, SampleRate: 1, Output: &buf})

	l.Debug("hidden")
	l.Info("rule executed", "rule_id", "premium-discount")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "rule executed", record["msg"])
	assert.Equal(t, "premium-discount", record["rule_id"])

	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)
	assert.Equal(t, LevelDebug, GetLevel())
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestWarningsAndErrorsAreCountedEvenWhenSampledOut(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(context.Background(), Config{Level: LevelInfo, SampleRate: 1_000_000_000, Output: &buf})

	before := Snapshot()
	for i := 0; i < 5; i++ {
		l.Warn("slow rule")
		l.Error("rule failed")
	}
	after := Snapshot()

	assert.Equal(t, int64(5), after.Warnings-before.Warnings)
	assert.Equal(t, int64(5), after.Errors-before.Errors)
	// with a one in a billion rate nothing should have been written
	assert.Empty(t, buf.String())
}

func TestWithAttrsKeepsSampling(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(context.Background(), Config{Level: LevelWarning, SampleRate: 1, Output: &buf})

	child := l.With("tenant_id", "acme").WithGroup("rule")
	child.Info("dropped by level")
	child.Warn("kept", "id", "r1")

	out := buf.String()
	assert.NotContains(t, out, "dropped by level")
	assert.Contains(t, out, `"tenant_id":"acme"`)
	assert.Contains(t, out, `"rule":{"id":"r1"}`)
}

func TestCountHTTPStatus(t *testing.T) {
	before := Snapshot()
	CountHTTPStatus(200)
	CountHTTPStatus(400)
	CountHTTPStatus(404)
	CountHTTPStatus(422)
	CountHTTPStatus(500)
	CountSlowRequest()
	after := Snapshot()

	assert.Equal(t, int64(3), after.HTTP4xx-before.HTTP4xx)
	assert.Equal(t, int64(1), after.HTTP400-before.HTTP400)
	assert.Equal(t, int64(1), after.HTTP404-before.HTTP404)
	assert.Equal(t, int64(1), after.HTTP5xx-before.HTTP5xx)
	assert.Equal(t, int64(1), after.SlowRequests-before.SlowRequests)
}
