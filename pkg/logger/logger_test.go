package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainscraper/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "info level", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "debug level", cfg: &config.LoggingConfig{Level: "DEBUG"}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "chatty"}, wantErr: true},
		{name: "file output", cfg: &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func newBufferLogger(buf *bytes.Buffer) *zerologLogger {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	zlog := zerolog.New(buf).Level(zerolog.DebugLevel)
	return &zerologLogger{logger: &zlog, fields: map[string]interface{}{}}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	base := newBufferLogger(&buf)

	child := base.WithField("proxy", "1.2.3.4:8080")
	child.Info("child")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "1.2.3.4:8080", entry["proxy"])

	buf.Reset()
	base.Info("parent")
	entry = decodeLine(t, &buf)
	assert.NotContains(t, entry, "proxy")
}

func TestStructuredLogging(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf).WithField("component", "engine")

	l.WarnWithFields("rotating", map[string]interface{}{
		"page":   3,
		"reason": "challenge_unsolvable",
	})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "rotating", entry["message"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, float64(3), entry["page"])
	assert.Equal(t, "challenge_unsolvable", entry["reason"])
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.WithError(errors.New("boom")).Error("failed")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])

	assert.Same(t, l, l.WithError(nil))
}

func TestTestLoggerCapturesFieldsAndErrors(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("proxy", "p1").WithError(errors.New("timeout"))
	child.WarnWithFields("fetch failed", map[string]interface{}{"url": "http://x"})
	tl.Info("plain")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "WARN", msgs[0].Level)
	assert.Equal(t, "p1", msgs[0].Fields["proxy"])
	assert.Equal(t, "http://x", msgs[0].Fields["url"])
	assert.EqualError(t, msgs[0].Error, "timeout")

	assert.True(t, tl.HasMessage("plain"))
	assert.True(t, tl.HasMessageContaining("fetch"))
	assert.False(t, tl.HasError())

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	tl := NewTestLogger()
	SetLogger(tl)
	defer SetLogger(nil)

	LogProxyVerdict(nil, "1.2.3.4:80", "1.2.3.4", true)
	LogProxyVerdict(nil, "5.6.7.8:80", "9.9.9.9", false)
	LogCrawlProgress(nil, 2, 100, 200, 50)

	assert.True(t, tl.HasMessage("Proxy verified"))
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 1)
	progress := tl.GetMessagesByLevel("INFO")
	require.Len(t, progress, 2)
	assert.Equal(t, 50.0, progress[1].Fields["percentage"])
}

func TestHelpersUseGivenLogger(t *testing.T) {
	global := NewTestLogger()
	SetLogger(global)
	defer SetLogger(nil)

	own := NewTestLogger()
	LogComponentStart(own, "driver", map[string]interface{}{"start_page": 3})
	LogCrawlProgress(own, 3, 10, 20, 5)
	LogComponentStop(own, "driver", "completed")

	assert.Empty(t, global.GetMessages())
	msgs := own.GetMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "driver", msgs[0].Fields["component"])
	assert.Equal(t, 3, msgs[0].Fields["start_page"])
	assert.Equal(t, "completed", msgs[2].Fields["reason"])
}
