package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfelipe/argus/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        config.AppConfig
		logFn      func(l *slog.Logger)
		wantJSON   bool
		wantOutput bool
	}{
		{
			name: "Should emit JSON records with identity attributes",
			cfg: config.AppConfig{
				Name:        "argus-mapper",
				Version:     "1.2.3",
				Environment: "production",
				LogLevel:    "info",
				LogFormat:   "json",
			},
			logFn:      func(l *slog.Logger) { l.Info("cache warmed") },
			wantJSON:   true,
			wantOutput: true,
		},
		{
			name: "Should emit human-readable text records when configured",
			cfg: config.AppConfig{
				Name:        "argus-model",
				Version:     "dev",
				Environment: "development",
				LogLevel:    "debug",
				LogFormat:   "text",
			},
			logFn:      func(l *slog.Logger) { l.Debug("mapping stored") },
			wantJSON:   false,
			wantOutput: true,
		},
		{
			name: "Should suppress records below the configured level",
			cfg: config.AppConfig{
				Name:        "argus-mapper",
				Version:     "dev",
				Environment: "development",
				LogLevel:    "warn",
				LogFormat:   "json",
			},
			logFn:      func(l *slog.Logger) { l.Info("below threshold") },
			wantJSON:   true,
			wantOutput: false,
		},
		{
			name: "Should default to JSON on an unknown format",
			cfg: config.AppConfig{
				Name:        "argus-mapper",
				Version:     "dev",
				Environment: "production",
				LogLevel:    "info",
				LogFormat:   "yaml",
			},
			logFn:      func(l *slog.Logger) { l.Info("fallback") },
			wantJSON:   true,
			wantOutput: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			log := NewWithWriter(&tt.cfg, &buf)
			tt.logFn(log)

			if !tt.wantOutput {
				assert.Empty(t, buf.String())
				return
			}

			require.NotEmpty(t, buf.String())

			if tt.wantJSON {
				var record map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &record),
					"JSON handler must produce parseable records")
				assert.Equal(t, tt.cfg.Name, record["service"])
				assert.Equal(t, tt.cfg.Version, record["version"])
				assert.Equal(t, tt.cfg.Environment, record["env"])
			} else {
				assert.True(t, strings.Contains(buf.String(), "service="+tt.cfg.Name))
			}
		})
	}
}

func TestNewWithWriter_NilConfigPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewWithWriter(nil, &bytes.Buffer{})
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{name: "lowercase debug", input: "debug", want: slog.LevelDebug},
		{name: "uppercase is accepted", input: "WARN", want: slog.LevelWarn},
		{name: "mixed case is accepted", input: "Error", want: slog.LevelError},
		{name: "unknown value falls back to info", input: "verbose", want: slog.LevelInfo},
		{name: "empty value falls back to info", input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}
