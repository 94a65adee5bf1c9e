package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"bad format", &Config{Level: "info", Format: "xml"}},
		{"bad level", &Config{Level: "verbose", Format: "json"}},
		{"empty field key", &Config{Level: "info", Format: "json", Fields: map[string]string{"": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogger(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig())
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRunID(ctx, "run-123")
	ctx = WithStage(ctx, "project-analysis")

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "run.id", fields[0].Key)
	assert.Equal(t, "run-123", fields[0].String)
	assert.Equal(t, "stage", fields[1].Key)
	assert.Equal(t, "project-analysis", fields[1].String)
}

func TestLogger_ContextFieldsAttached(t *testing.T) {
	logger := NewTestLogger()
	ctx := WithRunID(context.Background(), "run-abc")

	logger.Info(ctx, "stage completed")

	entries := logger.FilterMessage("stage completed").All()
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Context, 1)
	assert.Equal(t, "run-abc", entries[0].Context[0].String)
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		clean bool
	}{
		{"api key assignment", `api_key: "abcd1234"`, false},
		{"bearer token", "Authorization: Bearer eyJhbGci.payload", false},
		{"openai style key", "sk-proj-abcdefghijklmnop", false},
		{"plain text", "analyze the billing module", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(tt.in)
			if tt.clean {
				assert.Equal(t, tt.in, out)
			} else {
				assert.Contains(t, out, redactedPlaceholder)
			}
		})
	}
}

func TestPreview_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	out := Preview(string(long), 200)
	assert.Contains(t, out, "[truncated]")
	assert.Less(t, len(out), 250)
}
