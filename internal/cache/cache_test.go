package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StephenDMay/loom/internal/config"
)

func testStageConfig(stage string) config.EffectiveStageConfig {
	return config.EffectiveStageConfig{
		Stage:        stage,
		Provider:     "anthropic",
		Model:        "claude-3-5-sonnet-20241022",
		Temperature:  0.7,
		MaxTokens:    4096,
		RetryCount:   2,
		Timeout:      60 * time.Second,
		Required:     true,
		FallbackMode: config.FallbackHalt,
	}
}

func TestKey_Deterministic(t *testing.T) {
	cfg := testStageConfig("project-analysis")
	inputs := map[string]string{"task": "add export button", "project_analysis": "a Go CLI"}

	k1 := Key(cfg, inputs)
	k2 := Key(cfg, map[string]string{"project_analysis": "a Go CLI", "task": "add export button"})

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64) // sha256 hex
}

func TestKey_SensitiveToEachComponent(t *testing.T) {
	base := testStageConfig("project-analysis")
	inputs := map[string]string{"task": "add export button"}
	baseKey := Key(base, inputs)

	otherStage := base
	otherStage.Stage = "feature-research"
	assert.NotEqual(t, baseKey, Key(otherStage, inputs))

	otherTemp := base
	otherTemp.Temperature = 0.2
	assert.NotEqual(t, baseKey, Key(otherTemp, inputs))

	otherModel := base
	otherModel.Model = "claude-3-haiku"
	assert.NotEqual(t, baseKey, Key(otherModel, inputs))

	assert.NotEqual(t, baseKey, Key(base, map[string]string{"task": "remove export button"}))
	assert.NotEqual(t, baseKey, Key(base, nil))
}

func TestKey_AbsentVersusEmptyInput(t *testing.T) {
	cfg := testStageConfig("project-analysis")

	withEmpty := Key(cfg, map[string]string{"task": ""})
	without := Key(cfg, map[string]string{})

	assert.NotEqual(t, withEmpty, without)
}

func TestMemory_LookupAndStore(t *testing.T) {
	c := NewMemory()

	_, ok := c.Lookup("deadbeefdeadbeef")
	assert.False(t, ok)

	require.NoError(t, c.Store("deadbeefdeadbeef", Entry{Stage: "project-analysis", Output: "result"}))

	e, ok := c.Lookup("deadbeefdeadbeef")
	require.True(t, ok)
	assert.Equal(t, "result", e.Output)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestMemory_LatestFor(t *testing.T) {
	c := NewMemory()

	_, ok := c.LatestFor("project-analysis")
	assert.False(t, ok)

	require.NoError(t, c.Store("aaaaaaaaaaaaaaaa", Entry{Stage: "project-analysis", Output: "first"}))
	require.NoError(t, c.Store("bbbbbbbbbbbbbbbb", Entry{Stage: "project-analysis", Output: "second"}))

	e, ok := c.LatestFor("project-analysis")
	require.True(t, ok)
	assert.Equal(t, "second", e.Output)
}

func TestFile_RoundTrip(t *testing.T) {
	c, err := NewFile(t.TempDir())
	require.NoError(t, err)

	key := Key(testStageConfig("project-analysis"), map[string]string{"task": "x"})
	require.NoError(t, c.Store(key, Entry{Stage: "project-analysis", Output: "persisted", CreatedAt: time.Now()}))

	e, ok := c.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "persisted", e.Output)

	latest, ok := c.LatestFor("project-analysis")
	require.True(t, ok)
	assert.Equal(t, "persisted", latest.Output)
}

func TestFile_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	c1, err := NewFile(dir)
	require.NoError(t, err)
	key := Key(testStageConfig("issue-generation"), nil)
	require.NoError(t, c1.Store(key, Entry{Stage: "issue-generation", Output: "issue body"}))

	c2, err := NewFile(dir)
	require.NoError(t, err)
	e, ok := c2.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "issue body", e.Output)

	latest, ok := c2.LatestFor("issue-generation")
	require.True(t, ok)
	assert.Equal(t, "issue body", latest.Output)
}

func TestFile_Clear(t *testing.T) {
	c, err := NewFile(t.TempDir())
	require.NoError(t, err)

	key := Key(testStageConfig("project-analysis"), nil)
	require.NoError(t, c.Store(key, Entry{Stage: "project-analysis", Output: "stale"}))
	require.NoError(t, c.Clear())

	_, ok := c.Lookup(key)
	assert.False(t, ok)
	_, ok = c.LatestFor("project-analysis")
	assert.False(t, ok)
}

func TestFile_RejectsMalformedKeys(t *testing.T) {
	c, err := NewFile(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, c.Store("../escape", Entry{Stage: "s", Output: "x"}))
	_, ok := c.Lookup("../escape")
	assert.False(t, ok)
}
