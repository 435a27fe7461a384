package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedDefaultsPresent(t *testing.T) {
	s := NewStore("")

	keys := []string{
		"action/system", "action/human", "action/code", "action/task",
		"critic/system", "critic/human", "critic/code",
		"curriculum/task_proposal", "curriculum/task_context",
		"curriculum/qa_step1", "curriculum/qa_step2",
		"skill/skill_description", "skill/skill_review",
		"skill/skill_analysis", "skill/skill_integration",
	}
	for _, key := range keys {
		tmpl, err := s.Load(key)
		require.NoError(t, err, key)
		assert.NotEmpty(t, tmpl, key)
	}
}

func TestDiskOverridesEmbedded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "action"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "action", "system.txt"), []byte("custom {{skills}}"), 0644))

	s := NewStore(dir)
	out, err := s.Render("action/system", map[string]string{"skills": "none"})
	require.NoError(t, err)
	assert.Equal(t, "custom none", out)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	out := Substitute("a {{known}} and {{unknown}}", map[string]string{"known": "value"})
	assert.Equal(t, "a value and {{unknown}}", out)
}

func TestLoadUnknownKeyErrors(t *testing.T) {
	s := NewStore("")
	_, err := s.Load("nope/missing")
	assert.Error(t, err)
}
