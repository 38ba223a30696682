package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promptDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scoring"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filter_prompt.txt"),
		[]byte("Rate the topics below.\n{topic_descriptions}\nRespond with JSON."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "topic_descriptions.yaml"),
		[]byte("housing: cost and supply of housing\nhealth: the public health system\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scoring", "housing.txt"),
		[]byte("Score stance on housing policy."), 0o644))
	return dir
}

func TestFilterPrompt_InjectsRequestedTopics(t *testing.T) {
	p := NewPrompts(promptDir(t))

	prompt, err := p.FilterPrompt([]string{"housing"})
	require.NoError(t, err)
	assert.Contains(t, prompt, "- housing: cost and supply of housing")
	assert.NotContains(t, prompt, "health")
	assert.NotContains(t, prompt, "{topic_descriptions}")
}

func TestFilterPrompt_UnknownTopicOmitted(t *testing.T) {
	p := NewPrompts(promptDir(t))

	prompt, err := p.FilterPrompt([]string{"housing", "defense"})
	require.NoError(t, err)
	assert.Contains(t, prompt, "housing")
	assert.NotContains(t, prompt, "defense")
}

func TestScoringPrompt(t *testing.T) {
	p := NewPrompts(promptDir(t))

	prompt, err := p.ScoringPrompt("housing")
	require.NoError(t, err)
	assert.Equal(t, "Score stance on housing policy.", prompt)

	_, err = p.ScoringPrompt("defense")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	p := NewPrompts(promptDir(t))
	assert.NoError(t, p.Validate())

	empty := NewPrompts(t.TempDir())
	err := empty.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filter_prompt.txt")
}
