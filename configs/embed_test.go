package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestProjectConfigTemplate_IsValidYAML(t *testing.T) {
	require.NotEmpty(t, ProjectConfigTemplate)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(ProjectConfigTemplate), &doc))

	// Only the version is active; everything else is a commented example.
	assert.Equal(t, map[string]any{"version": 1}, doc)
}
