package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptSet(t *testing.T) {
	ps := NewPromptSet()

	require.NoError(t, ps.Register("score", "Score {{.EntityType}} {{.EntityID}}"))
	assert.True(t, ps.Has("score"))

	out, err := ps.Render("score", map[string]string{"EntityType": "lead", "EntityID": "lead-123"})
	require.NoError(t, err)
	assert.Equal(t, "Score lead lead-123", out)

	_, err = ps.Render("missing", nil)
	assert.ErrorContains(t, err, "not found")

	assert.Error(t, ps.Register("broken", "{{.Name"))
	assert.Panics(t, func() { ps.MustRegister("broken", "{{.Name") })
}
