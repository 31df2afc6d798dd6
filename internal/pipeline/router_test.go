package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterFallsBack(t *testing.T) {
	r := NewRouter(map[string]string{"rules": "R", "Ollama": "O"}, "rules")

	got, err := r.Route(" OLLAMA ")
	require.NoError(t, err)
	assert.Equal(t, "O", got)

	got, err = r.Route("openai")
	require.NoError(t, err)
	assert.Equal(t, "R", got)

	assert.Equal(t, []string{"ollama", "rules"}, r.Engines())
}

func TestRouterWithoutFallback(t *testing.T) {
	r := NewRouter(map[string]int{"a": 1}, "missing")
	_, err := r.Route("b")
	assert.Error(t, err)
}
