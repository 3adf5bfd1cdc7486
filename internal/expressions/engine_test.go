package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestRegistry_ForLanguage(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	t.Run("expr", func(t *testing.T) {
		assert.Equal(t, "expr", r.ForLanguage("expr").Name())
	})

	t.Run("cel", func(t *testing.T) {
		assert.Equal(t, "cel", r.ForLanguage("cel").Name())
	})

	t.Run("jq", func(t *testing.T) {
		assert.Equal(t, "jq", r.ForLanguage("jq").Name())
	})

	t.Run("empty tag defaults to expr", func(t *testing.T) {
		assert.Equal(t, "expr", r.ForLanguage("").Name())
	})

	t.Run("unknown tag falls back to expr", func(t *testing.T) {
		assert.Equal(t, "expr", r.ForLanguage("lua").Name())
	})
}

func TestRegistry_SameConditionAcrossEngines(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	data := map[string]any{
		ScopeInput: map[string]any{"score": 85},
	}

	cases := []struct {
		lang string
		expr string
	}{
		{"expr", `input.score > 50`},
		{"cel", `input.score > 50`},
		{"jq", `.input.score > 50`},
	}

	for _, tc := range cases {
		t.Run(tc.lang, func(t *testing.T) {
			out, err := r.ForLanguage(tc.lang).Evaluate(context.Background(), tc.expr, data)
			require.NoError(t, err)
			assert.Equal(t, true, out)
		})
	}
}
