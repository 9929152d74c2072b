package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	schema map[string]any
}

func (s stubTool) Name() string           { return s.name }
func (s stubTool) Description() string    { return s.name + " tool" }
func (s stubTool) Schema() map[string]any { return s.schema }
func (s stubTool) Call(context.Context, map[string]any) (*Result, error) {
	return &Result{Text: s.name}, nil
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", raw: "", want: map[string]any{}},
		{name: "whitespace", raw: "  ", want: map[string]any{}},
		{name: "null", raw: "null", want: map[string]any{}},
		{name: "object", raw: `{"city":"东京","days":3}`, want: map[string]any{"city": "东京", "days": float64(3)}},
		{name: "truncated", raw: `{"city":`, wantErr: true},
		{name: "array", raw: `["a"]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArguments(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidArguments))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefinitions(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
	}
	defs := Definitions([]Tool{
		stubTool{name: "maps_weather", schema: schema},
		stubTool{name: "maps_time"},
	})

	require.Len(t, defs, 2)
	assert.Equal(t, "maps_weather", defs[0].Name)
	assert.Equal(t, "maps_weather tool", defs[0].Description)
	assert.Equal(t, schema, defs[0].Parameters)
	// Tools without a schema still get an object schema.
	assert.Equal(t, "object", defs[1].Parameters["type"])
}

func TestFilter(t *testing.T) {
	tools := []Tool{stubTool{name: "a"}, stubTool{name: "b"}, stubTool{name: "c"}}

	t.Run("empty allow list keeps everything", func(t *testing.T) {
		assert.Len(t, Filter(tools, StringPredicate(nil)), 3)
	})

	t.Run("allow list", func(t *testing.T) {
		got := Filter(tools, StringPredicate([]string{"a", "c"}))
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Name())
		assert.Equal(t, "c", got[1].Name())
	})
}
