package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc() map[string]any {
	return map[string]any{
		"name": "shop",
		"nodes": []any{
			map[string]any{"name": "web", "type": "app.Web", "properties": map[string]any{"port": int64(80)}},
			map[string]any{"name": "db", "type": "app.DB", "properties": map[string]any{"port": int64(5432)}},
		},
	}
}

func TestJSONPath_Roots(t *testing.T) {
	e := NewJSONPath()
	doc := testDoc()
	web := doc["nodes"].([]any)[0]
	ctx := Context{
		Root:    doc,
		Current: web,
		Vars:    map[string]any{"SOURCE": doc["nodes"].([]any)[1]},
	}

	tests := []struct {
		name string
		src  string
		want []any
	}{
		{"document root", "$.name", []any{"shop"}},
		{"current entity", "@.properties.port", []any{int64(80)}},
		{"implicit current", "name", []any{"web"}},
		{"variable", "$SOURCE.name", []any{"db"}},
		{"bare variable", "$SOURCE", []any{ctx.Vars["SOURCE"]}},
		{"filter", "$.nodes[?(@.type == 'app.DB')].name", []any{"db"}},
		{"no match", "$.nodes[?(@.type == 'app.Cache')]", []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.src, ctx)
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONPath_Errors(t *testing.T) {
	e := NewJSONPath()
	_, err := e.Evaluate("$MISSING.x", Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbound variable $MISSING")

	_, err = e.Evaluate("$.nodes[?(@.type ==", Context{Root: testDoc()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid jsonpath")

	_, err = e.Evaluate("", Context{})
	assert.Error(t, err)
}

func TestJSONPath_CachesParsedExpressions(t *testing.T) {
	e := NewJSONPath()
	ctx := Context{Root: testDoc()}
	_, err := e.Evaluate("$.name", ctx)
	require.NoError(t, err)

	_, ok := e.cache.Load("$.name")
	assert.True(t, ok)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy([]any{nil, false, "", 0, int64(0), 0.0, []any{}, map[string]any{}}))
	assert.True(t, Truthy([]any{false, "x"}))
	assert.True(t, Truthy([]any{map[string]any{"a": 1}}))
}
