package stub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubUnmarshalUpgradesSingularResponse(t *testing.T) {
	raw := `{
		"predicates": [{"equals": {"data": "hi"}}],
		"response": {"is": {"data": "hello"}}
	}`

	var s Stub
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	require.Len(t, s.Responses, 1)
	assert.Equal(t, "hello", s.Responses[0].Is["data"])
}

func TestStubUnmarshalPluralResponsesWin(t *testing.T) {
	// When both forms appear, the plural list is authoritative.
	raw := `{
		"responses": [{"is": {"data": "plural"}}],
		"response": {"is": {"data": "singular"}}
	}`

	var s Stub
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	require.Len(t, s.Responses, 1)
	assert.Equal(t, "plural", s.Responses[0].Is["data"])
}

func TestProxyUnmarshalUpgradesLegacyTo(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "string form",
			raw:  `{"to": "localhost:3000"}`,
			want: "localhost:3000",
		},
		{
			name: "legacy object form",
			raw:  `{"to": {"host": "localhost", "port": 3000}}`,
			want: "localhost:3000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Proxy
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &p))
			assert.Equal(t, tt.want, p.To)
		})
	}
}

func TestProxyEffectiveMode(t *testing.T) {
	assert.Equal(t, ModeProxyOnce, (*Proxy)(nil).EffectiveMode())
	assert.Equal(t, ModeProxyOnce, (&Proxy{To: "x"}).EffectiveMode())
	assert.Equal(t, ModeProxyAlways, (&Proxy{To: "x", Mode: ModeProxyAlways}).EffectiveMode())
}

func TestStubCloneIsDeep(t *testing.T) {
	src := Stub{
		Predicates: []Predicate{{Equals: map[string]any{"data": "x"}}},
		Responses: []Response{{
			Is:    map[string]any{"data": "y", "nested": map[string]any{"k": "v"}},
			Proxy: &Proxy{To: "localhost:3000"},
		}},
		Matches: []Match{{Request: map[string]any{"data": "in"}}},
	}

	clone := src.Clone()
	clone.Predicates[0].Equals["data"] = "changed"
	clone.Responses[0].Is["data"] = "changed"
	clone.Responses[0].Is["nested"].(map[string]any)["k"] = "changed"
	clone.Responses[0].Proxy.To = "changed"
	clone.Matches[0].Request["data"] = "changed"

	assert.Equal(t, "x", src.Predicates[0].Equals["data"])
	assert.Equal(t, "y", src.Responses[0].Is["data"])
	assert.Equal(t, "v", src.Responses[0].Is["nested"].(map[string]any)["k"])
	assert.Equal(t, "localhost:3000", src.Responses[0].Proxy.To)
	assert.Equal(t, "in", src.Matches[0].Request["data"])
}

func TestCloneMap(t *testing.T) {
	assert.Nil(t, CloneMap(nil))

	src := map[string]any{
		"scalar": 1,
		"list":   []any{"a", map[string]any{"k": "v"}},
	}
	out := CloneMap(src)
	out["list"].([]any)[1].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", src["list"].([]any)[1].(map[string]any)["k"])
}
