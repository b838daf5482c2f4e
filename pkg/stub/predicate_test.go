package stub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicateOperators(t *testing.T) {
	request := map[string]any{
		"data":        "Hello, World!",
		"requestFrom": "127.0.0.1:53422",
	}

	tests := []struct {
		name      string
		predicate Predicate
		want      bool
	}{
		{
			name:      "equals match is case-insensitive by default",
			predicate: Predicate{Equals: map[string]any{"data": "hello, world!"}},
			want:      true,
		},
		{
			name:      "equals respects caseSensitive",
			predicate: Predicate{Equals: map[string]any{"data": "hello, world!"}, CaseSensitive: true},
			want:      false,
		},
		{
			name:      "equals no match",
			predicate: Predicate{Equals: map[string]any{"data": "goodbye"}},
			want:      false,
		},
		{
			name:      "equals on missing field",
			predicate: Predicate{Equals: map[string]any{"nope": "x"}},
			want:      false,
		},
		{
			name:      "contains",
			predicate: Predicate{Contains: map[string]any{"data": "world"}},
			want:      true,
		},
		{
			name:      "startsWith",
			predicate: Predicate{StartsWith: map[string]any{"data": "hello"}},
			want:      true,
		},
		{
			name:      "startsWith no match",
			predicate: Predicate{StartsWith: map[string]any{"data": "world"}},
			want:      false,
		},
		{
			name:      "endsWith",
			predicate: Predicate{EndsWith: map[string]any{"data": "world!"}},
			want:      true,
		},
		{
			name:      "matches regex",
			predicate: Predicate{Matches: map[string]any{"data": "^hello.*!$"}},
			want:      true,
		},
		{
			name:      "matches regex respects caseSensitive",
			predicate: Predicate{Matches: map[string]any{"data": "^hello"}, CaseSensitive: true},
			want:      false,
		},
		{
			name:      "exists true",
			predicate: Predicate{Exists: map[string]bool{"data": true}},
			want:      true,
		},
		{
			name:      "exists false on present field",
			predicate: Predicate{Exists: map[string]bool{"data": false}},
			want:      false,
		},
		{
			name:      "exists false on absent field",
			predicate: Predicate{Exists: map[string]bool{"nope": false}},
			want:      true,
		},
		{
			name: "and requires all",
			predicate: Predicate{And: []Predicate{
				{StartsWith: map[string]any{"data": "hello"}},
				{EndsWith: map[string]any{"data": "!"}},
			}},
			want: true,
		},
		{
			name: "and fails on one",
			predicate: Predicate{And: []Predicate{
				{StartsWith: map[string]any{"data": "hello"}},
				{EndsWith: map[string]any{"data": "?"}},
			}},
			want: false,
		},
		{
			name: "or requires one",
			predicate: Predicate{Or: []Predicate{
				{Equals: map[string]any{"data": "nope"}},
				{Contains: map[string]any{"data": "world"}},
			}},
			want: true,
		},
		{
			name:      "not inverts",
			predicate: Predicate{Not: &Predicate{Equals: map[string]any{"data": "nope"}}},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.predicate.Match(request)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredicateNestedFields(t *testing.T) {
	request := map[string]any{
		"headers": map[string]any{"Content-Type": "application/json"},
	}

	p := Predicate{Equals: map[string]any{
		"headers": map[string]any{"Content-Type": "application/json"},
	}}
	got, err := p.Match(request)
	require.NoError(t, err)
	assert.True(t, got)

	p = Predicate{Equals: map[string]any{
		"headers": map[string]any{"Content-Type": "text/plain"},
	}}
	got, err = p.Match(request)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestPredicateNumbersCompareAcrossTypes(t *testing.T) {
	// JSON decoding yields float64; predicates loaded from config hold
	// float64 while transports may supply int. Both must compare equal.
	p := Predicate{Equals: map[string]any{"statusCode": float64(200)}}
	got, err := p.Match(map[string]any{"statusCode": 200})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPredicateJSONPath(t *testing.T) {
	request := map[string]any{
		"body": `{"user": {"name": "alice", "age": 30}, "tags": ["a", "b"]}`,
	}

	tests := []struct {
		name      string
		predicate Predicate
		want      bool
	}{
		{
			name:      "selector match",
			predicate: Predicate{JSONPath: map[string]any{"$.user.name": "alice"}},
			want:      true,
		},
		{
			name:      "selector no match",
			predicate: Predicate{JSONPath: map[string]any{"$.user.name": "bob"}},
			want:      false,
		},
		{
			name:      "numeric value",
			predicate: Predicate{JSONPath: map[string]any{"$.user.age": float64(30)}},
			want:      true,
		},
		{
			name:      "missing path",
			predicate: Predicate{JSONPath: map[string]any{"$.user.email": "x"}},
			want:      false,
		},
		{
			name:      "non-json body",
			predicate: Predicate{JSONPath: map[string]any{"$.a": "b"}},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request
			if tt.name == "non-json body" {
				req = map[string]any{"body": "plain text"}
			}
			got, err := tt.predicate.Match(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredicateErrors(t *testing.T) {
	t.Run("invalid regex", func(t *testing.T) {
		p := Predicate{Matches: map[string]any{"data": "["}}
		_, err := p.Match(map[string]any{"data": "x"})
		assert.Error(t, err)
	})

	t.Run("invalid jsonpath selector", func(t *testing.T) {
		p := Predicate{JSONPath: map[string]any{"$[": "x"}}
		_, err := p.Match(map[string]any{"body": `{"a": 1}`})
		assert.Error(t, err)
	})

	t.Run("empty predicate", func(t *testing.T) {
		p := Predicate{}
		_, err := p.Match(map[string]any{"data": "x"})
		assert.Error(t, err)
	})
}
