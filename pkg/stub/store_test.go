package stub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(map[string]any{"data": ""})
}

func getResponse(t *testing.T, s *Store, request map[string]any) *ResponseConfig {
	t.Helper()
	cfg, err := s.GetResponseFor(request, nil, map[string]any{})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	return cfg
}

func TestFirstMatchingStubWins(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{
		Predicates: []Predicate{{Contains: map[string]any{"data": "hello"}}},
		Responses:  []Response{{Is: map[string]any{"data": "first"}}},
	})
	s.AddStub(&Stub{
		Predicates: []Predicate{{Contains: map[string]any{"data": "hello"}}},
		Responses:  []Response{{Is: map[string]any{"data": "second"}}},
	})

	cfg := getResponse(t, s, map[string]any{"data": "hello there"})
	assert.Equal(t, "first", cfg.Response.Is["data"])
}

func TestNoMatchReturnsDefaultResponse(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{
		Predicates: []Predicate{{Equals: map[string]any{"data": "specific"}}},
		Responses:  []Response{{Is: map[string]any{"data": "stubbed"}}},
	})

	cfg := getResponse(t, s, map[string]any{"data": "anything else"})
	assert.Equal(t, "", cfg.Response.Is["data"])

	// Default responses have no stub, so match recording is a no-op.
	cfg.RecordMatch(Match{})
	for _, st := range s.Stubs() {
		assert.Empty(t, st.Matches)
	}
}

func TestStubWithNoPredicatesMatchesEverything(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{Responses: []Response{{Is: map[string]any{"data": "always"}}}})

	cfg := getResponse(t, s, map[string]any{"data": "whatever"})
	assert.Equal(t, "always", cfg.Response.Is["data"])
}

func TestResponsesCycleInOrder(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{
		Responses: []Response{
			{Is: map[string]any{"data": "a"}},
			{Is: map[string]any{"data": "b"}},
		},
	})

	var got []string
	for i := 0; i < 5; i++ {
		cfg := getResponse(t, s, map[string]any{"data": "x"})
		got = append(got, cfg.Response.Is["data"].(string))
	}
	assert.Equal(t, []string{"a", "b", "a", "b", "a"}, got)
}

func TestRepeatHoldsResponseBeforeAdvancing(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{
		Responses: []Response{
			{Is: map[string]any{"data": "a"}, Repeat: 3},
			{Is: map[string]any{"data": "b"}},
		},
	})

	var got []string
	for i := 0; i < 5; i++ {
		cfg := getResponse(t, s, map[string]any{"data": "x"})
		got = append(got, cfg.Response.Is["data"].(string))
	}
	assert.Equal(t, []string{"a", "a", "a", "b", "a"}, got)
}

func TestPredicateErrorPropagates(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{
		Predicates: []Predicate{{Matches: map[string]any{"data": "["}}},
		Responses:  []Response{{Is: map[string]any{"data": "x"}}},
	})

	_, err := s.GetResponseFor(map[string]any{"data": "x"}, nil, nil)
	assert.Error(t, err)
}

func TestChosenResponseIsACopy(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{Responses: []Response{{Is: map[string]any{"data": "original"}}}})

	cfg := getResponse(t, s, map[string]any{})
	cfg.Response.Is["data"] = "mutated"

	snapshot := s.Stubs()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "original", snapshot[0].Responses[0].Is["data"])
}

func TestRecordMatchAppendsToStub(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{Responses: []Response{{Is: map[string]any{"data": "x"}}}})

	cfg := getResponse(t, s, map[string]any{"data": "in"})
	cfg.RecordMatch(Match{Request: map[string]any{"data": "in"}, Response: map[string]any{"data": "x"}})

	snapshot := s.Stubs()
	require.Len(t, snapshot, 1)
	require.Len(t, snapshot[0].Matches, 1)
	assert.Equal(t, "in", snapshot[0].Matches[0].Request["data"])
}

func TestRecordProxyResponseOnce(t *testing.T) {
	s := newTestStore()
	proxyStub := &Stub{
		Responses: []Response{{Proxy: &Proxy{To: "localhost:9999", Mode: ModeProxyOnce}}},
	}
	s.AddStub(proxyStub)

	cfg := getResponse(t, s, map[string]any{"data": "x"})
	require.NotNil(t, cfg.Response.Proxy)

	s.RecordProxyResponse(cfg, map[string]any{"data": "captured"})

	// Recording is inserted before the proxy stub, so replay wins.
	cfg = getResponse(t, s, map[string]any{"data": "x"})
	require.Nil(t, cfg.Response.Proxy)
	assert.Equal(t, "captured", cfg.Response.Is["data"])
}

func TestRecordProxyResponseAlways(t *testing.T) {
	s := newTestStore()
	proxyStub := &Stub{
		Responses: []Response{{Proxy: &Proxy{To: "localhost:9999", Mode: ModeProxyAlways}}},
	}
	s.AddStub(proxyStub)

	cfg := getResponse(t, s, map[string]any{"data": "x"})
	s.RecordProxyResponse(cfg, map[string]any{"data": "one"})
	cfg = getResponse(t, s, map[string]any{"data": "x"})
	s.RecordProxyResponse(cfg, map[string]any{"data": "two"})

	// The proxy keeps winning; recordings accumulate after it.
	cfg = getResponse(t, s, map[string]any{"data": "x"})
	require.NotNil(t, cfg.Response.Proxy)

	snapshot := s.Stubs()
	require.Len(t, snapshot, 2)
	assert.Len(t, snapshot[1].Responses, 2)
}

func TestRecordProxyResponseTransparent(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{
		Responses: []Response{{Proxy: &Proxy{To: "localhost:9999", Mode: ModeProxyTransparent}}},
	})

	cfg := getResponse(t, s, map[string]any{"data": "x"})
	s.RecordProxyResponse(cfg, map[string]any{"data": "captured"})

	assert.Equal(t, 1, s.Count())
}

func TestResetProxiesRemovesOnlyRecordings(t *testing.T) {
	s := newTestStore()
	s.AddStub(&Stub{
		Predicates: []Predicate{{Equals: map[string]any{"data": "keep"}}},
		Responses:  []Response{{Is: map[string]any{"data": "kept"}}},
	})
	proxyStub := &Stub{
		Responses: []Response{{Proxy: &Proxy{To: "localhost:9999"}}},
	}
	s.AddStub(proxyStub)

	cfg := getResponse(t, s, map[string]any{"data": "x"})
	s.RecordProxyResponse(cfg, map[string]any{"data": "captured"})
	require.Equal(t, 3, s.Count())

	s.ResetProxies()
	assert.Equal(t, 2, s.Count())

	cfg = getResponse(t, s, map[string]any{"data": "keep"})
	assert.Equal(t, "kept", cfg.Response.Is["data"])
}
