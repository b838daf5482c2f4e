package stub

import (
	"log/slog"
	"sync"
)

// Store is a thread-safe, ordered collection of stubs. The first stub
// whose predicates all match the request answers it; within a stub,
// responses cycle in declaration order.
type Store struct {
	mu              sync.Mutex
	stubs           []*Stub
	defaultResponse map[string]any
}

// NewStore creates an empty store. defaultResponse is the literal
// response served when no stub matches; protocols supply their own
// (e.g. {"data": ""} for TCP).
func NewStore(defaultResponse map[string]any) *Store {
	return &Store{defaultResponse: CloneMap(defaultResponse)}
}

// AddStub appends a stub to the end of the match order.
func (s *Store) AddStub(st *Stub) {
	if st == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, st)
}

// GetResponseFor finds the first stub matching the request and returns
// its next response wrapped in a ResponseConfig. The state bag is passed
// through so stateful predicates can consult it; the built-in predicate
// set does not use it. When no stub matches, the store's default
// response is returned with a no-op match recorder.
func (s *Store) GetResponseFor(request map[string]any, log *slog.Logger, state map[string]any) (*ResponseConfig, error) {
	_ = state

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.stubs {
		matched := true
		for i := range st.Predicates {
			ok, err := st.Predicates[i].Match(request)
			if err != nil {
				return nil, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		resp, ok := s.nextResponseLocked(st)
		if !ok {
			// A stub with no responses cannot answer; keep looking.
			continue
		}
		if log != nil {
			log.Debug("stub matched", "predicates", len(st.Predicates))
		}
		return &ResponseConfig{Response: resp, stub: st, store: s}, nil
	}

	return &ResponseConfig{Response: Response{Is: CloneMap(s.defaultResponse)}}, nil
}

// nextResponseLocked advances the stub's response rotation, honoring
// per-response repeat counts. Must be called with s.mu held.
func (s *Store) nextResponseLocked(st *Stub) (Response, bool) {
	if len(st.Responses) == 0 {
		return Response{}, false
	}
	if st.next >= len(st.Responses) {
		st.next = 0
	}
	resp := st.Responses[st.next]
	if st.remaining == 0 {
		st.remaining = resp.Repeat
		if st.remaining == 0 {
			st.remaining = 1
		}
	}
	st.remaining--
	if st.remaining == 0 {
		st.next = (st.next + 1) % len(st.Responses)
	}
	return cloneResponses([]Response{resp})[0], true
}

// Stubs returns a deep snapshot of the current stubs in match order.
func (s *Store) Stubs() []Stub {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Stub, 0, len(s.stubs))
	for _, st := range s.stubs {
		out = append(out, st.Clone())
	}
	return out
}

// Count returns the number of stubs, including proxy recordings.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stubs)
}

// ResetProxies removes every stub that was recorded from proxy traffic,
// leaving user-declared stubs and their rotation state untouched.
func (s *Store) ResetProxies() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.stubs[:0]
	for _, st := range s.stubs {
		if !st.recorded {
			kept = append(kept, st)
		}
	}
	s.stubs = kept
}

// RecordProxyResponse saves an upstream response captured through the
// given proxy response config. proxyOnce recordings are inserted before
// the source stub so they win on the next matching request; proxyAlways
// recordings accumulate after it.
func (s *Store) RecordProxyResponse(source *ResponseConfig, response map[string]any) {
	if source == nil || source.stub == nil || source.Response.Proxy == nil {
		return
	}
	mode := source.Response.Proxy.EffectiveMode()
	if mode == ModeProxyTransparent {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recorded := &Stub{
		Predicates: clonePredicates(source.stub.Predicates),
		Responses:  []Response{{Is: CloneMap(response)}},
		recorded:   true,
	}

	idx := s.indexOfLocked(source.stub)
	if idx < 0 {
		s.stubs = append(s.stubs, recorded)
		return
	}

	switch mode {
	case ModeProxyAlways:
		// Merge into an existing recording for this proxy if present.
		for i := idx + 1; i < len(s.stubs); i++ {
			if s.stubs[i].recorded {
				s.stubs[i].Responses = append(s.stubs[i].Responses, recorded.Responses[0])
				return
			}
		}
		s.stubs = append(s.stubs, recorded)
	default: // proxyOnce
		s.stubs = append(s.stubs[:idx], append([]*Stub{recorded}, s.stubs[idx:]...)...)
	}
}

func (s *Store) indexOfLocked(st *Stub) int {
	for i, candidate := range s.stubs {
		if candidate == st {
			return i
		}
	}
	return -1
}

// ResponseConfig is the outcome of a stub match: the chosen response
// definition plus enough context to record the match against the stub
// that produced it.
type ResponseConfig struct {
	// Response is the chosen response definition, deep-copied from the
	// stub so resolution cannot mutate stored configuration.
	Response Response

	stub  *Stub
	store *Store
}

// RecordMatch appends a match record to the originating stub. It is a
// no-op for default responses, which have no stub.
func (rc *ResponseConfig) RecordMatch(m Match) {
	if rc == nil || rc.stub == nil || rc.store == nil {
		return
	}
	rc.store.mu.Lock()
	defer rc.store.mu.Unlock()
	rc.stub.Matches = append(rc.stub.Matches, m)
}
