package stub

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Proxy modes controlling whether and where upstream responses are
// recorded as stubs.
const (
	// ModeProxyOnce records each upstream response as a stub placed
	// before the proxy stub, so subsequent matching requests replay the
	// recording instead of dialing again.
	ModeProxyOnce = "proxyOnce"

	// ModeProxyAlways records upstream responses after the proxy stub;
	// the proxy keeps winning and recordings accumulate for later
	// replay.
	ModeProxyAlways = "proxyAlways"

	// ModeProxyTransparent forwards without recording anything.
	ModeProxyTransparent = "proxyTransparent"
)

// Response is a single response definition within a stub. Exactly one of
// Is, Proxy, or Inject should be set.
type Response struct {
	// Is is a literal response returned as-is.
	Is map[string]any `json:"is,omitempty" yaml:"is,omitempty"`

	// Proxy forwards the request to a real upstream.
	Proxy *Proxy `json:"proxy,omitempty" yaml:"proxy,omitempty"`

	// Inject is an expression evaluated against the request and the
	// imposter's state bag to produce the response.
	Inject string `json:"inject,omitempty" yaml:"inject,omitempty"`

	// Repeat serves this response the given number of times before the
	// stub advances to its next response. Zero means once.
	Repeat int `json:"repeat,omitempty" yaml:"repeat,omitempty"`

	// Behaviors adjust how the response is delivered.
	Behaviors *Behaviors `json:"behaviors,omitempty" yaml:"behaviors,omitempty"`
}

// Behaviors are response delivery adjustments.
type Behaviors struct {
	// Wait delays the response by the given number of milliseconds.
	Wait int `json:"wait,omitempty" yaml:"wait,omitempty"`
}

// Proxy describes an upstream to forward matching requests to.
type Proxy struct {
	// To is the upstream address, e.g. "localhost:3000" or a URL.
	To string `json:"to" yaml:"to"`

	// Mode is one of proxyOnce (default), proxyAlways, or
	// proxyTransparent.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// EffectiveMode returns the proxy mode, defaulting to proxyOnce.
func (p *Proxy) EffectiveMode() string {
	if p == nil || p.Mode == "" {
		return ModeProxyOnce
	}
	return p.Mode
}

// UnmarshalJSON accepts both the current string form of "to" and the
// legacy object form {"host": ..., "port": ...}, rewriting the latter to
// "host:port" once at load time.
func (p *Proxy) UnmarshalJSON(data []byte) error {
	var probe struct {
		To   json.RawMessage `json:"to"`
		Mode string          `json:"mode"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	p.Mode = probe.Mode

	if len(probe.To) == 0 {
		return nil
	}
	if probe.To[0] == '{' {
		var legacy struct {
			Host string `json:"host"`
			Port int    `json:"port"`
		}
		if err := json.Unmarshal(probe.To, &legacy); err != nil {
			return fmt.Errorf("invalid proxy.to: %w", err)
		}
		p.To = net.JoinHostPort(legacy.Host, strconv.Itoa(legacy.Port))
		return nil
	}
	return json.Unmarshal(probe.To, &p.To)
}

// Match records one resolved request/response pair against the stub that
// produced it. Populated only when match recording is enabled.
type Match struct {
	Timestamp time.Time      `json:"timestamp"`
	Request   map[string]any `json:"request"`
	Response  map[string]any `json:"response"`
}

// Stub pairs predicates with an ordered list of candidate responses.
type Stub struct {
	Predicates []Predicate `json:"predicates,omitempty" yaml:"predicates,omitempty"`
	Responses  []Response  `json:"responses,omitempty" yaml:"responses,omitempty"`

	// Matches is runtime-only match history; never loaded from config.
	Matches []Match `json:"matches,omitempty" yaml:"-"`

	// recorded marks stubs captured from proxy traffic. ResetProxies
	// removes exactly these.
	recorded bool

	// Response rotation state, owned by the store's lock.
	next      int
	remaining int
}

// UnmarshalJSON accepts both the current plural "responses" list and the
// legacy singular "response" field, upgrading the latter to a
// one-element list.
func (s *Stub) UnmarshalJSON(data []byte) error {
	type stubAlias Stub
	if err := json.Unmarshal(data, (*stubAlias)(s)); err != nil {
		return err
	}
	var legacy struct {
		Response *Response `json:"response"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	if legacy.Response != nil && len(s.Responses) == 0 {
		s.Responses = []Response{*legacy.Response}
	}
	return nil
}

// Clone returns a deep copy of the stub's configuration and match
// history. Rotation state and the recorded flag are not copied.
func (s *Stub) Clone() Stub {
	out := Stub{
		Predicates: clonePredicates(s.Predicates),
		Responses:  cloneResponses(s.Responses),
	}
	for _, m := range s.Matches {
		out.Matches = append(out.Matches, Match{
			Timestamp: m.Timestamp,
			Request:   CloneMap(m.Request),
			Response:  CloneMap(m.Response),
		})
	}
	return out
}

func cloneResponses(responses []Response) []Response {
	if responses == nil {
		return nil
	}
	out := make([]Response, len(responses))
	for i, r := range responses {
		out[i] = Response{
			Is:     CloneMap(r.Is),
			Inject: r.Inject,
			Repeat: r.Repeat,
		}
		if r.Proxy != nil {
			p := *r.Proxy
			out[i].Proxy = &p
		}
		if r.Behaviors != nil {
			b := *r.Behaviors
			out[i].Behaviors = &b
		}
	}
	return out
}

// CloneMap deep-copies a generic JSON-shaped map. Values that are not
// maps, slices, or scalars are copied by reference.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
