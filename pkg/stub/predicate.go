package stub

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Predicate is a condition evaluated against an incoming request.
// Exactly one operator field should be set; And/Or/Not compose other
// predicates. String comparison is case-insensitive unless
// CaseSensitive is set.
type Predicate struct {
	Equals     map[string]any `json:"equals,omitempty" yaml:"equals,omitempty"`
	Contains   map[string]any `json:"contains,omitempty" yaml:"contains,omitempty"`
	StartsWith map[string]any `json:"startsWith,omitempty" yaml:"startsWith,omitempty"`
	EndsWith   map[string]any `json:"endsWith,omitempty" yaml:"endsWith,omitempty"`

	// Matches holds field name to regular expression.
	Matches map[string]any `json:"matches,omitempty" yaml:"matches,omitempty"`

	// Exists checks field presence (true) or absence (false).
	Exists map[string]bool `json:"exists,omitempty" yaml:"exists,omitempty"`

	// JSONPath holds JSONPath selector to expected value, evaluated
	// against the request's "body" field (falling back to "data")
	// parsed as JSON.
	JSONPath map[string]any `json:"jsonpath,omitempty" yaml:"jsonpath,omitempty"`

	And []Predicate `json:"and,omitempty" yaml:"and,omitempty"`
	Or  []Predicate `json:"or,omitempty" yaml:"or,omitempty"`
	Not *Predicate  `json:"not,omitempty" yaml:"not,omitempty"`

	CaseSensitive bool `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
}

// Match reports whether the request satisfies the predicate. Invalid
// predicates (bad regular expressions, bad JSONPath selectors) are
// errors, not non-matches.
func (p *Predicate) Match(request map[string]any) (bool, error) {
	switch {
	case p.Equals != nil:
		return p.matchFields(p.Equals, request, func(actual, expected string) bool {
			return actual == expected
		})
	case p.Contains != nil:
		return p.matchFields(p.Contains, request, strings.Contains)
	case p.StartsWith != nil:
		return p.matchFields(p.StartsWith, request, strings.HasPrefix)
	case p.EndsWith != nil:
		return p.matchFields(p.EndsWith, request, strings.HasSuffix)
	case p.Matches != nil:
		return p.matchRegex(request)
	case p.Exists != nil:
		return p.matchExists(request), nil
	case p.JSONPath != nil:
		return p.matchJSONPath(request)
	case p.And != nil:
		for i := range p.And {
			ok, err := p.And[i].Match(request)
			if err != nil || !ok {
				return ok, err
			}
		}
		return true, nil
	case p.Or != nil:
		for i := range p.Or {
			ok, err := p.Or[i].Match(request)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case p.Not != nil:
		ok, err := p.Not.Match(request)
		return !ok, err
	default:
		return false, fmt.Errorf("predicate has no operator")
	}
}

func (p *Predicate) matchFields(expected map[string]any, request map[string]any, cmp func(actual, expected string) bool) (bool, error) {
	for field, want := range expected {
		got, ok := request[field]
		if !ok {
			return false, nil
		}
		matched, err := p.compareValue(got, want, cmp)
		if err != nil || !matched {
			return matched, err
		}
	}
	return true, nil
}

// compareValue compares a request value against an expected value.
// Nested maps recurse field by field; everything else is compared
// through its string form.
func (p *Predicate) compareValue(got, want any, cmp func(actual, expected string) bool) (bool, error) {
	if wantMap, ok := want.(map[string]any); ok {
		gotMap, ok := got.(map[string]any)
		if !ok {
			return false, nil
		}
		return p.matchFields(wantMap, gotMap, cmp)
	}
	return cmp(p.fold(stringify(got)), p.fold(stringify(want))), nil
}

func (p *Predicate) fold(s string) string {
	if p.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func (p *Predicate) matchRegex(request map[string]any) (bool, error) {
	for field, pattern := range p.Matches {
		got, ok := request[field]
		if !ok {
			return false, nil
		}
		expr := stringify(pattern)
		if !p.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return false, fmt.Errorf("invalid matches predicate for %q: %w", field, err)
		}
		if !re.MatchString(stringify(got)) {
			return false, nil
		}
	}
	return true, nil
}

func (p *Predicate) matchExists(request map[string]any) bool {
	for field, wantPresent := range p.Exists {
		v, ok := request[field]
		present := ok && v != nil && stringify(v) != ""
		if present != wantPresent {
			return false
		}
	}
	return true
}

func (p *Predicate) matchJSONPath(request map[string]any) (bool, error) {
	body, ok := request["body"]
	if !ok {
		body = request["data"]
	}
	var doc any
	switch b := body.(type) {
	case string:
		if err := json.Unmarshal([]byte(b), &doc); err != nil {
			// Not JSON: the predicate simply does not match.
			return false, nil
		}
	case map[string]any, []any:
		doc = b
	default:
		return false, nil
	}

	for selector, want := range p.JSONPath {
		expr, err := jp.ParseString(selector)
		if err != nil {
			return false, fmt.Errorf("invalid jsonpath selector %q: %w", selector, err)
		}
		results := expr.Get(doc)
		if len(results) == 0 {
			return false, nil
		}
		if !jsonPathValueMatches(results[0], want, p.CaseSensitive) {
			return false, nil
		}
	}
	return true, nil
}

func jsonPathValueMatches(got, want any, caseSensitive bool) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	gs, ws := stringify(got), stringify(want)
	if !caseSensitive {
		return strings.EqualFold(gs, ws)
	}
	return gs == ws
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		// JSON numbers decode as float64; render whole numbers without
		// a fraction so "port": 80 compares equal to "80".
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func clonePredicates(predicates []Predicate) []Predicate {
	if predicates == nil {
		return nil
	}
	out := make([]Predicate, len(predicates))
	for i, p := range predicates {
		out[i] = p.clone()
	}
	return out
}

func (p Predicate) clone() Predicate {
	out := Predicate{
		Equals:        CloneMap(p.Equals),
		Contains:      CloneMap(p.Contains),
		StartsWith:    CloneMap(p.StartsWith),
		EndsWith:      CloneMap(p.EndsWith),
		Matches:       CloneMap(p.Matches),
		JSONPath:      CloneMap(p.JSONPath),
		And:           clonePredicates(p.And),
		Or:            clonePredicates(p.Or),
		CaseSensitive: p.CaseSensitive,
	}
	if p.Exists != nil {
		out.Exists = make(map[string]bool, len(p.Exists))
		for k, v := range p.Exists {
			out.Exists[k] = v
		}
	}
	if p.Not != nil {
		n := p.Not.clone()
		out.Not = &n
	}
	return out
}
