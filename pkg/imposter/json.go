package imposter

import (
	"github.com/imposterd/imposterd/pkg/resolver"
	"github.com/imposterd/imposterd/pkg/stub"
)

// JSONOptions selects which serialization view ToJSON produces. The
// zero value is the full detail view.
type JSONOptions struct {
	// List produces the summary view: protocol, port, and request
	// count only. Used for collection listings.
	List bool

	// Replayable strips runtime-only fields (match history, proxy
	// timing, the request counter, recorded requests, links) so the
	// output can be resubmitted as a creation request reproducing the
	// static configuration.
	Replayable bool

	// RemoveProxies filters proxy responses out of every stub and
	// drops stubs left with no responses, describing only the
	// deterministic behavior of the imposter.
	RemoveProxies bool
}

// ToJSON returns the imposter's external representation as a plain
// record. It is read-only: every view works on deep copies and never
// mutates live state.
func (i *Imposter) ToJSON(opts JSONOptions) map[string]any {
	out := map[string]any{
		"protocol":         i.protocol,
		"port":             i.Port(),
		"numberOfRequests": i.NumberOfRequests(),
	}
	if opts.List {
		return out
	}

	i.mu.Lock()
	metadata := stub.CloneMap(i.metadata)
	requests := make([]RecordedRequest, len(i.requests))
	copy(requests, i.requests)
	stubs := []stub.Stub(nil)
	if i.stubs != nil {
		stubs = i.stubs.Stubs()
	}
	i.mu.Unlock()

	if i.name != "" {
		out["name"] = i.name
	}
	out["recordRequests"] = i.recordRequests
	for k, v := range metadata {
		out[k] = v
	}
	out["requests"] = requests
	out["_links"] = map[string]any{
		"self": map[string]any{"href": i.URL()},
	}

	if opts.Replayable {
		delete(out, "numberOfRequests")
		delete(out, "requests")
		delete(out, "_links")
		stubs = stripRuntimeFields(stubs)
	}
	if opts.RemoveProxies {
		stubs = removeProxyResponses(stubs)
	}
	out["stubs"] = stubs
	return out
}

// stripRuntimeFields removes match history and embedded proxy-timing
// fields from literal responses.
func stripRuntimeFields(stubs []stub.Stub) []stub.Stub {
	for si := range stubs {
		stubs[si].Matches = nil
		for ri := range stubs[si].Responses {
			if is := stubs[si].Responses[ri].Is; is != nil {
				delete(is, resolver.ProxyResponseTimeField)
			}
		}
	}
	return stubs
}

// removeProxyResponses filters proxy-type responses from every stub and
// drops stubs that end up with zero responses.
func removeProxyResponses(stubs []stub.Stub) []stub.Stub {
	out := make([]stub.Stub, 0, len(stubs))
	for _, st := range stubs {
		kept := make([]stub.Response, 0, len(st.Responses))
		for _, r := range st.Responses {
			if r.Proxy == nil {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			continue
		}
		st.Responses = kept
		out = append(out, st)
	}
	return out
}
