// Package resolver turns matched response configurations into concrete
// responses: literal "is" responses, expression-evaluated "inject"
// responses, and deferred "proxy" responses completed out of band via a
// resolution key.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/imposterd/imposterd/pkg/stub"
)

// ProxyResponseTimeField is stamped onto responses captured from proxy
// traffic with the upstream round-trip time in milliseconds. It is a
// runtime-only field, stripped from replayable serializations.
const ProxyResponseTimeField = "_proxyResponseTime"

// Sentinel errors.
var (
	ErrUnknownResolutionKey = fmt.Errorf("unknown resolution key")
	ErrNoResponseDefinition = fmt.Errorf("response has no is, proxy, or inject definition")
)

// ResolutionKey correlates a pending proxy call with its eventual
// completion.
type ResolutionKey string

// Kind tags how a resolution was produced.
type Kind int

const (
	// KindDirect is an in-process resolution: the Response is final.
	KindDirect Kind = iota

	// KindProxyPending means the response requires an upstream call the
	// transport must perform, completing via ResolveProxy with Key.
	KindProxyPending

	// KindProxyWrapped is the completion of a pending proxy: Response
	// is the captured upstream answer and Inner is the unwrapped
	// response to use for match recording.
	KindProxyWrapped
)

// Resolution is the tagged outcome of resolving a response
// configuration.
type Resolution struct {
	Kind Kind

	// Response is the concrete response to deliver. Nil while a proxy
	// is pending.
	Response map[string]any

	// Inner is the unwrapped response for match recording when Kind is
	// KindProxyWrapped.
	Inner map[string]any

	// Key correlates a pending proxy with its completion.
	Key ResolutionKey

	// Proxy is the upstream definition the transport should dial when
	// Kind is KindProxyPending.
	Proxy *stub.Proxy

	// Config is the response configuration that produced this
	// resolution, for match recording.
	Config *stub.ResponseConfig

	// Request is the original request that initiated a proxy, carried
	// through to the completion so the match record is complete. Set
	// only when Kind is KindProxyWrapped.
	Request map[string]any
}

type pendingProxy struct {
	config  *stub.ResponseConfig
	proxy   *stub.Proxy
	request map[string]any
	start   time.Time
}

// Resolver resolves response configurations against a stub store. It is
// safe for concurrent use.
type Resolver struct {
	stubs *stub.Store

	mu      sync.Mutex
	pending map[ResolutionKey]*pendingProxy

	programMu sync.RWMutex
	programs  map[string]*vm.Program
}

// New creates a resolver that records proxy captures into the given
// stub store.
func New(stubs *stub.Store) *Resolver {
	return &Resolver{
		stubs:    stubs,
		pending:  make(map[ResolutionKey]*pendingProxy),
		programs: make(map[string]*vm.Program),
	}
}

// Resolve turns a matched response configuration into a Resolution.
// Proxy responses return a KindProxyPending resolution; the transport
// performs the upstream call and completes it with ResolveProxy.
func (r *Resolver) Resolve(ctx context.Context, cfg *stub.ResponseConfig, request map[string]any, log *slog.Logger, state map[string]any) (*Resolution, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil response configuration")
	}
	def := cfg.Response

	if def.Behaviors != nil && def.Behaviors.Wait > 0 {
		if err := wait(ctx, time.Duration(def.Behaviors.Wait)*time.Millisecond); err != nil {
			return nil, err
		}
	}

	switch {
	case def.Is != nil:
		return &Resolution{Kind: KindDirect, Response: stub.CloneMap(def.Is), Config: cfg}, nil

	case def.Proxy != nil:
		key := ResolutionKey(uuid.NewString())
		r.mu.Lock()
		r.pending[key] = &pendingProxy{
			config:  cfg,
			proxy:   def.Proxy,
			request: stub.CloneMap(request),
			start:   time.Now(),
		}
		r.mu.Unlock()
		if log != nil {
			log.Debug("proxy resolution pending", "to", def.Proxy.To, "key", string(key))
		}
		return &Resolution{Kind: KindProxyPending, Key: key, Proxy: def.Proxy, Config: cfg}, nil

	case def.Inject != "":
		response, err := r.inject(def.Inject, request, state)
		if err != nil {
			return nil, err
		}
		return &Resolution{Kind: KindDirect, Response: response, Config: cfg}, nil

	default:
		return nil, ErrNoResponseDefinition
	}
}

// ResolveProxy completes a pending proxy resolution. The raw upstream
// response is stamped with the round-trip time, recorded into the stub
// store according to the proxy mode, and returned wrapped for match
// recording. Unknown keys are an error; each key completes at most
// once.
func (r *Resolver) ResolveProxy(rawResponse map[string]any, key ResolutionKey, log *slog.Logger) (*Resolution, error) {
	r.mu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResolutionKey, key)
	}

	response := stub.CloneMap(rawResponse)
	if response == nil {
		response = map[string]any{}
	}
	response[ProxyResponseTimeField] = time.Since(p.start).Milliseconds()

	r.stubs.RecordProxyResponse(p.config, response)
	if log != nil {
		log.Debug("proxy resolution complete", "to", p.proxy.To, "key", string(key))
	}

	return &Resolution{
		Kind:     KindProxyWrapped,
		Response: response,
		Inner:    stub.CloneMap(response),
		Config:   p.config,
		Request:  p.request,
	}, nil
}

// PendingCount reports how many proxy resolutions are awaiting
// completion.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// inject evaluates an expression against {request, state}. The result
// must be a map; if it contains a "response" key, that value is the
// response and an optional "state" map is merged into the state bag,
// which is how injected logic persists values across requests.
func (r *Resolver) inject(src string, request map[string]any, state map[string]any) (map[string]any, error) {
	program, err := r.program(src)
	if err != nil {
		return nil, fmt.Errorf("invalid inject expression: %w", err)
	}

	env := map[string]any{
		"request": request,
		"state":   state,
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("inject evaluation failed: %w", err)
	}

	result, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("inject expression must evaluate to a map, got %T", out)
	}

	if inner, ok := result["response"]; ok {
		if updates, ok := result["state"].(map[string]any); ok {
			for k, v := range updates {
				state[k] = v
			}
		}
		response, ok := inner.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("inject response must be a map, got %T", inner)
		}
		return stub.CloneMap(response), nil
	}
	return stub.CloneMap(result), nil
}

// program compiles an inject expression, caching compiled programs by
// source.
func (r *Resolver) program(src string) (*vm.Program, error) {
	r.programMu.RLock()
	program, ok := r.programs[src]
	r.programMu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	r.programMu.Lock()
	r.programs[src] = program
	r.programMu.Unlock()
	return program, nil
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
