// Package imposter owns the lifecycle of a single virtual server
// instance: it wires a protocol transport to a stub store and resolver,
// mediates every inbound request through the matching/resolution
// pipeline, tracks request history, and exposes the serialized views
// consumed by external callers.
package imposter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imposterd/imposterd/pkg/config"
	"github.com/imposterd/imposterd/pkg/logging"
	"github.com/imposterd/imposterd/pkg/protocol"
	"github.com/imposterd/imposterd/pkg/resolver"
	"github.com/imposterd/imposterd/pkg/stub"
)

// ErrNotListening is returned when a request arrives before the
// transport is wired or after creation failed.
var ErrNotListening = fmt.Errorf("imposter is not listening")

// RecordedRequest is a defensive copy of an inbound request stamped
// with its capture time. It serializes as the request's own fields plus
// a "timestamp" field.
type RecordedRequest struct {
	Timestamp time.Time
	Request   map[string]any
}

// MarshalJSON flattens the request fields and the timestamp into one
// object.
func (r RecordedRequest) MarshalJSON() ([]byte, error) {
	out := stub.CloneMap(r.Request)
	if out == nil {
		out = map[string]any{}
	}
	out["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// Imposter is one running virtual server. It is created by Create and
// owned by its creator for its entire lifetime; the transport handle is
// owned by the Imposter, which is solely responsible for closing it.
type Imposter struct {
	protocol       string
	name           string
	recordRequests bool
	recordMatches  bool
	createdAt      time.Time
	log            *slog.Logger

	// numberOfRequests counts every inbound request, including ones
	// whose resolution later fails. It is the single source of truth
	// for traffic volume.
	numberOfRequests atomic.Uint64

	// state is the per-imposter mutable state bag. It is created once,
	// never replaced, and passed by reference through matching and
	// resolution so stateful logic can persist values across requests.
	// Resolution code is responsible for using it consistently.
	state map[string]any

	mu       sync.Mutex
	port     int
	server   protocol.Server
	stubs    *stub.Store
	resolver *resolver.Resolver
	metadata map[string]any
	requests []RecordedRequest

	stopOnce sync.Once
	stopErr  error
}

// Create binds a transport through the factory and returns a Listening
// imposter. Bind failures are mapped to the typed error taxonomy
// (ResourceConflictError, InsufficientAccessError, or the raw error)
// and no imposter is returned. Initial stubs from the creation request
// are registered in order before Create returns.
func Create(ctx context.Context, factory protocol.Factory, req *config.CreationRequest, log *slog.Logger, opts config.Options) (*Imposter, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}

	imp := &Imposter{
		protocol:       req.Protocol,
		name:           req.Name,
		recordRequests: req.RecordRequests || opts.RecordRequests,
		recordMatches:  opts.RecordMatches,
		createdAt:      time.Now(),
		state:          make(map[string]any),
		log:            log.With("protocol", req.Protocol),
	}

	srv, err := factory.CreateServer(ctx, req, imp.log, imp)
	if err != nil {
		return nil, classifyBindError(err, req.Port)
	}

	imp.mu.Lock()
	imp.server = srv
	imp.port = srv.Port()
	imp.stubs = srv.Stubs()
	imp.resolver = srv.Resolver()
	imp.metadata = srv.Metadata()
	imp.log = imp.log.With("port", imp.port)
	imp.mu.Unlock()

	for i := range req.Stubs {
		st := req.Stubs[i].Clone()
		imp.stubs.AddStub(&st)
	}

	// The error boundary: every fatal transport report flows through
	// the same typed-error mapping and is logged, never allowed to
	// crash the host. The subscription lasts for the imposter's whole
	// Listening lifetime; the channel closes when the server stops.
	go imp.superviseTransport(srv.Errors())

	imp.log.Info("imposter created", "name", req.Name)
	return imp, nil
}

func (i *Imposter) superviseTransport(errs <-chan error) {
	for err := range errs {
		i.log.Error("transport error", "error", classifyBindError(err, i.Port()))
	}
}

// Port returns the bound port. Immutable once assigned.
func (i *Imposter) Port() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.port
}

// Protocol returns the protocol name.
func (i *Imposter) Protocol() string { return i.protocol }

// Name returns the display name, which may be empty.
func (i *Imposter) Name() string { return i.name }

// URL returns the canonical self-reference path.
func (i *Imposter) URL() string {
	return fmt.Sprintf("/imposters/%d", i.Port())
}

// NumberOfRequests returns how many requests this imposter has seen.
func (i *Imposter) NumberOfRequests() uint64 {
	return i.numberOfRequests.Load()
}

// CreatedAt returns the imposter's creation time.
func (i *Imposter) CreatedAt() time.Time { return i.createdAt }

// State returns the shared per-imposter state bag.
func (i *Imposter) State() map[string]any { return i.state }

// AddStub registers a stub at the end of the match order.
func (i *Imposter) AddStub(st *stub.Stub) {
	i.mu.Lock()
	stubs := i.stubs
	i.mu.Unlock()
	if stubs != nil {
		stubs.AddStub(st)
	}
}

// ResetProxies removes stubs recorded from proxy traffic.
func (i *Imposter) ResetProxies() {
	i.mu.Lock()
	stubs := i.stubs
	i.mu.Unlock()
	if stubs != nil {
		stubs.ResetProxies()
	}
}

// GetResponseFor resolves one inbound request. Steps, in order, none
// skippable: count the request; record it when recording is enabled;
// match a stub; resolve the matched configuration; record the match
// when enabled and the resolution is not a pending proxy handoff;
// return. A failure in matching or resolution propagates to this
// caller only and never undoes the counting and recording already
// performed.
func (i *Imposter) GetResponseFor(ctx context.Context, request map[string]any) (*resolver.Resolution, error) {
	i.numberOfRequests.Add(1)

	if i.recordRequests {
		rec := RecordedRequest{Timestamp: time.Now(), Request: stub.CloneMap(request)}
		i.mu.Lock()
		i.requests = append(i.requests, rec)
		i.mu.Unlock()
	}

	i.mu.Lock()
	stubs, res := i.stubs, i.resolver
	i.mu.Unlock()
	if stubs == nil || res == nil {
		return nil, ErrNotListening
	}

	cfg, err := stubs.GetResponseFor(request, i.log, i.state)
	if err != nil {
		return nil, err
	}

	resolution, err := res.Resolve(ctx, cfg, request, i.log, i.state)
	if err != nil {
		return nil, err
	}

	if i.recordMatches && resolution.Kind != resolver.KindProxyPending {
		recorded := resolution.Response
		if resolution.Kind == resolver.KindProxyWrapped && resolution.Inner != nil {
			recorded = resolution.Inner
		}
		cfg.RecordMatch(stub.Match{
			Timestamp: time.Now(),
			Request:   stub.CloneMap(request),
			Response:  stub.CloneMap(recorded),
		})
	}

	return resolution, nil
}

// GetProxyResponseFor completes a proxy resolution started by an
// earlier request, correlated by key. It is independent of the request
// that triggered it and may complete arbitrarily later; it never blocks
// other requests on the same imposter.
func (i *Imposter) GetProxyResponseFor(ctx context.Context, response map[string]any, key resolver.ResolutionKey) (*resolver.Resolution, error) {
	_ = ctx

	i.mu.Lock()
	res := i.resolver
	i.mu.Unlock()
	if res == nil {
		return nil, ErrNotListening
	}

	resolution, err := res.ResolveProxy(response, key, i.log)
	if err != nil {
		return nil, err
	}

	if i.recordMatches && resolution.Config != nil {
		resolution.Config.RecordMatch(stub.Match{
			Timestamp: time.Now(),
			Request:   stub.CloneMap(resolution.Request),
			Response:  stub.CloneMap(resolution.Response),
		})
	}
	return resolution, nil
}

// Stop closes the underlying transport and resolves once closure is
// confirmed. The core issues at most one close request per imposter;
// outstanding resolutions may still complete after Stop returns.
func (i *Imposter) Stop(ctx context.Context) error {
	i.stopOnce.Do(func() {
		i.mu.Lock()
		srv := i.server
		i.mu.Unlock()
		if srv == nil {
			return
		}
		i.stopErr = srv.Close(ctx)
		i.log.Info("imposter stopped")
	})
	return i.stopErr
}

var _ protocol.RequestHandler = (*Imposter)(nil)
