// Package httpd implements the HTTP protocol transport. Requests cross
// the protocol boundary as {"requestFrom", "method", "path", "query",
// "headers", "body"}; responses as {"statusCode", "headers", "body"}.
package httpd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/imposterd/imposterd/pkg/config"
	"github.com/imposterd/imposterd/pkg/protocol"
	"github.com/imposterd/imposterd/pkg/resolver"
	"github.com/imposterd/imposterd/pkg/stub"
)

const proxyTimeout = 30 * time.Second

// Factory creates HTTP servers.
type Factory struct{}

// NewFactory returns the HTTP protocol factory.
func NewFactory() *Factory { return &Factory{} }

// Protocol returns "http".
func (f *Factory) Protocol() string { return "http" }

// CreateServer binds the requested port and starts serving. The
// default response, when no stub matches, is an empty 200 unless the
// creation request overrides it.
func (f *Factory) CreateServer(ctx context.Context, req *config.CreationRequest, log *slog.Logger, handler protocol.RequestHandler) (protocol.Server, error) {
	_ = ctx

	defaultResponse := req.DefaultResponse
	if defaultResponse == nil {
		defaultResponse = map[string]any{"statusCode": 200, "body": ""}
	}

	stubs := stub.NewStore(defaultResponse)
	res := resolver.New(stubs)

	addr := net.JoinHostPort(req.Host, strconv.Itoa(req.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: ln,
		stubs:    stubs,
		resolver: res,
		handler:  handler,
		log:      log,
		errs:     make(chan error, 16),
		client:   &http.Client{Timeout: proxyTimeout},
	}
	s.httpServer = &http.Server{Handler: s}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.report(fmt.Errorf("serve failed: %w", err))
		}
	}()
	return s, nil
}

// Server is a running HTTP transport.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	stubs      *stub.Store
	resolver   *resolver.Resolver
	handler    protocol.RequestHandler
	log        *slog.Logger
	errs       chan error
	client     *http.Client

	closeOnce sync.Once
	errsMu    sync.Mutex
	errsDone  bool
}

// Port returns the bound port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Metadata returns no protocol-specific attributes for HTTP.
func (s *Server) Metadata() map[string]any { return map[string]any{} }

// Stubs returns the server's stub store.
func (s *Server) Stubs() *stub.Store { return s.stubs }

// Resolver returns the server's resolver.
func (s *Server) Resolver() *resolver.Resolver { return s.resolver }

// Errors reports fatal transport errors. Closed when the server stops.
func (s *Server) Errors() <-chan error { return s.errs }

// Close gracefully shuts the HTTP server down.
func (s *Server) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.httpServer.Shutdown(ctx)
		s.errsMu.Lock()
		s.errsDone = true
		close(s.errs)
		s.errsMu.Unlock()
	})
	return err
}

// ServeHTTP routes one inbound HTTP request through the imposter
// pipeline. Panics are converted to 500s and error reports; resolution
// failures fail this request only.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.report(fmt.Errorf("request handling panic: %v", rec))
			w.WriteHeader(http.StatusInternalServerError)
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	request := requestToMap(r, body)
	resolution, err := s.handler.GetResponseFor(r.Context(), request)
	if err != nil {
		s.log.Error("request resolution failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if resolution.Kind == resolver.KindProxyPending {
		resolution, err = s.completeProxy(r.Context(), resolution, r, body)
		if err != nil {
			s.log.Error("proxy resolution failed", "error", err)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}

	writeResponse(w, resolution.Response)
}

// completeProxy forwards the request to the upstream designated by the
// pending resolution and feeds the raw reply back through the deferred
// completion path.
func (s *Server) completeProxy(ctx context.Context, pending *resolver.Resolution, r *http.Request, body []byte) (*resolver.Resolution, error) {
	target := pending.Proxy.To
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	url := strings.TrimSuffix(target, "/") + r.URL.RequestURI()

	out, err := http.NewRequestWithContext(ctx, r.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("proxy request: %w", err)
	}
	for name, values := range r.Header {
		if name == "Host" {
			continue
		}
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}

	resp, err := s.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("proxy call %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("proxy read: %w", err)
	}

	headers := map[string]any{}
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	raw := map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       string(respBody),
	}
	return s.handler.GetProxyResponseFor(ctx, raw, pending.Key)
}

func (s *Server) report(err error) {
	s.errsMu.Lock()
	defer s.errsMu.Unlock()
	if s.errsDone {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

func requestToMap(r *http.Request, body []byte) map[string]any {
	headers := map[string]any{}
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	query := map[string]any{}
	for name, values := range r.URL.Query() {
		if len(values) == 1 {
			query[name] = values[0]
		} else {
			query[name] = values
		}
	}
	return map[string]any{
		"requestFrom": r.RemoteAddr,
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       query,
		"headers":     headers,
		"body":        string(body),
	}
}

func writeResponse(w http.ResponseWriter, response map[string]any) {
	if headers, ok := response["headers"].(map[string]any); ok {
		for name, v := range headers {
			w.Header().Set(name, fmt.Sprintf("%v", v))
		}
	}
	status := http.StatusOK
	switch v := response["statusCode"].(type) {
	case int:
		status = v
	case float64:
		status = int(v)
	}
	w.WriteHeader(status)
	if body, ok := response["body"].(string); ok && body != "" {
		_, _ = w.Write([]byte(body))
	}
}

var _ protocol.Factory = (*Factory)(nil)
var _ protocol.Server = (*Server)(nil)
var _ http.Handler = (*Server)(nil)
