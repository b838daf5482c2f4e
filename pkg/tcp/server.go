// Package tcp implements the raw TCP protocol transport. Each inbound
// connection delivers one request payload; the response payload is
// written back and the connection closed. Payloads cross the protocol
// boundary as text, or base64 in binary mode.
package tcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/imposterd/imposterd/pkg/config"
	"github.com/imposterd/imposterd/pkg/protocol"
	"github.com/imposterd/imposterd/pkg/resolver"
	"github.com/imposterd/imposterd/pkg/stub"
)

const (
	// maxRequestSize bounds a single request payload read.
	maxRequestSize = 64 * 1024

	// proxyDialTimeout bounds dialing an upstream for proxy responses.
	proxyDialTimeout = 10 * time.Second
)

// Factory creates TCP servers.
type Factory struct{}

// NewFactory returns the TCP protocol factory.
func NewFactory() *Factory { return &Factory{} }

// Protocol returns "tcp".
func (f *Factory) Protocol() string { return "tcp" }

// CreateServer binds the requested port and starts accepting
// connections. The default response, when no stub matches, is
// {"data": ""} unless the creation request overrides it.
func (f *Factory) CreateServer(ctx context.Context, req *config.CreationRequest, log *slog.Logger, handler protocol.RequestHandler) (protocol.Server, error) {
	_ = ctx

	mode := req.Mode
	if mode == "" {
		mode = config.ModeText
	}

	defaultResponse := req.DefaultResponse
	if defaultResponse == nil {
		defaultResponse = map[string]any{"data": ""}
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
		mode:     mode,
		stubs:    stubs,
		resolver: res,
		handler:  handler,
		log:      log,
		errs:     make(chan error, 16),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Server is a running TCP transport.
type Server struct {
	listener net.Listener
	mode     string
	stubs    *stub.Store
	resolver *resolver.Resolver
	handler  protocol.RequestHandler
	log      *slog.Logger
	errs     chan error

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Port returns the bound port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Metadata reports the payload encoding mode.
func (s *Server) Metadata() map[string]any {
	return map[string]any{"mode": s.mode}
}

// Stubs returns the server's stub store.
func (s *Server) Stubs() *stub.Store { return s.stubs }

// Resolver returns the server's resolver.
func (s *Server) Resolver() *resolver.Resolver { return s.resolver }

// Errors reports fatal transport errors. Closed when the server stops.
func (s *Server) Errors() <-chan error { return s.errs }

// Close shuts the listening socket and waits for in-flight connection
// handlers to finish or the context to expire.
func (s *Server) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(s.errs)
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isClosed(err) {
				return
			}
			s.report(fmt.Errorf("accept failed: %w", err))
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn processes one connection. A panic anywhere in request
// handling is converted to a transport error report so a malformed
// request can never take down the host process.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.report(fmt.Errorf("request handling panic: %v", r))
		}
	}()

	buf := make([]byte, maxRequestSize)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.report(fmt.Errorf("read failed: %w", err))
		return
	}
	payload := buf[:n]

	request := map[string]any{
		"requestFrom": conn.RemoteAddr().String(),
		"data":        s.encode(payload),
	}

	ctx := context.Background()
	resolution, err := s.handler.GetResponseFor(ctx, request)
	if err != nil {
		// Resolution failures affect this request only.
		s.log.Error("request resolution failed", "error", err)
		return
	}

	if resolution.Kind == resolver.KindProxyPending {
		resolution, err = s.completeProxy(ctx, resolution, payload)
		if err != nil {
			s.log.Error("proxy resolution failed", "error", err)
			return
		}
	}

	out, err := s.decode(resolution.Response["data"])
	if err != nil {
		s.log.Error("invalid response payload", "error", err)
		return
	}
	if len(out) > 0 {
		if _, err := conn.Write(out); err != nil {
			s.report(fmt.Errorf("write failed: %w", err))
		}
	}
}

// completeProxy dials the upstream designated by the pending
// resolution, forwards the original payload, and feeds the raw reply
// back through the deferred completion path.
func (s *Server) completeProxy(ctx context.Context, pending *resolver.Resolution, payload []byte) (*resolver.Resolution, error) {
	to := strings.TrimPrefix(pending.Proxy.To, "tcp://")
	upstream, err := net.DialTimeout("tcp", to, proxyDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("proxy dial %s: %w", to, err)
	}
	defer upstream.Close()

	if _, err := upstream.Write(payload); err != nil {
		return nil, fmt.Errorf("proxy write: %w", err)
	}

	buf := make([]byte, maxRequestSize)
	n, err := upstream.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("proxy read: %w", err)
	}

	raw := map[string]any{"data": s.encode(buf[:n])}
	return s.handler.GetProxyResponseFor(ctx, raw, pending.Key)
}

func (s *Server) encode(payload []byte) string {
	if s.mode == config.ModeBinary {
		return base64.StdEncoding.EncodeToString(payload)
	}
	return string(payload)
}

func (s *Server) decode(v any) ([]byte, error) {
	data, _ := v.(string)
	if data == "" {
		return nil, nil
	}
	if s.mode == config.ModeBinary {
		return base64.StdEncoding.DecodeString(data)
	}
	return []byte(data), nil
}

func (s *Server) report(err error) {
	select {
	case s.errs <- err:
	default:
		// Channel full: drop rather than block the transport.
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

var _ protocol.Factory = (*Factory)(nil)
var _ protocol.Server = (*Server)(nil)
