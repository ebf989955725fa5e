package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/appbancaria/banca/internal/app/services/auth"
	"github.com/appbancaria/banca/internal/app/services/ledger"
	"github.com/appbancaria/banca/pkg/logger"
)

// Options configures the TCP server.
type Options struct {
	// Addr is the listen address, e.g. ":12345".
	Addr string

	// ReadTimeout bounds each read on a connection. Zero disables the
	// deadline; half-open peers are then only caught by write failures.
	ReadTimeout time.Duration

	// RequestsPerSecond and RequestBurst configure the per-connection rate
	// limiter. Zero disables limiting.
	RequestsPerSecond float64
	RequestBurst      int
}

// Server accepts client connections and runs one dispatcher per connection.
type Server struct {
	opts     Options
	auth     *auth.Service
	ledger   *ledger.Service
	registry *Registry
	log      *logger.Logger

	readTimeout       time.Duration
	requestsPerSecond float64
	requestBurst      int

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// New creates the server. It does not listen until Start.
func New(opts Options, authSvc *auth.Service, ledgerSvc *ledger.Service, registry *Registry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("server")
	}
	burst := opts.RequestBurst
	if opts.RequestsPerSecond > 0 && burst <= 0 {
		burst = int(opts.RequestsPerSecond)
	}
	return &Server{
		opts:              opts,
		auth:              authSvc,
		ledger:            ledgerSvc,
		registry:          registry,
		log:               log,
		readTimeout:       opts.ReadTimeout,
		requestsPerSecond: opts.RequestsPerSecond,
		requestBurst:      burst,
	}
}

// Name implements system.Service.
func (s *Server) Name() string { return "tcp-server" }

// Start binds the listener and launches the accept loop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	s.listener = listener

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(loopCtx, listener)

	s.log.WithField("addr", listener.Addr().String()).Info("servidor TCP escuchando")
	return nil
}

// Stop closes the listener, drops every live connection and waits for the
// dispatchers to drain.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listener := s.listener
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	if listener != nil {
		_ = listener.Close()
	}
	closed := s.registry.CloseAll(ctx)
	if closed > 0 {
		s.log.WithField("conexiones", closed).Info("conexiones cerradas")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("servidor TCP detenido")
	return nil
}

// Addr returns the bound listen address, useful when Addr was ":0".
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			// transient accept failures (EMFILE, resets) must not leave a
			// running server deaf
			s.log.WithError(err).Warn("error aceptando conexión")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		entry := s.registry.Add(conn)
		d := newDispatcher(s, conn, entry)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			d.run(ctx)
		}()
	}
}

// ListConnected returns a snapshot of the live connections.
func (s *Server) ListConnected(ctx context.Context) []ConnectionInfo {
	return s.registry.ListConnected(ctx)
}
