// Package server implements the TCP acceptor, the per-connection dispatcher
// and the connected-client registry with its periodic sweep.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/appbancaria/banca/internal/app/services/auth"
	"github.com/appbancaria/banca/internal/app/system"
	"github.com/appbancaria/banca/pkg/logger"
)

// ConnectedClient tracks one live socket and, after login, its bound session.
type ConnectedClient struct {
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time

	mu        sync.Mutex
	correo    string
	sessionID string
	label     string
	dead      bool
}

// BindSession records the authenticated session on the connection entry.
func (c *ConnectedClient) BindSession(correo, sessionID, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.correo = correo
	c.sessionID = sessionID
	c.label = label
}

// ClearSession unbinds the session after logout.
func (c *ConnectedClient) ClearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.correo = ""
	c.sessionID = ""
	c.label = ""
}

// Session returns the bound credentials; ok is false when unauthenticated.
func (c *ConnectedClient) Session() (correo, sessionID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.correo, c.sessionID, c.sessionID != ""
}

// MarkDead flags the entry for eviction by the next sweep. Called by the
// dispatcher when its read loop ends.
func (c *ConnectedClient) MarkDead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
}

func (c *ConnectedClient) isDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// ConnectionInfo is the immutable snapshot of one tracked connection.
type ConnectionInfo struct {
	RemoteAddr    string    `json:"remoteAddr"`
	ConnectedAt   time.Time `json:"connectedAt"`
	Correo        string    `json:"correo,omitempty"`
	Label         string    `json:"label,omitempty"`
	Authenticated bool      `json:"authenticated"`
}

func (c *ConnectedClient) snapshot() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	label := c.label
	if label == "" {
		label = "Cliente sin identificar"
	}
	return ConnectionInfo{
		RemoteAddr:    c.remoteAddr,
		ConnectedAt:   c.connectedAt,
		Correo:        c.correo,
		Label:         label,
		Authenticated: c.sessionID != "",
	}
}

// Registry is the concurrency-safe collection of live connections. It is
// mutated by the accept loop, the dispatcher workers and the sweeper.
type Registry struct {
	auth *auth.Service
	log  *logger.Logger

	mu      sync.Mutex
	entries map[net.Conn]*ConnectedClient
}

// NewRegistry creates an empty registry. The auth service is used to
// invalidate sessions held by evicted connections.
func NewRegistry(authSvc *auth.Service, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Registry{
		auth:    authSvc,
		log:     log,
		entries: make(map[net.Conn]*ConnectedClient),
	}
}

// Add registers a newly accepted connection.
func (r *Registry) Add(conn net.Conn) *ConnectedClient {
	entry := &ConnectedClient{
		conn:        conn,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
	}
	r.mu.Lock()
	r.entries[conn] = entry
	r.mu.Unlock()
	return entry
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts entries whose socket is no longer readable. Entries holding an
// authenticated session are logged out synchronously before removal, then the
// socket is force-closed.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	var dead []*ConnectedClient
	for conn, entry := range r.entries {
		if entry.isDead() {
			dead = append(dead, entry)
			delete(r.entries, conn)
		}
	}
	r.mu.Unlock()

	for _, entry := range dead {
		r.evict(ctx, entry)
	}
}

func (r *Registry) evict(ctx context.Context, entry *ConnectedClient) {
	if correo, sessionID, ok := entry.Session(); ok {
		if err := r.auth.Logout(ctx, correo, sessionID); err != nil {
			r.log.WithError(err).WithField("correo", correo).Warn("no se pudo cerrar la sesión del cliente desconectado")
		} else {
			r.log.WithField("correo", correo).Info("sesión de cliente desconectado cerrada")
		}
	}
	entry.conn.Close()
	r.log.WithField("remoteAddr", entry.remoteAddr).Info("cliente removido del registro")
}

// ListConnected sweeps first, then returns an immutable snapshot. Callers
// never see sockets already known to be dead.
func (r *Registry) ListConnected(ctx context.Context) []ConnectionInfo {
	r.Sweep(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]ConnectionInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry.snapshot())
	}
	return result
}

// CloseAll invalidates every bound session, force-closes every socket and
// clears the registry, returning the number of connections closed.
func (r *Registry) CloseAll(ctx context.Context) int {
	r.mu.Lock()
	entries := make([]*ConnectedClient, 0, len(r.entries))
	for conn, entry := range r.entries {
		entries = append(entries, entry)
		delete(r.entries, conn)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		r.evict(ctx, entry)
	}
	return len(entries)
}

// Sweeper runs Registry.Sweep on a fixed interval as a lifecycle-managed
// background task.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper creates a sweeper; interval <= 0 defaults to 5 seconds.
func NewSweeper(registry *Registry, interval time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{registry: registry, interval: interval, log: log}
}

func (s *Sweeper) Name() string { return "connection-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.registry.Sweep(runCtx)
			}
		}
	}()

	s.log.Info("verificador de conexiones iniciado")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("verificador de conexiones detenido")
	return nil
}
