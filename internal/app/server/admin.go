package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/appbancaria/banca/internal/app/metrics"
	"github.com/appbancaria/banca/pkg/logger"
)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Admin is the operational HTTP sidecar: health, live connections and
// metrics. It never serves banking operations; those stay on the TCP port.
type Admin struct {
	addr     string
	registry *Registry
	db       Pinger
	log      *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	running  bool
}

// NewAdmin creates the sidecar. It does not listen until Start.
func NewAdmin(addr string, registry *Registry, db Pinger, log *logger.Logger) *Admin {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	return &Admin{
		addr:     addr,
		registry: registry,
		db:       db,
		log:      log,
	}
}

// Name implements system.Service.
func (a *Admin) Name() string { return "admin-http" }

// Start binds the HTTP listener and serves in the background.
func (a *Admin) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/connections", a.handleConnections).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	a.listener = listener
	a.httpSrv = &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	a.running = true

	go func() {
		if err := a.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			a.log.WithError(err).Error("servidor admin terminó con error")
		}
	}()

	a.log.WithField("addr", listener.Addr().String()).Info("servidor admin escuchando")
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (a *Admin) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	return a.httpSrv.Shutdown(ctx)
}

// Addr returns the bound address, useful when addr was ":0".
func (a *Admin) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *Admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]interface{}{
		"status":      status,
		"connections": a.registry.Len(),
	})
}

func (a *Admin) handleConnections(w http.ResponseWriter, r *http.Request) {
	infos := a.registry.ListConnected(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     len(infos),
		"conexiones": infos,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
