// Package pprof serves the runtime profiling endpoints on a dedicated
// listener so diagnostics stay off the service port.
package pprof

import (
	"context"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"sync"
	"time"

	"github.com/scenehub/scenehub/internal/logger"
)

// Handler manages the profiling HTTP server.
type Handler struct {
	addr     string
	server   *http.Server
	listener net.Listener

	mu       sync.Mutex
	stopping bool
}

// NewHandler creates a handler that will listen on addr (e.g. "localhost:6060").
func NewHandler(addr string) *Handler {
	return &Handler{addr: addr}
}

// Start binds the listener and serves the pprof endpoints in the background.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", netpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)
	mux.Handle("/debug/pprof/goroutine", netpprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", netpprof.Handler("heap"))
	mux.Handle("/debug/pprof/block", netpprof.Handler("block"))
	mux.Handle("/debug/pprof/mutex", netpprof.Handler("mutex"))
	mux.Handle("/debug/pprof/threadcreate", netpprof.Handler("threadcreate"))

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to bind pprof listener: %w", err)
	}

	h.listener = ln
	h.server = &http.Server{
		Addr:    h.addr,
		Handler: mux,
	}

	logger.Info("Profiling endpoints available at http://%s/debug/pprof/", h.addr)

	go func() {
		if err := h.server.Serve(h.listener); err != nil && err != http.ErrServerClosed {
			logger.Error("Pprof server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the profiling server. Safe to call more than once.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopping {
		return nil
	}
	h.stopping = true

	if h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown pprof server: %w", err)
	}
	h.server = nil
	h.listener = nil
	return nil
}
