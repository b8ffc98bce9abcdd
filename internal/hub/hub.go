package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/scenehub/scenehub/internal/config"
	"github.com/scenehub/scenehub/internal/consts"
	"github.com/scenehub/scenehub/internal/logger"
	"github.com/scenehub/scenehub/internal/metrics"
	"github.com/scenehub/scenehub/internal/protocol"
	"github.com/scenehub/scenehub/internal/ratelimit"
	"github.com/scenehub/scenehub/internal/registry"
	"github.com/scenehub/scenehub/internal/scene"
	"github.com/scenehub/scenehub/internal/session"
)

// ErrServerFull is returned by Attach when the connection cap is reached.
var ErrServerFull = errors.New("server full")

// ErrStopped is returned by Attach once the hub shut down.
var ErrStopped = errors.New("hub stopped")

// Handler processes a dispatched message after the built-in handling ran.
type Handler func(conn *registry.Connection, msg *protocol.Message)

type inbound struct {
	connID string
	raw    []byte
}

type attachRequest struct {
	conn  *registry.Connection
	reply chan attachResult
}

type attachResult struct {
	userCount int
	err       error
}

// Stats is a point-in-time view of the hub for the HTTP surface.
type Stats struct {
	Connections int
	Users       int
	Entities    int
	Uptime      time.Duration
}

// Hub is the message router. A single goroutine owns the connection
// registry and the rate limiter and serializes every state change: client
// messages, attach/detach, housekeeping ticks and server-originated
// broadcasts all pass through its run loop.
type Hub struct {
	cfg       *config.Config
	registry  *registry.Registry
	limiter   *ratelimit.Limiter
	sessions  *session.Coordinator
	scene     *scene.Synchronizer
	collector metrics.Collector

	intake   chan inbound
	attach   chan attachRequest
	detach   chan string
	outbound chan *protocol.Message
	queries  chan func(*registry.Registry)

	handlers map[protocol.Type][]Handler

	lastDrain time.Time
	startedAt time.Time

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a hub wired to its collaborators. Call Start before use.
func New(cfg *config.Config, sessions *session.Coordinator, scn *scene.Synchronizer, collector metrics.Collector) *Hub {
	return &Hub{
		cfg:       cfg,
		registry:  registry.NewRegistry(),
		limiter:   ratelimit.New(cfg.RateLimitBudget, cfg.RateLimitWindow),
		sessions:  sessions,
		scene:     scn,
		collector: collector,
		intake:    make(chan inbound, consts.IntakeQueueDepth),
		attach:    make(chan attachRequest),
		detach:    make(chan string),
		outbound:  make(chan *protocol.Message, consts.IntakeQueueDepth),
		queries:   make(chan func(*registry.Registry)),
		handlers:  make(map[protocol.Type][]Handler),
		quit:      make(chan struct{}),
	}
}

// RegisterHandler adds an external handler for a message type. Handlers run
// on the dispatch goroutine after the built-in handling. Register before
// Start.
func (h *Hub) RegisterHandler(t protocol.Type, fn Handler) {
	h.handlers[t] = append(h.handlers[t], fn)
}

// Start launches the dispatch loop.
func (h *Hub) Start() {
	now := time.Now()
	h.startedAt = now
	h.lastDrain = now
	h.wg.Add(1)
	go h.run()
}

// Stop shuts the dispatch loop down and closes every live connection.
func (h *Hub) Stop() {
	close(h.quit)
	h.wg.Wait()
}

func (h *Hub) run() {
	defer h.wg.Done()

	logger.Info("Message router started")
	defer logger.Info("Message router stopped")

	syncTicker := time.NewTicker(h.cfg.SyncInterval)
	defer syncTicker.Stop()
	cleanupTicker := time.NewTicker(h.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case in := <-h.intake:
			h.dispatch(in.connID, in.raw)

		case req := <-h.attach:
			req.reply <- h.handleAttach(req.conn)

		case connID := <-h.detach:
			h.detachConn(connID, "")

		case msg := <-h.outbound:
			h.broadcast(msg, "")

		case q := <-h.queries:
			q(h.registry)

		case <-syncTicker.C:
			h.syncTick()

		case <-cleanupTicker.C:
			h.cleanupTick()

		case <-h.quit:
			h.closeAll()
			return
		}
	}
}

// Attach registers a connection and returns the connection count after the
// insert. The caller sends nothing before Attach succeeds.
func (h *Hub) Attach(conn *registry.Connection) (int, error) {
	req := attachRequest{conn: conn, reply: make(chan attachResult, 1)}
	select {
	case h.attach <- req:
	case <-h.quit:
		return 0, ErrStopped
	}
	res := <-req.reply
	return res.userCount, res.err
}

// Detach removes a connection. Safe to call more than once.
func (h *Hub) Detach(connID string) {
	select {
	case h.detach <- connID:
	case <-h.quit:
	}
}

// Submit queues a raw client frame for dispatch. It blocks when the intake
// buffer is full, back-pressuring only the submitting connection's reader.
func (h *Hub) Submit(connID string, raw []byte) {
	select {
	case h.intake <- inbound{connID: connID, raw: raw}:
	case <-h.quit:
	}
}

func (h *Hub) handleAttach(conn *registry.Connection) attachResult {
	if h.registry.Len() >= h.cfg.MaxConcurrentUsers {
		return attachResult{err: ErrServerFull}
	}

	h.registry.Register(conn)
	count := h.registry.Len()

	h.sendTo(conn, protocol.NewSystemMessage(protocol.TypeUserConnected, map[string]interface{}{
		"connection_id": conn.ID,
		"user_count":    count,
	}))
	h.broadcastUserList()
	h.collector.RecordActivity("user_connected", count)

	logger.Info("User %s (%s) connected with connection %s", conn.Username, conn.UserID, conn.ID)
	return attachResult{userCount: count}
}

// detachConn runs the full cleanup path. closeReason, when set, closes the
// transport too (reaping, shutdown); otherwise the socket is already gone.
func (h *Hub) detachConn(connID, closeReason string) {
	conn := h.registry.Unregister(connID)
	if conn == nil {
		return
	}
	if closeReason != "" {
		conn.CloseTransport(protocol.CloseGoingAway, closeReason)
	}

	if !h.registry.UserConnected(conn.UserID) {
		h.limiter.Forget(conn.UserID)
		left := h.sessions.LeaveAll(conn.UserID)
		released := h.scene.ReleaseAllHeld(conn.UserID)
		if len(left) > 0 || len(released) > 0 {
			logger.Debug("User %s departed: left %d sessions, released %d locks",
				conn.UserID, len(left), len(released))
		}
		h.broadcast(protocol.NewSystemMessage(protocol.TypeUserDisconnected, map[string]interface{}{
			"user_id":  conn.UserID,
			"username": conn.Username,
		}), "")
	}

	h.broadcastUserList()
	h.collector.RecordActivity("user_disconnected", h.registry.Len())

	logger.Info("Cleaned up connection %s for user %s", connID, conn.UserID)
}

// syncTick broadcasts the metrics snapshot and drains pending scene updates
// accumulated since the previous tick.
func (h *Hub) syncTick() {
	if h.registry.Len() > 0 {
		h.broadcast(protocol.NewSystemMessage(protocol.TypePerformanceUpdate, map[string]interface{}{
			"metrics": h.collector.Current(),
		}), "")
	}

	updates := h.scene.DrainUpdates(h.lastDrain)
	if len(updates) == 0 {
		return
	}
	// Scene timestamps are assigned under its mutex, so advancing the
	// watermark to the newest drained entry skips nothing.
	h.lastDrain = updates[len(updates)-1].Timestamp

	if h.registry.Len() > 0 {
		h.broadcast(protocol.NewSystemMessage(protocol.TypeSceneUpdate, map[string]interface{}{
			"updates": updates,
		}), "")
	}
}

// cleanupTick prunes the scene log and reaps idle connections.
func (h *Hub) cleanupTick() {
	if removed := h.scene.Prune(h.cfg.PendingMaxAge); removed > 0 {
		logger.Debug("Pruned %d stale scene updates", removed)
	}

	now := time.Now()
	var idle []string
	for _, conn := range h.registry.All() {
		if now.Sub(conn.LastActivity) > h.cfg.InactivityTimeout {
			idle = append(idle, conn.ID)
		}
	}
	for _, connID := range idle {
		logger.Info("Reaping inactive connection %s", connID)
		h.detachConn(connID, "inactive")
	}
}

func (h *Hub) closeAll() {
	for _, conn := range h.registry.All() {
		conn.CloseTransport(protocol.CloseGoingAway, "server shutting down")
	}
}

// Stats reports hub counters for the HTTP surface.
func (h *Hub) Stats() Stats {
	var stats Stats
	done := make(chan struct{})
	select {
	case h.queries <- func(reg *registry.Registry) {
		stats = Stats{
			Connections: reg.Len(),
			Users:       reg.UserCount(),
			Entities:    h.scene.EntityCount(),
			Uptime:      time.Since(h.startedAt),
		}
		close(done)
	}:
		<-done
	case <-h.quit:
	}
	return stats
}

// ConnectedUsers returns the detailed roster for the HTTP surface.
func (h *Hub) ConnectedUsers() []map[string]interface{} {
	var users []map[string]interface{}
	done := make(chan struct{})
	select {
	case h.queries <- func(reg *registry.Registry) {
		users = connectedUserDetails(reg.All())
		close(done)
	}:
		<-done
	case <-h.quit:
	}
	return users
}
