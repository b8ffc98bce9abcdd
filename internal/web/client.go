package web

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/scenehub/scenehub/internal/consts"
	"github.com/scenehub/scenehub/internal/hub"
	"github.com/scenehub/scenehub/internal/logger"
	"github.com/scenehub/scenehub/internal/protocol"
	"github.com/scenehub/scenehub/internal/registry"
)

// Time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

var errSendQueueFull = errors.New("send queue full")

// Client owns one WebSocket connection after a successful handshake. The
// read pump feeds raw frames into the hub, the write pump drains the send
// queue; the hub holds the Client only through the registry's Sender handle.
type Client struct {
	id   string
	hub  *hub.Hub
	conn *websocket.Conn
	send chan []byte

	pongWait   time.Duration
	pingPeriod time.Duration

	closeOnce sync.Once
}

func newClient(h *hub.Hub, conn *websocket.Conn, heartbeat time.Duration) *Client {
	return &Client{
		id:         uuid.NewString(),
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, consts.SendQueueDepth),
		pongWait:   2 * heartbeat,
		pingPeriod: heartbeat,
	}
}

// Send queues a frame for the write pump. It never blocks: a full queue
// means the client cannot keep up and the hub will drop it.
func (c *Client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// from the hub while the pumps are running.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		closeSocket(c.conn, code, reason)
	})
}

// handshake enforces the authentication contract: the first frame must be a
// valid authenticate frame within the handshake timeout, and the hub must
// have capacity. Failures close the socket with the matching code and the
// connection never registers.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadLimit(protocol.MaxFrameSize)
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		conn.Close()
		return nil, err
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		closeSocket(conn, protocol.CloseAuthRequired, "Authentication required")
		return nil, err
	}

	frame, err := protocol.ParseAuthFrame(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidUser) {
			closeSocket(conn, protocol.CloseInvalidUser, "Invalid user_id")
		} else {
			closeSocket(conn, protocol.CloseAuthRequired, "Authentication required")
		}
		return nil, err
	}

	client := newClient(s.hub, conn, s.cfg.HeartbeatInterval)
	record := registry.NewConnection(client.id, frame.UserID, frame.Username, frame.Permissions, client, time.Now())

	if _, err := s.hub.Attach(record); err != nil {
		if errors.Is(err, hub.ErrServerFull) {
			closeSocket(conn, protocol.CloseServerFull, "Server full")
		} else {
			closeSocket(conn, protocol.CloseGoingAway, "Server shutting down")
		}
		return nil, err
	}

	return client, nil
}

// readPump pumps frames from the socket into the hub's intake queue.
func (c *Client) readPump() {
	defer func() {
		c.hub.Detach(c.id)
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Error("WebSocket read error on %s: %v", c.id, err)
			}
			return
		}
		c.hub.Submit(c.id, raw)
	}
}

// writePump drains the send queue to the socket and keeps the heartbeat
// going. Must run in its own goroutine; gorilla allows one writer.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("Failed to write to %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
