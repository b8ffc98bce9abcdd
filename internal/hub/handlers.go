package hub

import (
	"errors"
	"time"

	"github.com/scenehub/scenehub/internal/logger"
	"github.com/scenehub/scenehub/internal/protocol"
	"github.com/scenehub/scenehub/internal/registry"
)

// dispatch processes one raw frame from a connection. Malformed frames are
// answered before the rate limiter so that garbage cannot eat the sender's
// budget; everything parseable counts against it.
func (h *Hub) dispatch(connID string, raw []byte) {
	conn, ok := h.registry.Get(connID)
	if !ok {
		return
	}
	conn.Touch(time.Now())

	msg, err := protocol.ParseEnvelope(raw)
	if errors.Is(err, protocol.ErrMalformed) {
		h.sendError(conn, "Invalid JSON message")
		return
	}
	if !h.limiter.Allow(conn.UserID) {
		h.sendError(conn, "Rate limit exceeded")
		return
	}
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}

	// Clients cannot speak for anyone else.
	msg.SenderID = conn.UserID
	h.collector.RecordActivity("message_received", h.registry.Len())

	h.handle(conn, msg)
	for _, fn := range h.handlers[msg.Type] {
		h.invoke(fn, conn, msg)
	}
}

// handle runs the built-in handler for the message type. A panic here fails
// only this message, never the dispatch loop.
func (h *Hub) handle(conn *registry.Connection, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panic on %s from %s: %v", msg.Type, msg.SenderID, r)
		}
	}()

	switch msg.Type {
	case protocol.TypeWorkflowStarted:
		h.workflowStarted(conn, msg)
	case protocol.TypeSceneUpdate, protocol.TypeObjectModified:
		h.sceneUpdate(conn, msg)
	case protocol.TypeCommandReceived:
		h.commandReceived(conn, msg)
	case protocol.TypeChatMessage:
		h.chatMessage(conn, msg)
	case protocol.TypeCursorPosition:
		h.cursorPosition(conn, msg)
	case protocol.TypeSelectionChanged:
		h.selectionChanged(conn, msg)
	}
}

func (h *Hub) invoke(fn Handler, conn *registry.Connection, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("External handler panic on %s from %s: %v", msg.Type, msg.SenderID, r)
		}
	}()
	fn(conn, msg)
}

func (h *Hub) workflowStarted(conn *registry.Connection, msg *protocol.Message) {
	var payload protocol.WorkflowStartedPayload
	if err := msg.DecodeData(&payload); err != nil {
		logger.Debug("Rejected workflow_started from %s: %v", conn.UserID, err)
		h.sendError(conn, "workflow_started requires a workflow_id")
		return
	}

	sessionID := h.sessions.Create(payload.WorkflowID, conn.UserID)
	conn.SessionID = sessionID
	logger.Info("Workflow %s started by %s, session %s", payload.WorkflowID, conn.UserID, sessionID)

	h.broadcast(protocol.NewMessage(protocol.TypeWorkflowStarted, conn.UserID, map[string]interface{}{
		"workflow_id": payload.WorkflowID,
		"session_id":  sessionID,
		"username":    conn.Username,
	}), conn.UserID)
}

// sceneUpdate handles both scene_update and object_modified frames; either
// way the resulting state goes out as a scene_update.
func (h *Hub) sceneUpdate(conn *registry.Connection, msg *protocol.Message) {
	var payload protocol.SceneUpdatePayload
	if err := msg.DecodeData(&payload); err != nil {
		logger.Debug("Rejected %s from %s: %v", msg.Type, conn.UserID, err)
		h.sendError(conn, "scene updates require an object_id")
		return
	}

	res := h.scene.ApplyUpdate(payload.ObjectID, payload.Properties, conn.UserID)
	if !res.Accepted {
		h.sendTo(conn, protocol.NewSystemMessage(protocol.TypeErrorNotification, map[string]interface{}{
			"success": false,
			"reason":  "object_locked",
			"held_by": res.HeldBy,
		}))
		return
	}

	h.broadcast(protocol.NewMessage(protocol.TypeSceneUpdate, conn.UserID, map[string]interface{}{
		"object_id":  payload.ObjectID,
		"properties": payload.Properties,
		"state":      res.State,
	}), conn.UserID)
}

func (h *Hub) commandReceived(conn *registry.Connection, msg *protocol.Message) {
	var payload protocol.CommandPayload
	if err := msg.DecodeData(&payload); err != nil {
		logger.Debug("Rejected command_received from %s: %v", conn.UserID, err)
		h.sendError(conn, "command_received requires a command")
		return
	}

	h.broadcast(protocol.NewMessage(protocol.TypeCommandReceived, conn.UserID, map[string]interface{}{
		"command":  payload.Command,
		"username": conn.Username,
	}), conn.UserID)
}

// chatMessage goes to every connection, the sender included, so all clients
// render the same wire history.
func (h *Hub) chatMessage(conn *registry.Connection, msg *protocol.Message) {
	var payload protocol.ChatPayload
	if err := msg.DecodeData(&payload); err != nil {
		logger.Debug("Rejected chat_message from %s: %v", conn.UserID, err)
		h.sendError(conn, "chat_message requires text")
		return
	}

	h.broadcast(protocol.NewMessage(protocol.TypeChatMessage, conn.UserID, map[string]interface{}{
		"text":     payload.Text,
		"username": conn.Username,
	}), "")
}

func (h *Hub) cursorPosition(conn *registry.Connection, msg *protocol.Message) {
	var payload protocol.CursorPayload
	if err := msg.DecodeData(&payload); err != nil {
		logger.Debug("Rejected cursor_position from %s: %v", conn.UserID, err)
		h.sendError(conn, "cursor_position requires a position")
		return
	}

	conn.Cursor = payload.Position
	h.broadcast(protocol.NewMessage(protocol.TypeCursorPosition, conn.UserID, map[string]interface{}{
		"position": payload.Position,
		"username": conn.Username,
	}), conn.UserID)
}

func (h *Hub) selectionChanged(conn *registry.Connection, msg *protocol.Message) {
	var payload protocol.SelectionPayload
	if err := msg.DecodeData(&payload); err != nil {
		logger.Debug("Rejected selection_changed from %s: %v", conn.UserID, err)
		h.sendError(conn, "selection_changed carries a selected list")
		return
	}

	conn.Selection = payload.Selected
	h.broadcast(protocol.NewMessage(protocol.TypeSelectionChanged, conn.UserID, map[string]interface{}{
		"selected": payload.Selected,
		"username": conn.Username,
	}), conn.UserID)
}
