package hub

import (
	"time"

	"github.com/samber/lo"

	"github.com/scenehub/scenehub/internal/logger"
	"github.com/scenehub/scenehub/internal/protocol"
	"github.com/scenehub/scenehub/internal/registry"
)

// sendTo delivers one message to one connection. A transport that cannot
// take the frame gets the full disconnect cleanup.
func (h *Hub) sendTo(conn *registry.Connection, msg *protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		logger.Error("Failed to encode %s message: %v", msg.Type, err)
		return
	}
	if err := conn.Send(data); err != nil {
		logger.Warn("Dropping connection %s after failed send: %v", conn.ID, err)
		h.detachConn(conn.ID, "send buffer full")
	}
}

func (h *Hub) sendError(conn *registry.Connection, text string) {
	h.sendTo(conn, protocol.NewSystemMessage(protocol.TypeErrorNotification, map[string]interface{}{
		"error": text,
	}))
}

// broadcast fans a message out to every connection, skipping all of
// excludeUser's connections and anyone outside the message's target list.
// Connections whose transport rejects the frame are detached after the fan
// out so cleanup broadcasts do not run while this one is still iterating.
func (h *Hub) broadcast(msg *protocol.Message, excludeUser string) {
	data, err := msg.Encode()
	if err != nil {
		logger.Error("Failed to encode %s broadcast: %v", msg.Type, err)
		return
	}

	var failed []string
	for _, conn := range h.registry.All() {
		if excludeUser != "" && conn.UserID == excludeUser {
			continue
		}
		if !msg.TargetedAt(conn.UserID) {
			continue
		}
		if err := conn.Send(data); err != nil {
			logger.Warn("Dropping connection %s after failed send: %v", conn.ID, err)
			failed = append(failed, conn.ID)
		}
	}
	for _, connID := range failed {
		h.detachConn(connID, "send buffer full")
	}
}

// broadcastUserList pushes the current roster to everyone. Sent after every
// attach and detach so clients converge on the same participant view.
func (h *Hub) broadcastUserList() {
	h.broadcast(protocol.NewSystemMessage(protocol.TypeUserList, map[string]interface{}{
		"users": userProjections(h.registry.All()),
	}), "")
}

// userProjections shapes connections for the wire: one entry per connection,
// current_workflow null until the user starts a workflow session.
func userProjections(conns []*registry.Connection) []map[string]interface{} {
	return lo.Map(conns, func(conn *registry.Connection, _ int) map[string]interface{} {
		return map[string]interface{}{
			"user_id":          conn.UserID,
			"username":         conn.Username,
			"connected_at":     conn.ConnectedAt.UTC().Format(time.RFC3339),
			"current_workflow": currentWorkflow(conn),
		}
	})
}

// connectedUserDetails is the verbose roster for the HTTP surface, adding
// the activity and cursor data the user_list broadcast leaves out.
func connectedUserDetails(conns []*registry.Connection) []map[string]interface{} {
	return lo.Map(conns, func(conn *registry.Connection, _ int) map[string]interface{} {
		return map[string]interface{}{
			"user_id":          conn.UserID,
			"username":         conn.Username,
			"connected_at":     conn.ConnectedAt.UTC().Format(time.RFC3339),
			"last_activity":    conn.LastActivity.UTC().Format(time.RFC3339),
			"current_workflow": currentWorkflow(conn),
			"cursor_position":  conn.Cursor,
		}
	})
}

func currentWorkflow(conn *registry.Connection) interface{} {
	if conn.SessionID == "" {
		return nil
	}
	return conn.SessionID
}

// BroadcastMessage queues a server-originated message for fan out to every
// client. It never blocks; when the queue is saturated the message is
// dropped with a warning.
func (h *Hub) BroadcastMessage(msg *protocol.Message) {
	select {
	case h.outbound <- msg:
	default:
		logger.Warn("Broadcast queue full, dropping %s message", msg.Type)
	}
}

// BroadcastWorkflowProgress pushes engine progress for a workflow to every
// client.
func (h *Hub) BroadcastWorkflowProgress(workflowID string, progress float64, currentStep, totalSteps int) {
	h.BroadcastMessage(protocol.NewSystemMessage(protocol.TypeWorkflowProgress, map[string]interface{}{
		"workflow_id":  workflowID,
		"progress":     progress,
		"current_step": currentStep,
		"total_steps":  totalSteps,
	}))
}

// BroadcastSystemStatus pushes a status snapshot to every client.
func (h *Hub) BroadcastSystemStatus(status map[string]interface{}) {
	h.BroadcastMessage(protocol.NewSystemMessage(protocol.TypeSystemStatus, status))
}
