package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status describes where a collaborative workflow session stands.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Snapshot is a point-in-time copy of a session, safe to hand out.
type Snapshot struct {
	ID           string                 `json:"session_id"`
	WorkflowID   string                 `json:"workflow_id"`
	OwnerID      string                 `json:"owner_id"`
	Participants []string               `json:"participants"`
	StartedAt    time.Time              `json:"started_at"`
	CurrentStep  int                    `json:"current_step"`
	TotalSteps   int                    `json:"total_steps"`
	Progress     float64                `json:"progress"`
	Status       Status                 `json:"status"`
	SharedState  map[string]interface{} `json:"shared_state"`
}

// session is the live record. Its mutex serializes the progress tuple so
// concurrent reporters cannot interleave partial updates.
type session struct {
	mu           sync.Mutex
	id           string
	workflowID   string
	ownerID      string
	participants map[string]bool
	startedAt    time.Time
	currentStep  int
	totalSteps   int
	progress     float64
	status       Status
	sharedState  map[string]interface{}
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants := make([]string, 0, len(s.participants))
	for id := range s.participants {
		participants = append(participants, id)
	}
	state := make(map[string]interface{}, len(s.sharedState))
	for k, v := range s.sharedState {
		state[k] = v
	}
	return Snapshot{
		ID:           s.id,
		WorkflowID:   s.workflowID,
		OwnerID:      s.ownerID,
		Participants: participants,
		StartedAt:    s.startedAt,
		CurrentStep:  s.currentStep,
		TotalSteps:   s.totalSteps,
		Progress:     s.progress,
		Status:       s.status,
		SharedState:  state,
	}
}

// Coordinator manages collaborative workflow sessions. Safe for concurrent
// use; progress reporters call it from outside the dispatch path.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*session
	byUser   map[string]map[string]bool
	now      func() time.Time
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*session),
		byUser:   make(map[string]map[string]bool),
		now:      time.Now,
	}
}

// Create opens a session for the workflow with the owner as its first
// participant and returns the session id.
func (c *Coordinator) Create(workflowID, ownerID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	c.sessions[id] = &session{
		id:           id,
		workflowID:   workflowID,
		ownerID:      ownerID,
		participants: map[string]bool{ownerID: true},
		startedAt:    c.now(),
		status:       StatusPending,
		sharedState:  make(map[string]interface{}),
	}
	c.index(ownerID, id)
	return id
}

// Join adds the user to an existing session.
func (c *Coordinator) Join(sessionID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return false
	}
	s.mu.Lock()
	s.participants[userID] = true
	s.mu.Unlock()
	c.index(userID, sessionID)
	return true
}

// Leave removes the user from the session. The session is deleted once its
// last participant leaves.
func (c *Coordinator) Leave(sessionID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveLocked(sessionID, userID)
}

// LeaveAll removes the user from every session they take part in and returns
// the ids of the sessions that were affected.
func (c *Coordinator) LeaveAll(userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.byUser[userID]))
	for sessionID := range c.byUser[userID] {
		ids = append(ids, sessionID)
	}
	for _, sessionID := range ids {
		c.leaveLocked(sessionID, userID)
	}
	return ids
}

func (c *Coordinator) leaveLocked(sessionID, userID string) {
	s, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.participants, userID)
	empty := len(s.participants) == 0
	s.mu.Unlock()

	if userSessions, ok := c.byUser[userID]; ok {
		delete(userSessions, sessionID)
		if len(userSessions) == 0 {
			delete(c.byUser, userID)
		}
	}
	if empty {
		delete(c.sessions, sessionID)
	}
}

// index records the user's membership. Callers hold c.mu.
func (c *Coordinator) index(userID, sessionID string) {
	userSessions, ok := c.byUser[userID]
	if !ok {
		userSessions = make(map[string]bool)
		c.byUser[userID] = userSessions
	}
	userSessions[sessionID] = true
}

// UpdateProgress replaces the session's progress tuple atomically.
func (c *Coordinator) UpdateProgress(sessionID string, currentStep, totalSteps int, progress float64, status Status) bool {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentStep = currentStep
	s.totalSteps = totalSteps
	s.progress = progress
	s.status = status
	return true
}

// SetSharedState stores one key of the session's shared scratch space.
func (c *Coordinator) SetSharedState(sessionID, key string, value interface{}) bool {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharedState[key] = value
	return true
}

// Get returns a snapshot of the session.
func (c *Coordinator) Get(sessionID string) (Snapshot, bool) {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// SessionsForUser returns the ids of the sessions the user takes part in.
func (c *Coordinator) SessionsForUser(userID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.byUser[userID]))
	for id := range c.byUser[userID] {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live sessions.
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
