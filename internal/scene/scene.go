package scene

import (
	"sort"
	"sync"
	"time"
)

// Update is one recorded mutation of a scene entity.
type Update struct {
	ObjectID   string                 `json:"object_id"`
	Properties map[string]interface{} `json:"properties"`
	UserID     string                 `json:"user_id"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Result reports the outcome of an update attempt. HeldBy names the lock
// holder when the update was rejected.
type Result struct {
	Accepted bool
	HeldBy   string
	State    map[string]interface{}
}

type lock struct {
	userID     string
	acquiredAt time.Time
}

// Synchronizer owns the shared scene state: entity property maps, advisory
// per-entity locks and the pending update log. Safe for concurrent use;
// engine collaborators apply updates from outside the dispatch path.
type Synchronizer struct {
	mu        sync.Mutex
	state     map[string]map[string]interface{}
	locks     map[string]lock
	pending   map[string][]Update
	staleness time.Duration
	now       func() time.Time
}

// NewSynchronizer creates an empty synchronizer whose locks go stale after
// the given duration.
func NewSynchronizer(staleness time.Duration) *Synchronizer {
	return &Synchronizer{
		state:     make(map[string]map[string]interface{}),
		locks:     make(map[string]lock),
		pending:   make(map[string][]Update),
		staleness: staleness,
		now:       time.Now,
	}
}

// ApplyUpdate merges properties into the entity's state unless another user
// holds a live lock on it. Accepted updates stamp last_modified plus
// last_modifying_user and join the pending log for the next re-sync
// broadcast.
func (s *Synchronizer) ApplyUpdate(objectID string, properties map[string]interface{}, userID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if lk, ok := s.locks[objectID]; ok && lk.userID != userID {
		if now.Sub(lk.acquiredAt) < s.staleness {
			return Result{HeldBy: lk.userID}
		}
		// A stale lock no longer protects its entity
		delete(s.locks, objectID)
	}

	current, ok := s.state[objectID]
	if !ok {
		current = make(map[string]interface{})
		s.state[objectID] = current
	}
	for k, v := range properties {
		current[k] = v
	}
	current["last_modified"] = now.UTC()
	current["last_modifying_user"] = userID

	s.pending[objectID] = append(s.pending[objectID], Update{
		ObjectID:   objectID,
		Properties: copyMap(properties),
		UserID:     userID,
		Timestamp:  now,
	})

	return Result{Accepted: true, State: copyMap(current)}
}

// AcquireLock takes or refreshes the advisory lock on an entity. It fails
// while another user's lock is still live; stale locks are taken over.
func (s *Synchronizer) AcquireLock(objectID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if lk, ok := s.locks[objectID]; ok && lk.userID != userID && now.Sub(lk.acquiredAt) < s.staleness {
		return false
	}
	s.locks[objectID] = lock{userID: userID, acquiredAt: now}
	return true
}

// ReleaseLock releases the entity's lock if the user holds it.
func (s *Synchronizer) ReleaseLock(objectID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lk, ok := s.locks[objectID]; ok && lk.userID == userID {
		delete(s.locks, objectID)
		return true
	}
	return false
}

// ReleaseAllHeld releases every lock the user holds and returns the affected
// entity ids, sorted.
func (s *Synchronizer) ReleaseAllHeld(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []string
	for objectID, lk := range s.locks {
		if lk.userID == userID {
			released = append(released, objectID)
		}
	}
	for _, objectID := range released {
		delete(s.locks, objectID)
	}
	sort.Strings(released)
	return released
}

// LockHolder reports who holds the entity's lock, if anyone.
func (s *Synchronizer) LockHolder(objectID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lk, ok := s.locks[objectID]
	return lk.userID, ok
}

// DrainUpdates returns all pending updates strictly newer than since,
// ascending by timestamp across entities.
func (s *Synchronizer) DrainUpdates(since time.Time) []Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updates []Update
	for _, objectUpdates := range s.pending {
		for _, u := range objectUpdates {
			if u.Timestamp.After(since) {
				updates = append(updates, u)
			}
		}
	}
	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].Timestamp.Before(updates[j].Timestamp)
	})
	return updates
}

// Prune drops pending updates older than maxAge and returns how many were
// removed.
func (s *Synchronizer) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for objectID, objectUpdates := range s.pending {
		kept := objectUpdates[:0]
		for _, u := range objectUpdates {
			if u.Timestamp.After(cutoff) {
				kept = append(kept, u)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.pending, objectID)
		} else {
			s.pending[objectID] = kept
		}
	}
	return removed
}

// EntityCount returns the number of entities with recorded state.
func (s *Synchronizer) EntityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state)
}

// LockCount returns the number of held locks, live or stale.
func (s *Synchronizer) LockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
