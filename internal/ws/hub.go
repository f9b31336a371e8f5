package ws

import (
	"sort"
	"sync"

	"chat-relay/internal/models"
)

// Hub is the registry of live sessions. All access goes through its methods.
type Hub struct {
	sessions map[*Session]SessionInfo
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[*Session]SessionInfo)}
}

// Add registers a session.
func (h *Hub) Add(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = s.info
}

// Remove unregisters a session and reports whether it was registered.
func (h *Hub) Remove(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return false
	}
	delete(h.sessions, s)
	return true
}

// Lookup returns the metadata of the most recently connected session of an
// identity.
func (h *Hub) Lookup(identityID string) (models.Participant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var (
		latest SessionInfo
		found  bool
	)
	for _, info := range h.sessions {
		if info.IdentityID != identityID {
			continue
		}
		if !found || info.ConnectedAt.After(latest.ConnectedAt) {
			latest, found = info, true
		}
	}
	if !found {
		return models.Participant{}, false
	}
	return models.Participant{
		IdentityID:  latest.IdentityID,
		DisplayName: latest.DisplayName,
		Role:        models.NormalizeRole(latest.Role),
	}, true
}

// Online reports whether identityID has at least one live session.
func (h *Hub) Online(identityID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, info := range h.sessions {
		if info.IdentityID == identityID {
			return true
		}
	}
	return false
}

// Snapshot returns the roster ordered by connection time.
func (h *Hub) Snapshot() []models.OnlineUser {
	h.mu.RLock()
	infos := make([]SessionInfo, 0, len(h.sessions))
	for _, info := range h.sessions {
		infos = append(infos, info)
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ConnID < infos[j].ConnID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	users := make([]models.OnlineUser, 0, len(infos))
	for _, info := range infos {
		users = append(users, models.OnlineUser{
			ID:    info.IdentityID,
			Name:  info.DisplayName,
			Color: info.Color,
			Role:  info.Role,
		})
	}
	return users
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast queues frame on every session except skip (which may be nil) and
// returns how many sessions accepted it.
func (h *Hub) Broadcast(frame []byte, skip *Session) int {
	delivered := 0
	for _, s := range h.matching(func(s *Session, _ SessionInfo) bool { return s != skip }) {
		if s.Enqueue(frame) {
			delivered++
		}
	}
	return delivered
}

// Deliver queues frame on every session owned by one of identityIDs. The
// result counts accepted frames per identity.
func (h *Hub) Deliver(frame []byte, identityIDs ...string) map[string]int {
	wanted := make(map[string]struct{}, len(identityIDs))
	for _, id := range identityIDs {
		wanted[id] = struct{}{}
	}
	delivered := make(map[string]int, len(wanted))
	for _, s := range h.matching(func(_ *Session, info SessionInfo) bool {
		_, ok := wanted[info.IdentityID]
		return ok
	}) {
		if s.Enqueue(frame) {
			delivered[s.info.IdentityID]++
		}
	}
	return delivered
}

// CloseAll closes every live session.
func (h *Hub) CloseAll() {
	for _, s := range h.matching(func(*Session, SessionInfo) bool { return true }) {
		s.Close()
	}
}

// matching copies the selected sessions so sends happen outside the lock.
func (h *Hub) matching(keep func(*Session, SessionInfo) bool) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for s, info := range h.sessions {
		if keep(s, info) {
			out = append(out, s)
		}
	}
	return out
}
