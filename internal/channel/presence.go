package channel

import "sort"

// Members tracks presence members. A user holding several connections is
// one member. Callers serialize access.
type Members struct {
	users  map[string]*member
	byConn map[string]string // connection id -> user id
}

type member struct {
	info  any
	conns map[string]struct{}
}

// PresenceData is the snapshot sent with subscription_succeeded.
type PresenceData struct {
	Count int            `json:"count"`
	IDs   []string       `json:"ids"`
	Hash  map[string]any `json:"hash"`
}

func NewMembers() *Members {
	return &Members{
		users:  make(map[string]*member),
		byConn: make(map[string]string),
	}
}

// Add records a connection for userID and reports whether it is the user's
// first connection. A connection that switches identity leaves its previous
// user; displaced names that user when it has no connections left.
func (m *Members) Add(userID, connectionID string, info any) (added bool, displaced string) {
	if prev, ok := m.byConn[connectionID]; ok && prev != userID {
		if _, last := m.Remove(connectionID); last {
			displaced = prev
		}
	}
	u, ok := m.users[userID]
	if !ok {
		u = &member{info: info, conns: make(map[string]struct{})}
		m.users[userID] = u
	} else if info != nil {
		u.info = info
	}
	u.conns[connectionID] = struct{}{}
	m.byConn[connectionID] = userID
	return !ok, displaced
}

// Remove drops a connection. It returns the user id and whether that user
// has no connections left.
func (m *Members) Remove(connectionID string) (string, bool) {
	userID, ok := m.byConn[connectionID]
	if !ok {
		return "", false
	}
	delete(m.byConn, connectionID)
	u := m.users[userID]
	delete(u.conns, connectionID)
	if len(u.conns) > 0 {
		return userID, false
	}
	delete(m.users, userID)
	return userID, true
}

func (m *Members) Count() int { return len(m.users) }

// IDs returns member ids in sorted order.
func (m *Members) IDs() []string {
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Members) Hash() map[string]any {
	h := make(map[string]any, len(m.users))
	for id, u := range m.users {
		h[id] = u.info
	}
	return h
}

func (m *Members) Snapshot() PresenceData {
	return PresenceData{Count: m.Count(), IDs: m.IDs(), Hash: m.Hash()}
}
