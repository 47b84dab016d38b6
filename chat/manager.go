package chat

import (
	"sync"
)

// Manager is the per-instance routing table: which connections are open
// here, who owns them, and which rooms they joined. It is purely a local
// optimization; the shared presence tracker is the cross-instance source
// of truth, and this table is rebuilt naturally as clients reconnect after
// a restart.
type Manager struct {
	mu     sync.RWMutex
	byID   map[string]*Conn
	byUser map[string]map[string]*Conn // userID -> connID -> conn
	rooms  map[string]map[string]*Conn // convID -> connID -> conn
}

func NewManager() *Manager {
	return &Manager{
		byID:   make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
	}
}

func (m *Manager) Add(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = c
}

// Bind indexes an authenticated connection under its user.
func (m *Manager) Bind(c *Conn, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UserID = userID
	mm := m.byUser[userID]
	if mm == nil {
		mm = make(map[string]*Conn)
		m.byUser[userID] = mm
	}
	mm[c.ID] = c
}

// Remove drops the connection from every index.
func (m *Manager) Remove(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, c.ID)
	if mm := m.byUser[c.UserID]; mm != nil {
		delete(mm, c.ID)
		if len(mm) == 0 {
			delete(m.byUser, c.UserID)
		}
	}
	for conv, conns := range m.rooms {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(m.rooms, conv)
		}
	}
}

func (m *Manager) JoinRoom(c *Conn, convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.rooms[convID]
	if conns == nil {
		conns = make(map[string]*Conn)
		m.rooms[convID] = conns
	}
	conns[c.ID] = c
}

func (m *Manager) LeaveRoom(c *Conn, convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conns := m.rooms[convID]; conns != nil {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(m.rooms, convID)
		}
	}
}

func (m *Manager) InRoom(connID, convID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[convID][connID]
	return ok
}

// RoomConns snapshots the room membership, optionally excluding one
// connection (the originator of a broadcast).
func (m *Manager) RoomConns(convID, exceptConnID string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := m.rooms[convID]
	out := make([]*Conn, 0, len(conns))
	for id, c := range conns {
		if id == exceptConnID {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (m *Manager) UserConns(userID string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	out := make([]*Conn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// AllConns snapshots every open connection on this instance.
func (m *Manager) AllConns() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
