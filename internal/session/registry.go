// Package session tracks which user owns which live connection and which room
// each user currently occupies. Room membership is never stored separately;
// it is derived from the registry on every query.
package session

import "sync"

// Session is the live association between an authenticated user and the room
// they are in. An empty Room means the user is still in the lobby.
type Session struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Room   string `json:"room"`
}

// InRoom reports whether the session has joined a room.
func (s Session) InRoom() bool {
	return s.Room != ""
}

// Registry owns the sessions keyed by user id together with the binding of
// each connection id to the user it authenticated as. Every method is atomic
// with respect to the others.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	conns    map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		conns:    make(map[string]string),
	}
}

// Upsert inserts or replaces the session for userID and returns it.
func (r *Registry) Upsert(userID, name, room string) Session {
	next, _, _ := r.Replace(userID, name, room)
	return next
}

// Replace stores a new session for userID and returns it along with the
// session it replaced, if any. Capturing the previous room and writing the
// new one happen in a single critical section.
func (r *Registry) Replace(userID, name, room string) (next, prev Session, replaced bool) {
	next = Session{UserID: userID, Name: name, Room: room}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced = r.sessions[userID]
	r.sessions[userID] = next
	return next, prev, replaced
}

// Remove deletes the session for userID. Removing an absent user is a no-op.
func (r *Registry) Remove(userID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	return s, ok
}

// Get returns the session for userID. A missing session means the user has
// not authenticated yet or has already disconnected.
func (r *Registry) Get(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	return s, ok
}

// Bind associates a connection with the user it authenticated as.
func (r *Registry) Bind(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = userID
}

// UserFor returns the user bound to connID.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.conns[connID]
	return userID, ok
}

// Unbind drops the binding for connID and returns the user it pointed to.
func (r *Registry) Unbind(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	return userID, ok
}

// Release runs the close transition for a connection: the binding is dropped
// and the session of the bound user is removed. bound is false when the
// connection never authenticated; removed is false when the user's session
// was already gone.
func (r *Registry) Release(connID string) (userID string, s Session, bound, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, bound = r.conns[connID]
	if !bound {
		return "", Session{}, false, false
	}
	delete(r.conns, connID)

	s, removed = r.sessions[userID]
	if removed {
		delete(r.sessions, userID)
	}
	return userID, s, bound, removed
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot copies the registry under a single read lock so that callers can
// compute audiences without observing a session mid-update.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make(map[string]Session, len(r.sessions))
	for id, s := range r.sessions {
		sessions[id] = s
	}
	conns := make(map[string]string, len(r.conns))
	for connID, userID := range r.conns {
		conns[connID] = userID
	}
	return Snapshot{sessions: sessions, conns: conns}
}

// SessionsInRoom is a convenience wrapper over a fresh snapshot.
func (r *Registry) SessionsInRoom(room string) []Session {
	return r.Snapshot().SessionsInRoom(room)
}

// ActiveRooms is a convenience wrapper over a fresh snapshot.
func (r *Registry) ActiveRooms() []string {
	return r.Snapshot().ActiveRooms()
}
