package session

import "sort"

// Snapshot is an immutable copy of the registry. The room queries on it are
// full scans; nothing is cached, so there is no index to fall out of sync.
type Snapshot struct {
	sessions map[string]Session
	conns    map[string]string
}

// Len returns the number of sessions in the snapshot.
func (s Snapshot) Len() int {
	return len(s.sessions)
}

// Session looks up a session by user id.
func (s Snapshot) Session(userID string) (Session, bool) {
	sess, ok := s.sessions[userID]
	return sess, ok
}

// SessionForConn resolves a connection to the session of its bound user.
func (s Snapshot) SessionForConn(connID string) (Session, bool) {
	userID, ok := s.conns[connID]
	if !ok {
		return Session{}, false
	}
	return s.Session(userID)
}

// SessionsInRoom returns every session whose room equals room, ordered by user
// id. The lobby (empty room) has no listing.
func (s Snapshot) SessionsInRoom(room string) []Session {
	members := make([]Session, 0)
	if room == "" {
		return members
	}
	for _, sess := range s.sessions {
		if sess.Room == room {
			members = append(members, sess)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members
}

// ActiveRooms returns the distinct non-empty rooms across all sessions, sorted.
func (s Snapshot) ActiveRooms() []string {
	seen := make(map[string]struct{})
	rooms := make([]string, 0)
	for _, sess := range s.sessions {
		if !sess.InRoom() {
			continue
		}
		if _, dup := seen[sess.Room]; dup {
			continue
		}
		seen[sess.Room] = struct{}{}
		rooms = append(rooms, sess.Room)
	}
	sort.Strings(rooms)
	return rooms
}
