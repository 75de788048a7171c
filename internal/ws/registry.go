package ws

import (
	"sync"
	"time"
)

// Conn is the transport handle owned by a session. The concrete
// implementation wraps a gorilla WebSocket connection; tests substitute
// fakes.
type Conn interface {
	// WriteJSON sends one frame. Implementations serialize concurrent
	// writers.
	WriteJSON(v any) error
	// Close sends a close frame with the given code and tears the
	// transport down.
	Close(code int, reason string) error
}

// UserRef identifies one connected user in snapshots and broadcasts.
type UserRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Session is the process-lifetime record of one connected user. The Conn is
// owned exclusively by the registry for the session's duration.
type Session struct {
	UserID      int64
	UserName    string
	Conn        Conn
	ConnectedAt time.Time
}

// Registry is the in-memory bookkeeping of currently connected users. It
// keeps three mappings mutually consistent under one mutex: user id to
// session, user name to id, and transport handle to id. At most one live
// session exists per user id at any instant.
type Registry struct {
	mu       sync.Mutex
	byID     map[int64]*Session
	idByName map[string]int64
	idByConn map[Conn]int64

	// onChange, when set, receives an online snapshot after every
	// connect/disconnect; used for presence broadcasts.
	onChange func([]UserRef)
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[int64]*Session),
		idByName: make(map[string]int64),
		idByConn: make(map[Conn]int64),
	}
}

// SetOnChange installs the presence callback. Must be called before the
// registry is shared; the callback runs outside the registry lock.
func (r *Registry) SetOnChange(fn func([]UserRef)) { r.onChange = fn }

// Add registers a session for userID. If a session for the same user
// already exists, its transport is closed with a normal-closure code before
// the new mappings are installed; eviction is unconditional, with no grace
// period and no message draining.
func (r *Registry) Add(conn Conn, userID int64, userName string) *Session {
	r.mu.Lock()
	if prev, ok := r.byID[userID]; ok {
		prev.Conn.Close(closeNormal, "session replaced by a newer connection")
		delete(r.idByConn, prev.Conn)
		delete(r.idByName, prev.UserName)
		delete(r.byID, prev.UserID)
	}
	sess := &Session{
		UserID:      userID,
		UserName:    userName,
		Conn:        conn,
		ConnectedAt: time.Now().UTC(),
	}
	r.byID[userID] = sess
	r.idByName[userName] = userID
	r.idByConn[conn] = userID
	wsSessionsActive.Set(float64(len(r.byID)))
	snapshot := r.onlineLocked()
	r.mu.Unlock()

	r.notify(snapshot)
	return sess
}

// Remove drops the session owning conn, if any. A handle that was already
// evicted or never completed registration is a no-op and triggers no
// broadcast.
func (r *Registry) Remove(conn Conn) bool {
	r.mu.Lock()
	userID, ok := r.idByConn[conn]
	if !ok {
		r.mu.Unlock()
		return false
	}
	sess := r.byID[userID]
	delete(r.idByConn, conn)
	delete(r.idByName, sess.UserName)
	delete(r.byID, userID)
	wsSessionsActive.Set(float64(len(r.byID)))
	snapshot := r.onlineLocked()
	r.mu.Unlock()

	r.notify(snapshot)
	return true
}

// Get returns the live session for userID, if any.
func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[userID]
	return s, ok
}

// GetByName returns the live session for userName, if any.
func (r *Registry) GetByName(userName string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.idByName[userName]
	if !ok {
		return nil, false
	}
	s, ok := r.byID[id]
	return s, ok
}

// Online returns a snapshot of the currently connected users. Order is not
// significant.
func (r *Registry) Online() []UserRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

// Sessions returns a snapshot of all live sessions, used for broadcasts.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func (r *Registry) onlineLocked() []UserRef {
	out := make([]UserRef, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, UserRef{ID: s.UserID, Name: s.UserName})
	}
	return out
}

func (r *Registry) notify(snapshot []UserRef) {
	if r.onChange != nil {
		r.onChange(snapshot)
	}
}
