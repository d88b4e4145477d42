package services

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"presence-backend/internal/models"
)

// Observer is notified of room changes while the room lock is held, so a
// mutation and the event derived from it form one atomic step. Observers
// must not block and must not call back into the Registry.
type Observer interface {
	MembershipChanged(view RoomView)
	ActivityChanged(view RoomView, connID string, speaking bool)
}

// RoomView is the state of a room at the moment of a change.
type RoomView struct {
	RoomID  string
	Members []models.Member
	conns   []models.Connection
}

// Send queues data on every connection in the view and returns the ids of
// connections that could not take it.
func (v RoomView) Send(data []byte) []string {
	var failed []string
	for _, conn := range v.conns {
		if err := conn.Send(data); err != nil {
			failed = append(failed, conn.ID())
		}
	}
	return failed
}

func (v RoomView) Recipients() int {
	return len(v.conns)
}

// RoomChange reports one room whose membership changed.
type RoomChange struct {
	RoomID  string
	Members []models.Member
	Deleted bool
}

// Identity is the public identity attached to a connection.
type Identity struct {
	ConnectionID string
	UserID       string
	DisplayName  string
}

type session struct {
	conn        models.Connection
	userID      string
	displayName string
	rooms       map[string]struct{}
}

type member struct {
	models.Member
	conn models.Connection
	seq  uint64
}

type room struct {
	mu      sync.Mutex
	id      string
	members map[string]*member
	// dead is set once the room has been removed from the registry; a
	// caller holding a stale pointer must look the room up again.
	dead bool
}

func (rm *room) view() RoomView {
	entries := lo.Values(rm.members)
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return RoomView{
		RoomID:  rm.id,
		Members: lo.Map(entries, func(m *member, _ int) models.Member { return m.Member }),
		conns:   lo.Map(entries, func(m *member, _ int) models.Connection { return m.conn }),
	}
}

// Registry is the sole owner of sessions and room membership.
//
// Lock order: room.mu, then sessMu or mu. sessMu and mu are never held together.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	sessMu   sync.RWMutex
	sessions map[string]*session
	// users is the private delivery channel of each user: userID -> connIDs.
	users map[string]map[string]struct{}

	seq      atomic.Uint64
	observer Observer
	log      *slog.Logger
}

func NewRegistry(observer Observer, log *slog.Logger) *Registry {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Registry{
		rooms:    make(map[string]*room),
		sessions: make(map[string]*session),
		users:    make(map[string]map[string]struct{}),
		observer: observer,
		log:      log,
	}
}

// Connect registers a live transport. Identity is attached on the first join.
func (r *Registry) Connect(conn models.Connection) {
	r.sessMu.Lock()
	r.sessions[conn.ID()] = &session{conn: conn, rooms: make(map[string]struct{})}
	r.sessMu.Unlock()
	r.log.Debug("connection registered", "connectionId", conn.ID())
}

// Join adds or overwrites the member record of connID in roomID and returns
// the room's members. A connection keeps the user id of its first join for
// its whole lifetime.
func (r *Registry) Join(connID, roomID, userID, displayName string) ([]models.Member, error) {
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidJoin
	}

	for {
		members, retry, err := r.joinRoom(r.roomFor(roomID), connID, userID, displayName)
		if retry {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.log.Info("joined room", "room", roomID, "connectionId", connID, "userId", userID, "members", len(members))
		return members, nil
	}
}

// joinRoom reports retry when rm was removed before its lock was taken.
func (r *Registry) joinRoom(rm *room, connID, userID, displayName string) ([]models.Member, bool, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.dead {
		return nil, true, nil
	}

	conn, err := r.enroll(connID, rm.id, userID, displayName)
	if err != nil {
		r.dropIfEmpty(rm)
		return nil, false, err
	}

	m, ok := rm.members[connID]
	if !ok {
		m = &member{seq: r.seq.Add(1)}
		rm.members[connID] = m
	}
	m.Member = models.Member{
		ConnectionID: connID,
		UserID:       userID,
		DisplayName:  displayName,
	}
	m.conn = conn

	view := rm.view()
	r.observer.MembershipChanged(view)
	return view.Members, false, nil
}

// Leave removes connID from roomID. The bool is false when connID was not a
// member, in which case nothing is emitted.
func (r *Registry) Leave(connID, roomID string) (RoomChange, bool) {
	change, ok := r.removeMember(connID, roomID)
	if ok {
		r.log.Info("left room", "room", roomID, "connectionId", connID, "members", len(change.Members))
	}
	return change, ok
}

// Purge removes connID from every room it joined and forgets its session.
// A second call for the same connection is a no-op.
func (r *Registry) Purge(connID string) []RoomChange {
	r.sessMu.Lock()
	s, ok := r.sessions[connID]
	if !ok {
		r.sessMu.Unlock()
		return nil
	}
	delete(r.sessions, connID)
	r.unenrollLocked(connID, s.userID)
	roomIDs := lo.Keys(s.rooms)
	r.sessMu.Unlock()

	sort.Strings(roomIDs)
	changes := make([]RoomChange, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		if change, ok := r.removeMember(connID, roomID); ok {
			changes = append(changes, change)
		}
	}
	r.log.Debug("connection purged", "connectionId", connID, "rooms", len(changes))
	return changes
}

// SetActivity updates the speaking flag of an existing member. It never
// joins and reports whether the flag changed.
func (r *Registry) SetActivity(connID, roomID string, speaking bool) bool {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.dead {
		return false
	}
	m, ok := rm.members[connID]
	if !ok || m.IsSpeaking == speaking {
		return false
	}
	m.IsSpeaking = speaking
	r.observer.ActivityChanged(rm.view(), connID, speaking)
	return true
}

// Members returns the current members of roomID, or nil if the room does not exist.
func (r *Registry) Members(roomID string) []models.Member {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.dead {
		return nil
	}
	return rm.view().Members
}

// HasRoom reports whether a room record exists.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) Identity(connID string) (Identity, bool) {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Identity{}, false
	}
	return Identity{ConnectionID: connID, UserID: s.userID, DisplayName: s.displayName}, true
}

// UserConnections returns every live connection enrolled in userID's channel.
func (r *Registry) UserConnections(userID string) []models.Connection {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	ids := r.users[userID]
	conns := make([]models.Connection, 0, len(ids))
	for id := range ids {
		if s, ok := r.sessions[id]; ok {
			conns = append(conns, s.conn)
		}
	}
	return conns
}

// IsUserOnline checks if any active connection belongs to the given user
func (r *Registry) IsUserOnline(userID string) bool {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	return len(r.users[userID]) > 0
}

// Stats returns the number of rooms and live connections.
func (r *Registry) Stats() (rooms, connections int) {
	r.mu.Lock()
	rooms = len(r.rooms)
	r.mu.Unlock()

	r.sessMu.RLock()
	connections = len(r.sessions)
	r.sessMu.RUnlock()
	return rooms, connections
}

func (r *Registry) roomFor(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, members: make(map[string]*member)}
		r.rooms[roomID] = rm
	}
	return rm
}

// enroll binds identity to the session on its first join and records room
// membership on it. Called with the room lock held.
func (r *Registry) enroll(connID, roomID, userID, displayName string) (models.Connection, error) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	if s.userID != "" && s.userID != userID {
		return nil, ErrUserMismatch
	}
	if s.userID == "" {
		if r.users[userID] == nil {
			r.users[userID] = make(map[string]struct{})
		}
		r.users[userID][connID] = struct{}{}
	}
	s.userID = userID
	s.displayName = displayName
	s.rooms[roomID] = struct{}{}
	return s.conn, nil
}

func (r *Registry) unenrollLocked(connID, userID string) {
	if userID == "" {
		return
	}
	delete(r.users[userID], connID)
	if len(r.users[userID]) == 0 {
		delete(r.users, userID)
	}
}

func (r *Registry) removeMember(connID, roomID string) (RoomChange, bool) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return RoomChange{}, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.dead {
		return RoomChange{}, false
	}
	if _, ok := rm.members[connID]; !ok {
		return RoomChange{}, false
	}
	delete(rm.members, connID)

	r.sessMu.Lock()
	if s, ok := r.sessions[connID]; ok {
		delete(s.rooms, roomID)
	}
	r.sessMu.Unlock()

	view := rm.view()
	r.observer.MembershipChanged(view)
	deleted := r.dropIfEmpty(rm)
	return RoomChange{RoomID: roomID, Members: view.Members, Deleted: deleted}, true
}

// dropIfEmpty deletes an empty room record. Called with rm.mu held.
func (r *Registry) dropIfEmpty(rm *room) bool {
	if len(rm.members) > 0 {
		return false
	}
	rm.dead = true
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
	r.log.Debug("room removed", "room", rm.id)
	return true
}

type nopObserver struct{}

func (nopObserver) MembershipChanged(RoomView)             {}
func (nopObserver) ActivityChanged(RoomView, string, bool) {}
