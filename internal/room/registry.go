package room

import (
	"sort"
	"sync"
	"time"

	"liveclass/pkg/types"
)

// Registry owns every active room of this process.
// It is injected into the dispatcher; there is no package level room map.
type Registry struct {
	mu              sync.RWMutex
	rooms           map[string]*Room
	chatLimit       int
	deleteWhenEmpty bool
	now             func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithChatHistoryLimit overrides the per-room chat cap
func WithChatHistoryLimit(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.chatLimit = n
		}
	}
}

// WithDeleteWhenEmpty drops a room as soon as its last participant leaves
func WithDeleteWhenEmpty(enabled bool) Option {
	return func(r *Registry) {
		r.deleteWhenEmpty = enabled
	}
}

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty room store
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:     make(map[string]*Room),
		chatLimit: DefaultChatHistoryLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join registers connectionID as identity's live connection in roomID.
// The room is created on first use. A second join for a user that already
// has an entry is a rejoin: the old connection is dropped from the index and
// reported back so peers can discard their link to it.
func (reg *Registry) Join(roomID, classID, connectionID string, identity types.User) JoinResult {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := reg.now()
	result := JoinResult{RoomID: roomID}

	r, ok := reg.rooms[roomID]
	if !ok {
		r = newRoom(roomID, reg.chatLimit, now)
		reg.rooms[roomID] = r
		result.RoomCreated = true
	}
	if classID != "" {
		r.classID = classID
	}
	result.ClassID = r.classID

	if p, exists := r.participants[identity.ID]; exists {
		result.IsRejoin = true
		oldConnectionID := p.ConnectionID
		if oldConnectionID != connectionID {
			delete(r.connectionIndex, oldConnectionID)
			result.PreviousConnectionID = oldConnectionID
		}
		p.ConnectionID = connectionID
		p.Profile = identity
		r.connectionIndex[connectionID] = identity.ID

		switch {
		case p.IsInstructor && r.instructorConnectionID == oldConnectionID:
			r.instructorConnectionID = connectionID
		case identity.IsInstructor() && r.instructorConnectionID == "":
			r.instructorConnectionID = connectionID
			p.IsInstructor = true
		}

		r.touch(now)
		result.Participant = *p
		return result
	}

	p := newParticipant(connectionID, identity, now)
	if identity.IsInstructor() && r.instructorConnectionID == "" {
		r.instructorConnectionID = connectionID
		p.IsInstructor = true
	}
	r.participants[identity.ID] = p
	r.connectionIndex[connectionID] = identity.ID
	r.touch(now)

	result.Participant = *p
	return result
}

// Leave removes the participant currently bound to connectionID.
// Unknown rooms and stale connections report false and change nothing, so
// racing disconnects and explicit leaves are safe.
func (reg *Registry) Leave(roomID, connectionID string) (Departure, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return Departure{}, false
	}
	p, ok := r.byConnection(connectionID)
	if !ok {
		return Departure{}, false
	}

	delete(r.connectionIndex, connectionID)
	delete(r.participants, p.UserID)
	if r.instructorConnectionID == connectionID {
		r.instructorConnectionID = ""
	}
	r.touch(reg.now())

	d := Departure{
		RoomID:        roomID,
		UserID:        p.UserID,
		ConnectionID:  connectionID,
		Profile:       p.Profile,
		WasInstructor: p.IsInstructor,
		RoomEmpty:     len(r.participants) == 0,
	}
	if d.RoomEmpty && reg.deleteWhenEmpty {
		delete(reg.rooms, roomID)
	}
	return d, true
}

// ResolveByConnection answers "is this connection in this room, and as whom"
func (reg *Registry) ResolveByConnection(roomID, connectionID string) (Participant, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	p, ok := r.byConnection(connectionID)
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ResolveByUser returns the user's participant entry, including the
// connection that currently represents them
func (reg *Registry) ResolveByUser(roomID, userID string) (Participant, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	p, ok := r.participants[userID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ListOthers returns a roster snapshot without excludingUserID
func (reg *Registry) ListOthers(roomID, excludingUserID string) []Participant {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return []Participant{}
	}
	return r.sortedParticipants(excludingUserID)
}

// UpdateByConnection applies fn to the participant behind connectionID
func (reg *Registry) UpdateByConnection(roomID, connectionID string, fn func(*Participant)) (Participant, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return Participant{}, ErrRoomNotFound
	}
	p, ok := r.byConnection(connectionID)
	if !ok {
		return Participant{}, ErrConnectionNotInRoom
	}
	fn(p)
	r.touch(reg.now())
	return *p, nil
}

// Update applies fn to userID's participant entry
func (reg *Registry) Update(roomID, userID string, fn func(*Participant)) (Participant, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return Participant{}, ErrRoomNotFound
	}
	p, ok := r.participants[userID]
	if !ok {
		return Participant{}, ErrParticipantNotFound
	}
	fn(p)
	r.touch(reg.now())
	return *p, nil
}

// AppendChat adds message to the room's bounded history
func (reg *Registry) AppendChat(roomID string, message ChatMessage) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.chat.append(message)
	r.touch(reg.now())
	return nil
}

// ChatHistory returns the room's chat in insertion order
func (reg *Registry) ChatHistory(roomID string) []ChatMessage {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return []ChatMessage{}
	}
	return r.chat.snapshot()
}

// SetInstructor binds the instructor slot to connectionID, moving the flag
// off any previous holder
func (reg *Registry) SetInstructor(roomID, connectionID string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	p, ok := r.byConnection(connectionID)
	if !ok {
		return ErrConnectionNotInRoom
	}
	if prev, ok := r.byConnection(r.instructorConnectionID); ok {
		prev.IsInstructor = false
	}
	r.instructorConnectionID = connectionID
	p.IsInstructor = true
	r.touch(reg.now())
	return nil
}

// ClearInstructor releases the slot. The slot is not handed to anyone else.
func (reg *Registry) ClearInstructor(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	if prev, ok := r.byConnection(r.instructorConnectionID); ok {
		prev.IsInstructor = false
	}
	r.instructorConnectionID = ""
	r.touch(reg.now())
}

// InstructorConnection returns the connection holding the instructor slot
func (reg *Registry) InstructorConnection(roomID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok || r.instructorConnectionID == "" {
		return "", false
	}
	return r.instructorConnectionID, true
}

// FindRoomsByConnection scans every room's connection index.
// Only used when a dropped connection carries no room hint.
func (reg *Registry) FindRoomsByConnection(connectionID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var ids []string
	for id, r := range reg.rooms {
		if _, ok := r.connectionIndex[connectionID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Exists reports whether roomID is currently tracked
func (reg *Registry) Exists(roomID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.rooms[roomID]
	return ok
}

// Snapshot copies a single room
func (reg *Registry) Snapshot(roomID string) (Snapshot, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// List summarises all rooms ordered by id
func (reg *Registry) List() []Summary {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Summary, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete forgets a room regardless of its participants
func (reg *Registry) Delete(roomID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rooms[roomID]; !ok {
		return false
	}
	delete(reg.rooms, roomID)
	return true
}

// ReapIdle deletes empty rooms whose last activity is older than ttl
func (reg *Registry) ReapIdle(now time.Time, ttl time.Duration) []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var reaped []string
	for id, r := range reg.rooms {
		if len(r.participants) == 0 && now.Sub(r.lastActivityAt) > ttl {
			delete(reg.rooms, id)
			reaped = append(reaped, id)
		}
	}
	sort.Strings(reaped)
	return reaped
}

// Stats returns registry statistics for monitoring
func (reg *Registry) Stats() map[string]int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	participants := 0
	for _, r := range reg.rooms {
		participants += len(r.participants)
	}
	return map[string]int{
		"active_rooms": len(reg.rooms),
		"participants": participants,
	}
}
