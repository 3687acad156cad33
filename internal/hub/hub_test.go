package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"liveclass/internal/protocol"
	"liveclass/internal/room"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// fakeConn records every frame the hub sends it
type fakeConn struct {
	id       string
	identity types.User

	mu     sync.Mutex
	sent   []protocol.Message
	closed bool
}

func (c *fakeConn) ID() string           { return c.id }
func (c *fakeConn) Identity() types.User { return c.identity }

func (c *fakeConn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.sent = append(c.sent, v.(protocol.Message))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events(name string) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Message
	for _, m := range c.sent {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// fakeRegistry is an in-memory ConnectionRegistry
type fakeRegistry struct {
	mu    sync.Mutex
	conns map[string]interfaces.Connection
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{conns: make(map[string]interfaces.Connection)}
}

func (r *fakeRegistry) add(c interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

func (r *fakeRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *fakeRegistry) Get(id string) (interfaces.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

type fakeCatalog struct {
	classes map[string]*types.Class
	err     error
}

func (c *fakeCatalog) GetClass(_ context.Context, id string) (*types.Class, error) {
	if c.err != nil {
		return nil, c.err
	}
	class, ok := c.classes[id]
	if !ok {
		return nil, interfaces.ErrClassNotFound
	}
	return class, nil
}

func (c *fakeCatalog) ListActiveClasses(context.Context) ([]*types.Class, error) { return nil, nil }
func (c *fakeCatalog) HealthCheck(context.Context) error                      { return nil }
func (c *fakeCatalog) Close() error                                           { return nil }

type testEnv struct {
	hub   *Hub
	reg   *fakeRegistry
	rooms *room.Registry
}

func newTestEnv(t *testing.T, cfg Config, catalog interfaces.ClassCatalog) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	reg := newFakeRegistry()
	rooms := room.NewRegistry()
	h := NewHub(cfg, reg, rooms, catalog, &logger)
	t.Cleanup(func() { h.moderation.Scheduler().StopAll() })
	return &testEnv{hub: h, reg: reg, rooms: rooms}
}

func (e *testEnv) connect(id, userID, role string) *fakeConn {
	c := &fakeConn{id: id, identity: types.User{ID: userID, Name: strings.ToUpper(userID), Role: role}}
	e.reg.add(c)
	return c
}

func (e *testEnv) send(c *fakeConn, msg protocol.Inbound) {
	e.hub.Handle(context.Background(), c, msg)
}

func (e *testEnv) join(c *fakeConn, roomID string) {
	e.send(c, protocol.Join{RoomRef: protocol.RoomRef{RoomID: roomID}})
}

func ref(roomID string) protocol.RoomRef {
	return protocol.RoomRef{RoomID: roomID}
}

func boolPtr(b bool) *bool { return &b }

func errorText(t *testing.T, c *fakeConn) []string {
	t.Helper()
	var out []string
	for _, m := range c.events(protocol.EventError) {
		out = append(out, m.Data.(protocol.Error).Message)
	}
	return out
}

func TestHub_StartStop(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	if err := env.hub.Start(ctx); err != nil {
		t.Errorf("Expected no error starting hub, got %v", err)
	}
	if err := env.hub.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := env.hub.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := env.hub.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_RestartAfterStopFails(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	if err := env.hub.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := env.hub.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := env.hub.Start(ctx); err != ErrHubStopped {
		t.Errorf("Expected ErrHubStopped, got %v", err)
	}
	if env.hub.IsRunning() {
		t.Error("A stopped hub must not report running")
	}
}

func TestHub_SubmitRequiresRunningHub(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	c := env.connect("c1", "u1", types.RoleStudent)

	err := env.hub.Submit(context.Background(), c, protocol.Leave{RoomRef: ref("r1")})
	if err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := env.hub.Submit(context.Background(), nil, protocol.Leave{}); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
}

func TestHub_EveryKindHasHandler(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	for _, kind := range protocol.Kinds() {
		if _, ok := env.hub.handlers[kind]; !ok {
			t.Errorf("No handler for %q", kind)
		}
	}
}

func TestHub_EventLoopProcessesInOrder(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := env.hub.Start(ctx); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer env.hub.Stop()

	a := env.connect("c-a", "alice", types.RoleStudent)
	b := env.connect("c-b", "bob", types.RoleStudent)

	msgs := []struct {
		conn *fakeConn
		msg  protocol.Inbound
	}{
		{a, protocol.Join{RoomRef: ref("r1")}},
		{b, protocol.Join{RoomRef: ref("r1")}},
		{a, protocol.SendMessage{RoomRef: ref("r1"), Message: "one"}},
		{a, protocol.SendMessage{RoomRef: ref("r1"), Message: "two"}},
	}
	for _, m := range msgs {
		if err := env.hub.Submit(ctx, m.conn, m.msg); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(b.events(protocol.EventChatMessage)) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	chat := b.events(protocol.EventChatMessage)
	if len(chat) != 2 {
		t.Fatalf("Expected 2 chat messages on bob, got %d", len(chat))
	}
	if chat[0].Data.(room.ChatMessage).Message != "one" || chat[1].Data.(room.ChatMessage).Message != "two" {
		t.Error("Chat messages delivered out of order")
	}
}

func TestHub_JoinRosterAndBroadcast(t *testing.T) {
	ice := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	env := newTestEnv(t, Config{ICEServers: ice}, nil)

	inst := env.connect("c-i", "inst", types.RoleInstructor)
	stud := env.connect("c-s", "stud", types.RoleStudent)

	env.join(inst, "R1")
	joined := inst.events(protocol.EventClassJoined)
	if len(joined) != 1 {
		t.Fatalf("Expected class-joined for instructor, got %d", len(joined))
	}
	payload := joined[0].Data.(protocol.ClassJoined)
	if !payload.IsInstructor || payload.SocketID != "c-i" || len(payload.Participants) != 0 {
		t.Errorf("Unexpected instructor class-joined %+v", payload)
	}
	if len(payload.IceServers) != 1 {
		t.Error("Joiner should receive ICE servers")
	}

	env.join(stud, "R1")
	payload = stud.events(protocol.EventClassJoined)[0].Data.(protocol.ClassJoined)
	if payload.IsInstructor {
		t.Error("Student should not be instructor")
	}
	if len(payload.Participants) != 1 || payload.Participants[0].UserID != "inst" {
		t.Errorf("Student roster should contain only the instructor, got %+v", payload.Participants)
	}

	pj := inst.events(protocol.EventParticipantJoined)
	if len(pj) != 1 {
		t.Fatalf("Instructor should see one participant-joined, got %d", len(pj))
	}
	p := pj[0].Data.(protocol.ParticipantJoined)
	if p.UserID != "stud" || p.SocketID != "c-s" || !p.IsAudioEnabled || !p.IsVideoEnabled || p.IsInstructor {
		t.Errorf("Unexpected participant-joined %+v", p)
	}
	if len(stud.events(protocol.EventParticipantJoined)) != 0 {
		t.Error("Joiner must not receive its own participant-joined")
	}
}

func TestHub_JoinIdentityComesFromConnection(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	c := &fakeConn{id: "c1", identity: types.User{ID: "real", Role: types.RoleStudent}}
	env.reg.add(c)

	env.send(c, protocol.Join{
		RoomRef: ref("R1"),
		User:    types.User{ID: "spoofed", Name: "Display Name", Role: types.RoleInstructor},
	})

	p, ok := env.rooms.ResolveByConnection("R1", "c1")
	if !ok {
		t.Fatal("Participant should be registered")
	}
	if p.UserID != "real" || p.IsInstructor {
		t.Errorf("Payload must not override identity, got %+v", p)
	}
	if p.Profile.Name != "Display Name" {
		t.Errorf("Payload should fill missing display name, got %q", p.Profile.Name)
	}
}

func TestHub_RejoinEmitsPeerLeftForOldConnection(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	other := env.connect("c-o", "other", types.RoleStudent)
	first := env.connect("c-a", "u1", types.RoleStudent)
	second := env.connect("c-b", "u1", types.RoleStudent)

	env.join(other, "R1")
	env.join(first, "R1")
	other.reset()

	env.join(second, "R1")

	snap, _ := env.rooms.Snapshot("R1")
	count := 0
	for _, p := range snap.Participants {
		if p.UserID == "u1" {
			count++
			if p.ConnectionID != "c-b" {
				t.Errorf("Expected u1 on c-b, got %s", p.ConnectionID)
			}
		}
	}
	if count != 1 {
		t.Errorf("Expected one entry for u1, got %d", count)
	}
	if _, ok := env.rooms.ResolveByConnection("R1", "c-a"); ok {
		t.Error("Old connection must no longer be indexed")
	}

	peerLeft := other.events(protocol.EventPeerLeft)
	if len(peerLeft) != 1 {
		t.Fatalf("Expected one peer-left, got %d", len(peerLeft))
	}
	if pl := peerLeft[0].Data.(protocol.PeerLeft); pl.PeerID != "c-a" || pl.UserID != "u1" {
		t.Errorf("Unexpected peer-left %+v", pl)
	}
	if len(other.events(protocol.EventParticipantLeft)) != 0 {
		t.Error("Rejoin must not announce participant-left")
	}
	if len(other.events(protocol.EventParticipantJoined)) != 1 {
		t.Error("Peers should learn about the new connection")
	}
	if hints := env.hub.RoomHints("c-a"); len(hints) != 0 {
		t.Errorf("Old connection should lose its room hint, got %v", hints)
	}
}

func TestHub_JoinCatalogValidation(t *testing.T) {
	catalog := &fakeCatalog{classes: map[string]*types.Class{
		"live":  {ID: "live", RoomID: "R1", Title: "Algebra", Status: types.ClassStatusActive},
		"ended": {ID: "ended", RoomID: "R1", Status: types.ClassStatusEnded},
	}}
	env := newTestEnv(t, Config{}, catalog)

	tests := []struct {
		name    string
		roomID  string
		classID string
		wantErr string
	}{
		{"unknown class", "R1", "missing", "not found"},
		{"ended class", "R1", "ended", "not active"},
		{"wrong room", "R2", "live", "does not belong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.connect("c-"+tt.name, "u-"+tt.classID, types.RoleStudent)
			env.send(c, protocol.Join{RoomRef: ref(tt.roomID), ClassID: tt.classID})

			errs := errorText(t, c)
			if len(errs) != 1 || !strings.Contains(errs[0], tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, errs)
			}
			if env.rooms.Exists(tt.roomID) {
				t.Error("Rejected join must not create the room")
			}
		})
	}

	c := env.connect("c-ok", "u-ok", types.RoleStudent)
	env.send(c, protocol.Join{RoomRef: ref("R1"), ClassID: "live"})
	joined := c.events(protocol.EventClassJoined)
	if len(joined) != 1 {
		t.Fatalf("Expected class-joined, got errors %v", errorText(t, c))
	}
	payload := joined[0].Data.(protocol.ClassJoined)
	if payload.Class == nil || payload.Class.Title != "Algebra" || payload.ClassID != "live" {
		t.Errorf("Expected class metadata in class-joined, got %+v", payload)
	}
}

func TestHub_JoinCatalogFailure(t *testing.T) {
	env := newTestEnv(t, Config{}, &fakeCatalog{err: errors.New("disk on fire")})
	c := env.connect("c1", "u1", types.RoleStudent)

	env.send(c, protocol.Join{RoomRef: ref("R1"), ClassID: "any"})
	errs := errorText(t, c)
	if len(errs) != 1 || errs[0] != "class lookup failed" {
		t.Errorf("Expected generic lookup failure, got %v", errs)
	}
}

func TestHub_ChatScenario(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	inst := env.connect("c-i", "inst", types.RoleInstructor)
	s := env.connect("c-s", "s", types.RoleStudent)
	s2 := env.connect("c-s2", "s2", types.RoleStudent)
	for _, c := range []*fakeConn{inst, s, s2} {
		env.join(c, "R1")
	}

	env.send(s, protocol.SendMessage{RoomRef: ref("R1"), Message: "hello"})

	for _, c := range []*fakeConn{inst, s, s2} {
		chat := c.events(protocol.EventChatMessage)
		if len(chat) != 1 {
			t.Fatalf("%s: expected one chat-message, got %d", c.id, len(chat))
		}
		msg := chat[0].Data.(room.ChatMessage)
		if msg.Message != "hello" || msg.Type != "text" || msg.ID == "" {
			t.Errorf("%s: unexpected chat message %+v", c.id, msg)
		}
		if msg.From.ID != "s" || msg.From.Name != "S" {
			t.Errorf("%s: sender should resolve to s's profile, got %+v", c.id, msg.From)
		}
	}

	history := env.rooms.ChatHistory("R1")
	if len(history) != 1 {
		t.Errorf("Expected chat to be stored, got %d entries", len(history))
	}

	// late joiners receive the history
	late := env.connect("c-late", "late", types.RoleStudent)
	env.join(late, "R1")
	payload := late.events(protocol.EventClassJoined)[0].Data.(protocol.ClassJoined)
	if len(payload.ChatHistory) != 1 || payload.ChatHistory[0].Message != "hello" {
		t.Errorf("Late joiner should receive chat history, got %+v", payload.ChatHistory)
	}
}

func TestHub_ChatRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{ChatRateLimit: 2}, nil)
	c := env.connect("c1", "u1", types.RoleStudent)
	env.join(c, "R1")

	for i := 0; i < 3; i++ {
		env.send(c, protocol.SendMessage{RoomRef: ref("R1"), Message: "spam"})
	}
	if got := len(c.events(protocol.EventChatMessage)); got != 2 {
		t.Errorf("Expected 2 delivered messages, got %d", got)
	}
	if errs := errorText(t, c); len(errs) != 1 || errs[0] != "rate limit exceeded" {
		t.Errorf("Expected one rate limit error, got %v", errs)
	}
}

func TestHub_NonMemberRejected(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	c := env.connect("c1", "u1", types.RoleStudent)

	inputs := []protocol.Inbound{
		protocol.RaiseHand{RoomRef: ref("R1")},
		protocol.SendMessage{RoomRef: ref("R1"), Message: "hi"},
		protocol.StartScreenShare{RoomRef: ref("R1")},
		protocol.ToggleVideo{RoomRef: ref("R1"), CamOn: boolPtr(false)},
		protocol.SpeakingLevel{RoomRef: ref("R1"), Level: 0.3},
	}
	for _, in := range inputs {
		env.send(c, in)
	}
	if errs := errorText(t, c); len(errs) != len(inputs) {
		t.Errorf("Expected %d errors, got %v", len(inputs), errs)
	}
}

func TestHub_HandAndScreenShare(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	a := env.connect("c-a", "a", types.RoleStudent)
	b := env.connect("c-b", "b", types.RoleStudent)
	env.join(a, "R1")
	env.join(b, "R1")

	env.send(a, protocol.RaiseHand{RoomRef: ref("R1")})
	for _, c := range []*fakeConn{a, b} {
		if len(c.events(protocol.EventHandRaised)) != 1 {
			t.Errorf("%s should see hand-raised", c.id)
		}
	}
	p, _ := env.rooms.ResolveByUser("R1", "a")
	if !p.IsHandRaised {
		t.Error("Hand should be raised in room state")
	}

	env.send(a, protocol.LowerHand{RoomRef: ref("R1")})
	if len(b.events(protocol.EventHandLowered)) != 1 {
		t.Error("b should see hand-lowered")
	}

	env.send(a, protocol.StartScreenShare{RoomRef: ref("R1")})
	if len(a.events(protocol.EventScreenShareStarted)) != 0 {
		t.Error("Screen share notice goes to others only")
	}
	started := b.events(protocol.EventScreenShareStarted)
	if len(started) != 1 || started[0].Data.(protocol.ScreenShareChanged).SocketID != "c-a" {
		t.Errorf("Unexpected screen-share-started %+v", started)
	}

	env.send(a, protocol.StopScreenShare{RoomRef: ref("R1")})
	if len(b.events(protocol.EventScreenShareStopped)) != 1 {
		t.Error("b should see screen-share-stopped")
	}
	p, _ = env.rooms.ResolveByUser("R1", "a")
	if p.IsScreenSharing {
		t.Error("Screen share flag should be cleared")
	}
}

func TestHub_MediaToggles(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	a := env.connect("c-a", "a", types.RoleStudent)
	b := env.connect("c-b", "b", types.RoleStudent)
	env.join(a, "R1")
	env.join(b, "R1")
	a.reset()

	env.send(a, protocol.ToggleVideo{RoomRef: ref("R1"), CamOn: boolPtr(false)})
	env.send(a, protocol.ToggleAudio{RoomRef: ref("R1"), MicOn: boolPtr(false)})
	env.send(a, protocol.SpeakingLevel{RoomRef: ref("R1"), Level: 0.7})
	env.send(a, protocol.SpeakingStopped{RoomRef: ref("R1")})

	video := b.events(protocol.EventParticipantVideoToggled)
	if len(video) != 1 || video[0].Data.(protocol.VideoToggled).CamOn {
		t.Errorf("Unexpected video toggle %+v", video)
	}
	audio := b.events(protocol.EventParticipantAudioToggled)
	if len(audio) != 1 || audio[0].Data.(protocol.AudioToggled).MicOn {
		t.Errorf("Unexpected audio toggle %+v", audio)
	}
	level := b.events(protocol.EventParticipantSpeakingLevel)
	if len(level) != 1 || level[0].Data.(protocol.SpeakingLevelChanged).Level != 0.7 {
		t.Errorf("Unexpected speaking level %+v", level)
	}
	speaking := b.events(protocol.EventParticipantSpeaking)
	if len(speaking) != 1 || speaking[0].Data.(protocol.SpeakingChanged).Speaking {
		t.Errorf("Unexpected speaking event %+v", speaking)
	}
	if a.count() != 0 {
		t.Errorf("Sender should not receive its own notifications, got %d frames", a.count())
	}

	p, _ := env.rooms.ResolveByUser("R1", "a")
	if p.IsVideoEnabled || p.IsAudioEnabled {
		t.Error("Toggles should be stored")
	}
}

func TestHub_SignalRouting(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	a := env.connect("c-a", "a", types.RoleStudent)
	b := env.connect("c-b", "b", types.RoleStudent)
	env.join(a, "R1")
	env.join(b, "R1")
	payload := json.RawMessage(`{"type":"offer"}`)

	env.send(a, protocol.Signal{Target: "c-b", Signal: payload})
	env.send(a, protocol.Signal{RoomID: "R1", TargetUserID: "b", Signal: payload})
	signals := b.events(protocol.EventSignal)
	if len(signals) != 2 {
		t.Fatalf("Expected 2 signals, got %d", len(signals))
	}
	if s := signals[1].Data.(protocol.SignalRelay); s.From != "c-a" || s.FromUserID != "a" {
		t.Errorf("Unexpected relay %+v", s)
	}

	// connection addressed relay to a gone peer is silent
	env.send(a, protocol.Signal{Target: "c-gone", Signal: payload})
	if errs := errorText(t, a); len(errs) != 0 {
		t.Errorf("Expected silent drop, got %v", errs)
	}

	// user addressed relay to a missing user reports the target
	env.send(a, protocol.Signal{RoomID: "R1", TargetUserID: "ghost", Signal: payload})
	errs := errorText(t, a)
	if len(errs) != 1 || !strings.Contains(errs[0], "ghost") {
		t.Errorf("Expected error naming ghost, got %v", errs)
	}
}

func TestHub_LeaveUnknownIsSilent(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	a := env.connect("c-a", "a", types.RoleStudent)
	b := env.connect("c-b", "b", types.RoleStudent)
	env.join(a, "R1")
	a.reset()

	env.send(b, protocol.Leave{RoomRef: ref("R1")})
	env.send(b, protocol.Leave{RoomRef: ref("nowhere")})

	if a.count() != 0 || b.count() != 0 {
		t.Errorf("No-op leave must not emit anything, got a=%d b=%d", a.count(), b.count())
	}
}

func TestHub_LeaveBroadcastsCleanup(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	inst := env.connect("c-i", "inst", types.RoleInstructor)
	s := env.connect("c-s", "s", types.RoleStudent)
	env.join(inst, "R1")
	env.join(s, "R1")

	env.send(inst, protocol.Leave{RoomRef: ref("R1")})

	if len(s.events(protocol.EventPeerLeft)) != 1 || len(s.events(protocol.EventParticipantLeft)) != 1 {
		t.Error("Remaining participant should see peer-left and participant-left")
	}
	if _, ok := env.rooms.InstructorConnection("R1"); ok {
		t.Error("Instructor slot should be released")
	}
	if hints := env.hub.RoomHints("c-i"); len(hints) != 0 {
		t.Errorf("Room hint should be cleared, got %v", hints)
	}
}

func TestHub_DropScenario(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	inst := env.connect("c-i", "inst", types.RoleInstructor)
	s := env.connect("c-s", "s", types.RoleStudent)
	env.join(inst, "R1")
	env.join(s, "R1")

	env.reg.remove("c-s")
	env.hub.HandleDisconnect(s)
	env.hub.HandleDisconnect(s)

	left := inst.events(protocol.EventParticipantLeft)
	if len(left) != 1 {
		t.Fatalf("Expected participant-left exactly once, got %d", len(left))
	}
	if pl := left[0].Data.(protocol.ParticipantLeft); pl.UserID != "s" || pl.SocketID != "c-s" {
		t.Errorf("Unexpected participant-left %+v", pl)
	}
	if len(inst.events(protocol.EventPeerLeft)) != 1 {
		t.Error("peer-left must accompany participant-left")
	}
}

func TestHub_DropWithoutHintsScansRooms(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	a := env.connect("c-a", "a", types.RoleStudent)
	b := env.connect("c-b", "b", types.RoleStudent)
	// memberships made behind the hub's back leave no hints
	env.rooms.Join("R1", "", "c-a", a.identity)
	env.rooms.Join("R2", "", "c-a", a.identity)
	env.join(b, "R1")

	if hints := env.hub.RoomHints("c-a"); len(hints) != 0 {
		t.Fatalf("Expected no hints for c-a, got %v", hints)
	}
	env.reg.remove("c-a")
	env.hub.HandleDisconnect(a)

	if _, ok := env.rooms.ResolveByUser("R1", "a"); ok {
		t.Error("a should be removed from R1")
	}
	if _, ok := env.rooms.ResolveByUser("R2", "a"); ok {
		t.Error("a should be removed from R2")
	}
	if len(b.events(protocol.EventParticipantLeft)) != 1 {
		t.Error("b should see a leave R1")
	}
}

func TestHub_MuteScenario(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	inst := env.connect("c-i", "inst", types.RoleInstructor)
	s := env.connect("c-s", "s", types.RoleStudent)
	env.join(inst, "R1")
	env.join(s, "R1")

	env.send(inst, protocol.InstructorAction{RoomRef: ref("R1"), Action: "mute", TargetUserID: "s"})

	received := s.events(protocol.EventInstructorActionReceived)
	if len(received) != 1 {
		t.Fatalf("Expected instructor-action-received, got %d", len(received))
	}
	if r := received[0].Data.(protocol.InstructorActionReceived); r.Action != "mute" || r.InstructorName != "INST" {
		t.Errorf("Unexpected notice %+v", r)
	}
	performed := inst.events(protocol.EventInstructorActionPerformed)
	if len(performed) != 1 {
		t.Fatalf("Expected one instructor-action-performed, got %d", len(performed))
	}
	if p := performed[0].Data.(protocol.InstructorActionPerformed); p.Action != "mute" || p.TargetUserID != "s" || !p.Success {
		t.Errorf("Unexpected result %+v", p)
	}
}

func TestHub_StudentCannotModerate(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	inst := env.connect("c-i", "inst", types.RoleInstructor)
	s := env.connect("c-s", "s", types.RoleStudent)
	s2 := env.connect("c-s2", "s2", types.RoleStudent)
	for _, c := range []*fakeConn{inst, s, s2} {
		env.join(c, "R1")
	}
	before, _ := env.rooms.Snapshot("R1")

	env.send(s, protocol.InstructorAction{RoomRef: ref("R1"), Action: "disconnect", TargetUserID: "s2"})

	performed := s.events(protocol.EventInstructorActionPerformed)
	if len(performed) != 1 || performed[0].Data.(protocol.InstructorActionPerformed).Success {
		t.Errorf("Expected one failed result, got %+v", performed)
	}
	after, _ := env.rooms.Snapshot("R1")
	if len(after.Participants) != len(before.Participants) {
		t.Error("Rejected action must not change the room")
	}
}

func TestHub_CannotDisconnectInstructor(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	inst := env.connect("c-i", "inst", types.RoleInstructor)
	env.join(inst, "R1")

	env.send(inst, protocol.InstructorAction{RoomRef: ref("R1"), Action: "disconnect", TargetUserID: "inst"})

	performed := inst.events(protocol.EventInstructorActionPerformed)
	if len(performed) != 1 || performed[0].Data.(protocol.InstructorActionPerformed).Success {
		t.Errorf("Expected rejection, got %+v", performed)
	}
	if _, ok := env.rooms.ResolveByUser("R1", "inst"); !ok {
		t.Error("Instructor must stay in the room")
	}
}

func TestHub_ModerationDisconnect(t *testing.T) {
	env := newTestEnv(t, Config{EvictDelay: 20 * time.Millisecond}, nil)
	inst := env.connect("c-i", "inst", types.RoleInstructor)
	s := env.connect("c-s", "s", types.RoleStudent)
	s2 := env.connect("c-s2", "s2", types.RoleStudent)
	for _, c := range []*fakeConn{inst, s, s2} {
		env.join(c, "R1")
	}

	env.send(inst, protocol.InstructorAction{RoomRef: ref("R1"), Action: "disconnect", TargetUserID: "s"})

	if len(s.events(protocol.EventInstructorActionReceived)) != 1 {
		t.Error("Target should be told before the socket drops")
	}
	if _, ok := env.rooms.ResolveByUser("R1", "s"); ok {
		t.Error("Target should be removed immediately")
	}
	if len(s2.events(protocol.EventParticipantLeft)) != 1 || len(s2.events(protocol.EventPeerLeft)) != 1 {
		t.Error("Remaining participants should see the cleanup events")
	}
	if s.isClosed() {
		t.Error("Socket must stay open until the delay elapses")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !s.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !s.isClosed() {
		t.Error("Target socket should be closed after the delay")
	}

	// the transport drop that follows is a no-op
	env.hub.HandleDisconnect(s)
	if got := len(s2.events(protocol.EventParticipantLeft)); got != 1 {
		t.Errorf("Expected no further participant-left, got %d", got)
	}
}

func TestHub_DisconnectCancelsPendingEviction(t *testing.T) {
	env := newTestEnv(t, Config{EvictDelay: 50 * time.Millisecond}, nil)
	inst := env.connect("c-i", "inst", types.RoleInstructor)
	s := env.connect("c-s", "s", types.RoleStudent)
	env.join(inst, "R1")
	env.join(s, "R1")

	env.send(inst, protocol.InstructorAction{RoomRef: ref("R1"), Action: "disconnect", TargetUserID: "s"})
	env.hub.HandleDisconnect(s)

	if pending := env.hub.moderation.Scheduler().Pending(); pending != 0 {
		t.Errorf("Expected eviction timer cancelled, got %d pending", pending)
	}
	time.Sleep(100 * time.Millisecond)
	if s.isClosed() {
		t.Error("Cancelled eviction should not close the connection")
	}
}

func TestHub_HandlerPanicIsContained(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	a := env.connect("c-a", "a", types.RoleStudent)
	env.join(a, "R1")

	env.hub.handlers[protocol.KindRaiseHand] = func(context.Context, interfaces.Connection, protocol.Inbound) {
		panic("boom")
	}
	env.send(a, protocol.RaiseHand{RoomRef: ref("R1")})

	errs := errorText(t, a)
	if len(errs) != 1 || errs[0] != "internal error" {
		t.Errorf("Expected internal error, got %v", errs)
	}

	// other handlers keep working
	env.send(a, protocol.SendMessage{RoomRef: ref("R1"), Message: "still here"})
	if len(a.events(protocol.EventChatMessage)) != 1 {
		t.Error("Hub should keep serving after a panic")
	}
}

func TestHub_ReapIdleRooms(t *testing.T) {
	env := newTestEnv(t, Config{IdleTTL: time.Minute}, nil)
	a := env.connect("c-a", "a", types.RoleStudent)
	env.join(a, "R1")
	env.send(a, protocol.Leave{RoomRef: ref("R1")})

	env.hub.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	env.hub.reap()

	if env.rooms.Exists("R1") {
		t.Error("Idle empty room should be reaped")
	}
}

func TestHub_Stats(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	a := env.connect("c-a", "a", types.RoleStudent)
	env.join(a, "R1")

	stats := env.hub.Stats()
	if stats["active_rooms"] != 1 || stats["participants"] != 1 {
		t.Errorf("Unexpected stats %v", stats)
	}
}

func TestHub_DropAfterQueuedJoin(t *testing.T) {
	for i := 0; i < 50; i++ {
		env := newTestEnv(t, Config{}, nil)
		inst := env.connect("c-i", "inst", types.RoleInstructor)
		s := env.connect("c-s", "stu", types.RoleStudent)
		env.join(inst, "roomB")
		env.join(s, "roomA")
		if err := env.hub.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		// the transport reads a join, then fails: the drop is queued behind
		// the join and the registry forgets the connection right away
		if err := env.hub.Submit(context.Background(), s, protocol.Join{RoomRef: ref("roomB")}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		env.hub.Disconnect(s)
		env.reg.remove("c-s")

		deadline := time.Now().Add(2 * time.Second)
		for env.hub.Stats()["participants"] > 1 && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		_ = env.hub.Stop()

		if _, ok := env.rooms.ResolveByUser("roomB", "stu"); ok {
			t.Fatalf("run %d: dropped connection left behind in roomB", i)
		}
		if _, ok := env.rooms.ResolveByUser("roomA", "stu"); ok {
			t.Fatalf("run %d: dropped connection left behind in roomA", i)
		}
		if len(inst.events(protocol.EventParticipantLeft)) != 1 {
			t.Errorf("run %d: instructor should see participant-left once, got %d",
				i, len(inst.events(protocol.EventParticipantLeft)))
		}
		if hints := env.hub.RoomHints("c-s"); len(hints) != 0 {
			t.Errorf("run %d: hints should be released, got %v", i, hints)
		}
	}
}
