package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"liveclass/internal/moderation"
	"liveclass/internal/protocol"
	"liveclass/internal/room"
	"liveclass/internal/signaling"
	"liveclass/pkg/interfaces"
)

const (
	DefaultQueueSize     = 1000
	DefaultChatRateLimit = 100
	DefaultReapInterval  = time.Minute
)

// ConnectionRegistry is the connection lookup the hub needs
type ConnectionRegistry interface {
	Get(connectionID string) (interfaces.Connection, bool)
}

// Config tunes the dispatcher
type Config struct {
	QueueSize     int
	ChatRateLimit int
	EvictDelay    time.Duration
	// IdleTTL of zero disables the idle room reaper
	IdleTTL      time.Duration
	ReapInterval time.Duration
	ICEServers   []webrtc.ICEServer
}

// Reason names the terminal transition that removed a participant
type Reason string

const (
	ReasonLeft    Reason = "left"
	ReasonEvicted Reason = "evicted"
	ReasonDropped Reason = "dropped"
)

// event is one item on the hub queue: either an inbound message or a
// transport disconnect for conn
type event struct {
	conn       interfaces.Connection
	msg        protocol.Inbound
	disconnect bool
}

// Hub is the event dispatcher. A single goroutine drains the queue so every
// inbound message is handled to completion before the next one starts.
type Hub struct {
	logger     zerolog.Logger
	cfg        Config
	conns      ConnectionRegistry
	rooms      *room.Registry
	relay      *signaling.Relay
	moderation *moderation.Controller
	catalog    interfaces.ClassCatalog
	limiter    *RateLimiter
	handlers   map[protocol.Kind]handlerFunc
	now        func() time.Time

	// hints maps a connection to the rooms it joined. Only the loop
	// goroutine writes it, so a drop sees every join queued before it.
	hints   map[string]map[string]struct{}
	hintsMu sync.Mutex

	queue           chan event
	shutdownChannel chan struct{}
	done            chan struct{}

	running bool
	stopped bool
	mu      sync.RWMutex
}

// NewHub wires the dispatcher. catalog may be nil, in which case classId is
// accepted without lookup.
func NewHub(cfg Config, conns ConnectionRegistry, rooms *room.Registry, catalog interfaces.ClassCatalog, logger *zerolog.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}

	h := &Hub{
		logger:          logger.With().Str("component", "hub").Logger(),
		cfg:             cfg,
		conns:           conns,
		rooms:           rooms,
		catalog:         catalog,
		limiter:         NewRateLimiter(cfg.ChatRateLimit),
		now:             time.Now,
		hints:           make(map[string]map[string]struct{}),
		queue:           make(chan event, cfg.QueueSize),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
	}
	h.relay = signaling.NewRelay(conns, rooms, logger)
	h.moderation = moderation.NewController(rooms, h, moderation.NewScheduler(), cfg.EvictDelay, logger)
	h.handlers = h.buildHandlers()
	return h
}

// Start launches the event loop. A hub runs once: Start after Stop fails.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	if h.stopped {
		h.mu.Unlock()
		return ErrHubStopped
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info().Int("queue_size", h.cfg.QueueSize).Msg("starting hub")
	go h.run(ctx)
	return nil
}

// Stop ends the event loop and cancels pending evictions.
// Messages still queued are discarded; queued drops are still applied.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.stopped = true
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	<-h.done
	cancelled := h.moderation.Scheduler().StopAll()
	h.logger.Info().Int("cancelled_evictions", cancelled).Msg("hub stopped")
	return nil
}

// IsRunning reports whether the event loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Submit queues msg from conn. It blocks while the queue is full, which
// slows down only the submitting reader.
func (h *Hub) Submit(ctx context.Context, conn interfaces.Connection, msg protocol.Inbound) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !h.IsRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.queue <- event{conn: conn, msg: msg}:
		return nil
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	case <-h.done:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect queues the DROPPED transition for conn behind any message conn
// already submitted. Its rooms are resolved when the event is handled.
func (h *Hub) Disconnect(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	ev := event{conn: conn, disconnect: true}
	if !h.IsRunning() {
		h.moderation.Scheduler().Cancel(conn.ID())
		return
	}
	select {
	case h.queue <- ev:
	case <-h.shutdownChannel:
	case <-h.done:
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		h.logger.Info().Msg("hub processing stopped")
	}()

	reap := time.NewTicker(h.cfg.ReapInterval)
	defer reap.Stop()

	for {
		select {
		case ev := <-h.queue:
			if ev.disconnect {
				h.HandleDisconnect(ev.conn)
			} else {
				h.Handle(ctx, ev.conn, ev.msg)
			}

		case <-reap.C:
			h.reap()

		case <-h.shutdownChannel:
			h.drainDisconnects()
			return

		case <-ctx.Done():
			h.logger.Info().Msg("hub context cancelled")
			h.drainDisconnects()
			return
		}
	}
}

// drainDisconnects applies the drops left in the queue so no participant
// outlives its socket. Other messages are dropped.
func (h *Hub) drainDisconnects() {
	for {
		select {
		case ev := <-h.queue:
			if ev.disconnect {
				h.HandleDisconnect(ev.conn)
			}
		default:
			return
		}
	}
}

// reap drops idle empty rooms and stale rate limiter entries
func (h *Hub) reap() {
	removed := h.limiter.Cleanup()
	if h.cfg.IdleTTL <= 0 {
		return
	}
	reaped := h.rooms.ReapIdle(h.now(), h.cfg.IdleTTL)
	if len(reaped) > 0 || removed > 0 {
		h.logger.Info().
			Strs("rooms", reaped).
			Int("rate_limit_entries", removed).
			Msg("reaped idle state")
	}
}

// SendTo delivers msg to a single connection. Delivery is fire and forget.
func (h *Hub) SendTo(connectionID string, msg protocol.Message) bool {
	conn, ok := h.conns.Get(connectionID)
	if !ok {
		h.logger.Debug().Str("socketId", connectionID).Str("event", msg.Event).Msg("recipient gone")
		return false
	}
	if err := conn.Send(msg); err != nil {
		h.logger.Warn().Err(err).Str("socketId", connectionID).Str("event", msg.Event).Msg("send failed")
		return false
	}
	return true
}

// Broadcast sends msg to every participant of roomID except exceptConnectionID
func (h *Hub) Broadcast(roomID string, msg protocol.Message, exceptConnectionID string) {
	for _, p := range h.rooms.ListOthers(roomID, "") {
		if p.ConnectionID == exceptConnectionID {
			continue
		}
		h.SendTo(p.ConnectionID, msg)
	}
}

// Evict is the moderation entry into the shared cleanup path
func (h *Hub) Evict(roomID, connectionID string) {
	h.cleanup(roomID, connectionID, ReasonEvicted)
}

// CloseConnection closes the transport behind connectionID if it is still open
func (h *Hub) CloseConnection(connectionID string) {
	conn, ok := h.conns.Get(connectionID)
	if !ok {
		return
	}
	if err := conn.Close(); err != nil {
		h.logger.Debug().Err(err).Str("socketId", connectionID).Msg("close after eviction")
	}
}

func (h *Hub) sendError(conn interfaces.Connection, text string) {
	if err := conn.Send(protocol.ErrorMessage(text)); err != nil {
		h.logger.Warn().Err(err).Str("socketId", conn.ID()).Msg("failed to send error")
	}
}

// cleanup is the single exit path for LEFT, EVICTED and DROPPED. Nothing is
// broadcast unless the room store actually removed someone.
func (h *Hub) cleanup(roomID, connectionID string, reason Reason) bool {
	h.removeHint(connectionID, roomID)

	d, removed := h.rooms.Leave(roomID, connectionID)
	if !removed {
		h.logger.Debug().
			Str("roomId", roomID).
			Str("socketId", connectionID).
			Str("reason", string(reason)).
			Msg("cleanup found nothing to remove")
		return false
	}

	h.Broadcast(roomID, protocol.NewMessage(protocol.EventPeerLeft, protocol.PeerLeft{
		PeerID: connectionID,
		UserID: d.UserID,
	}), connectionID)
	h.Broadcast(roomID, protocol.NewMessage(protocol.EventParticipantLeft, protocol.ParticipantLeft{
		UserID:   d.UserID,
		SocketID: connectionID,
	}), connectionID)

	h.logger.Info().
		Str("roomId", roomID).
		Str("userId", d.UserID).
		Str("socketId", connectionID).
		Str("reason", string(reason)).
		Bool("was_instructor", d.WasInstructor).
		Bool("room_empty", d.RoomEmpty).
		Msg("participant removed")
	return true
}

// HandleDisconnect runs the DROPPED transition synchronously. Rooms come from
// the connection's hints when it has any, otherwise from a scan of every room.
func (h *Hub) HandleDisconnect(conn interfaces.Connection) {
	connectionID := conn.ID()
	h.moderation.Scheduler().Cancel(connectionID)

	rooms := h.takeHints(connectionID)
	if len(rooms) == 0 {
		rooms = h.rooms.FindRoomsByConnection(connectionID)
	}
	for _, roomID := range rooms {
		h.cleanup(roomID, connectionID, ReasonDropped)
	}
}

func (h *Hub) addHint(connectionID, roomID string) {
	h.hintsMu.Lock()
	defer h.hintsMu.Unlock()
	rooms, ok := h.hints[connectionID]
	if !ok {
		rooms = make(map[string]struct{})
		h.hints[connectionID] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (h *Hub) removeHint(connectionID, roomID string) {
	h.hintsMu.Lock()
	defer h.hintsMu.Unlock()
	rooms, ok := h.hints[connectionID]
	if !ok {
		return
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(h.hints, connectionID)
	}
}

// RoomHints returns the rooms connectionID joined through the hub, sorted
func (h *Hub) RoomHints(connectionID string) []string {
	h.hintsMu.Lock()
	defer h.hintsMu.Unlock()
	return sortedKeys(h.hints[connectionID])
}

// takeHints removes and returns the hints for connectionID
func (h *Hub) takeHints(connectionID string) []string {
	h.hintsMu.Lock()
	defer h.hintsMu.Unlock()
	rooms := sortedKeys(h.hints[connectionID])
	delete(h.hints, connectionID)
	return rooms
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stats returns hub statistics for monitoring
func (h *Hub) Stats() map[string]int {
	stats := h.rooms.Stats()
	stats["queued_events"] = len(h.queue)
	stats["pending_evictions"] = h.moderation.Scheduler().Pending()
	h.hintsMu.Lock()
	stats["tracked_connections"] = len(h.hints)
	h.hintsMu.Unlock()
	return stats
}
