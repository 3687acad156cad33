package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"liveclass/internal/protocol"
	"liveclass/internal/room"
	"liveclass/pkg/interfaces"
)

// ConnectionLookup finds a live connection by id
type ConnectionLookup interface {
	Get(connectionID string) (interfaces.Connection, bool)
}

// Directory resolves room membership
type Directory interface {
	ResolveByConnection(roomID, connectionID string) (room.Participant, bool)
	ResolveByUser(roomID, userID string) (room.Participant, bool)
}

// Relay forwards offer/answer/ICE payloads between peers without reading them.
// Each call sends at most one frame.
type Relay struct {
	logger zerolog.Logger
	conns  ConnectionLookup
	rooms  Directory
}

func NewRelay(conns ConnectionLookup, rooms Directory, logger *zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "signaling").Logger(),
		conns:  conns,
		rooms:  rooms,
	}
}

// ToConnection forwards signal to a specific connection. A target that has
// already gone away is not an error; false is returned and nothing is sent.
func (r *Relay) ToConnection(from interfaces.Connection, targetConnectionID string, signal json.RawMessage) bool {
	target, ok := r.conns.Get(targetConnectionID)
	if !ok {
		r.logger.Debug().
			Str("from", from.ID()).
			Str("target", targetConnectionID).
			Msg("signal target gone, dropping")
		return false
	}
	return r.deliver(from, target, signal)
}

// ToUser resolves targetUserID's current connection in roomID and forwards
// signal to it. The sender must be a participant of the same room.
func (r *Relay) ToUser(from interfaces.Connection, roomID, targetUserID string, signal json.RawMessage) error {
	if _, ok := r.rooms.ResolveByConnection(roomID, from.ID()); !ok {
		return ErrSenderNotInRoom
	}
	p, ok := r.rooms.ResolveByUser(roomID, targetUserID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, targetUserID)
	}
	target, ok := r.conns.Get(p.ConnectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, targetUserID)
	}
	r.deliver(from, target, signal)
	return nil
}

func (r *Relay) deliver(from, target interfaces.Connection, signal json.RawMessage) bool {
	msg := protocol.NewMessage(protocol.EventSignal, protocol.SignalRelay{
		From:       from.ID(),
		FromUserID: from.Identity().ID,
		Signal:     signal,
	})
	if err := target.Send(msg); err != nil {
		r.logger.Warn().
			Err(err).
			Str("from", from.ID()).
			Str("target", target.ID()).
			Msg("signal not delivered")
		return false
	}
	r.logger.Debug().
		Str("from", from.ID()).
		Str("target", target.ID()).
		Msg("signal forwarded")
	return true
}
