// Package peersync keeps the two sides of a duel informed of each other's
// boards over a transport.Channel. Each side stays authoritative for its
// own board; inbound boards are display data for the opponent view and are
// not re-checked against the rules.
package peersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/game"
	"github.com/cmhcmh79/freecell-vs/internal/match"
	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

const (
	EventMove         = "move"
	EventResetRequest = "reset-request"
	EventResetAck     = "reset-ack"
)

// DefaultResetTimeout bounds how long a reset request waits for its ack.
const DefaultResetTimeout = 10 * time.Second

var (
	ErrResetPending = errors.New("reset already pending")
	ErrClosed       = errors.New("synchronizer closed")
)

// Target is the match side of the channel.
type Target interface {
	IngestRemote(s game.State)
	CommitReset(ctx context.Context) error
}

// MoveMessage carries a committed board.
type MoveMessage struct {
	SenderSlot match.Slot `json:"senderSlot"`
	RoomID     string     `json:"roomId"`
	GameState  game.State `json:"gameState"`
	Digest     string     `json:"digest"`
}

// ResetRequest asks the opponent to agree to a reset.
type ResetRequest struct {
	RequestID  string     `json:"requestId"`
	SenderSlot match.Slot `json:"senderSlot"`
	RoomID     string     `json:"roomId"`
}

// ResetAck answers a ResetRequest.
type ResetAck struct {
	RequestID  string     `json:"requestId"`
	Accepted   bool       `json:"accepted"`
	SenderSlot match.Slot `json:"senderSlot"`
	RoomID     string     `json:"roomId"`
}

// Options configures a Synchronizer.
type Options struct {
	RoomID string
	Slot   match.Slot

	// AcceptReset decides inbound reset requests. Nil accepts all.
	AcceptReset func() bool
	// OnResetResolved reports the outcome of a local reset request: true
	// when the peer accepted, false on decline or timeout.
	OnResetResolved func(accepted bool)
	ResetTimeout    time.Duration

	Logger *zap.Logger
}

// Synchronizer implements match.Broadcaster and match.ResetGate on top of a
// channel.
type Synchronizer struct {
	ch   transport.Channel
	opts Options

	mu       sync.Mutex
	target   Target
	pending  string
	deadline *time.Timer
	offs     []func()
	closed   bool

	logger *zap.Logger
}

// New subscribes to ch. The channel stays owned by the caller.
func New(ch transport.Channel, opts Options) *Synchronizer {
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = DefaultResetTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Synchronizer{
		ch:   ch,
		opts: opts,
		logger: logger.With(
			zap.String("room_id", opts.RoomID),
			zap.String("slot", string(opts.Slot)),
		),
	}
	s.offs = []func(){
		ch.On(EventMove, s.handleMove),
		ch.On(EventResetRequest, s.handleResetRequest),
		ch.On(EventResetAck, s.handleResetAck),
	}
	return s
}

// Attach routes inbound boards and agreed resets to m.
func (s *Synchronizer) Attach(m Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = m
}

// Broadcast publishes a committed board. Failures are logged and dropped.
func (s *Synchronizer) Broadcast(ctx context.Context, state game.State) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	msg := MoveMessage{
		SenderSlot: s.opts.Slot,
		RoomID:     s.opts.RoomID,
		GameState:  state,
		Digest:     game.Digest(state),
	}
	if err := s.ch.Send(ctx, EventMove, msg); err != nil {
		s.logger.Warn("failed to broadcast move",
			zap.Int("moves", state.Moves),
			zap.Error(err),
		)
	}
}

// RequestReset sends a reset request. The reset happens on both sides when
// the peer accepts.
func (s *Synchronizer) RequestReset(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.pending != "" {
		s.mu.Unlock()
		return ErrResetPending
	}
	id := uuid.NewString()
	s.pending = id
	s.deadline = time.AfterFunc(s.opts.ResetTimeout, func() { s.expire(id) })
	s.mu.Unlock()

	req := ResetRequest{RequestID: id, SenderSlot: s.opts.Slot, RoomID: s.opts.RoomID}
	if err := s.ch.Send(ctx, EventResetRequest, req); err != nil {
		s.clearPending(id)
		return fmt.Errorf("send reset request: %w", err)
	}
	s.logger.Info("reset requested", zap.String("request_id", id))
	return nil
}

// Pending reports whether a local reset request awaits its ack.
func (s *Synchronizer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != ""
}

// Close unsubscribes from the channel.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
	if s.deadline != nil {
		s.deadline.Stop()
	}
	s.pending = ""
	s.target = nil
}

func (s *Synchronizer) handleMove(raw json.RawMessage) {
	var msg MoveMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Debug("discarding malformed move", zap.Error(err))
		return
	}
	if !s.fromPeer(msg.SenderSlot, msg.RoomID) {
		return
	}
	if msg.Digest != game.Digest(msg.GameState) {
		s.logger.Warn("discarding move with digest mismatch", zap.Int("moves", msg.GameState.Moves))
		return
	}
	if err := game.CheckIntegrity(msg.GameState); err != nil {
		s.logger.Warn("discarding malformed board", zap.Error(err))
		return
	}

	if target := s.currentTarget(); target != nil {
		target.IngestRemote(msg.GameState)
	}
}

func (s *Synchronizer) handleResetRequest(raw json.RawMessage) {
	var req ResetRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RequestID == "" {
		s.logger.Debug("discarding malformed reset request", zap.Error(err))
		return
	}
	if !s.fromPeer(req.SenderSlot, req.RoomID) {
		return
	}
	target := s.currentTarget()
	if target == nil {
		return
	}

	accepted := s.opts.AcceptReset == nil || s.opts.AcceptReset()
	ack := ResetAck{
		RequestID:  req.RequestID,
		Accepted:   accepted,
		SenderSlot: s.opts.Slot,
		RoomID:     s.opts.RoomID,
	}
	ctx := context.Background()
	if err := s.ch.Send(ctx, EventResetAck, ack); err != nil {
		s.logger.Warn("failed to answer reset request", zap.Error(err))
		return
	}
	s.logger.Info("answered reset request",
		zap.String("request_id", req.RequestID),
		zap.Bool("accepted", accepted),
	)
	if accepted {
		if err := target.CommitReset(ctx); err != nil {
			s.logger.Warn("reset not applied", zap.Error(err))
		}
	}
}

func (s *Synchronizer) handleResetAck(raw json.RawMessage) {
	var ack ResetAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		s.logger.Debug("discarding malformed reset ack", zap.Error(err))
		return
	}
	if !s.fromPeer(ack.SenderSlot, ack.RoomID) {
		return
	}
	if !s.clearPending(ack.RequestID) {
		s.logger.Debug("discarding stale reset ack", zap.String("request_id", ack.RequestID))
		return
	}

	if ack.Accepted {
		if target := s.currentTarget(); target != nil {
			if err := target.CommitReset(context.Background()); err != nil {
				s.logger.Warn("reset not applied", zap.Error(err))
			}
		}
	}
	s.resolved(ack.Accepted)
}

func (s *Synchronizer) expire(id string) {
	if !s.clearPending(id) {
		return
	}
	s.logger.Info("reset request timed out", zap.String("request_id", id))
	s.resolved(false)
}

// clearPending drops the pending request if it is id.
func (s *Synchronizer) clearPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" || s.pending != id {
		return false
	}
	s.pending = ""
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	return true
}

func (s *Synchronizer) resolved(accepted bool) {
	if s.opts.OnResetResolved != nil {
		s.opts.OnResetResolved(accepted)
	}
}

// fromPeer filters echoes of our own slot and messages for other rooms.
func (s *Synchronizer) fromPeer(slot match.Slot, roomID string) bool {
	if !slot.Valid() || slot == s.opts.Slot {
		return false
	}
	if roomID != s.opts.RoomID {
		s.logger.Debug("discarding message for another room", zap.String("other_room", roomID))
		return false
	}
	return true
}

func (s *Synchronizer) currentTarget() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.target
}
