// Package matchmaking pairs queued players over a shared presence topic
// without a coordinator. Every member evaluates the same presence list;
// only the lower participant id of a pair proposes, and the target claims
// itself before answering, so a participant can never be matched twice.
package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

const (
	// DefaultTopic is the presence topic every queued player joins.
	DefaultTopic = "matchmaking"

	EventMatchFound  = "match-found"
	EventMatchAccept = "match-accept"
	EventMatchReject = "match-reject"
	EventMatchCancel = "match-cancel"

	DefaultProposalTimeout = 5 * time.Second
)

var (
	ErrAlreadyQueued = errors.New("already in queue")
	ErrMatched       = errors.New("already matched")
)

// State is the queue position of the local participant.
type State int

const (
	StateIdle State = iota
	StateQueued
	StateProposing
	StateMatched
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateQueued:
		return "QUEUED"
	case StateProposing:
		return "PROPOSING"
	case StateMatched:
		return "MATCHED"
	default:
		return "UNKNOWN"
	}
}

// Role says which side of the handshake a matched participant was on.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleJoiner
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "INITIATOR"
	case RoleJoiner:
		return "JOINER"
	default:
		return "NONE"
	}
}

// Result describes an agreed match. The initiator is player1.
type Result struct {
	RoomID    string
	Seed      int64
	Opponent  Participant
	Role      Role
	IsPlayer1 bool
}

// MatchFound is the proposal an initiator broadcasts.
type MatchFound struct {
	TargetParticipantID    string `json:"targetParticipantId"`
	RoomID                 string `json:"roomId"`
	Seed                   int64  `json:"seed"`
	InitiatorParticipantID string `json:"initiatorParticipantId"`
}

// MatchReply answers a proposal (accept or reject) or withdraws a late
// accepted one (cancel).
type MatchReply struct {
	TargetParticipantID    string `json:"targetParticipantId"`
	RoomID                 string `json:"roomId"`
	ResponderParticipantID string `json:"responderParticipantId"`
}

// Options configures a Queue.
type Options struct {
	OnMatched func(Result)
	// OnCancelled fires when an initiator withdraws a match this side had
	// already accepted. The participant is back in the queue.
	OnCancelled func(Result)

	ProposalTimeout time.Duration

	// NewRoom generates the room id and seed for a proposal.
	NewRoom func() (string, int64)
	Now     func() time.Time

	Logger *zap.Logger
}

type proposal struct {
	target Participant
	roomID string
	seed   int64
	timer  *time.Timer
}

// Queue is one participant's membership of the matchmaking topic.
type Queue struct {
	ch   transport.Channel
	opts Options

	mu       sync.Mutex
	self     Participant
	state    State
	others   map[string]Participant
	excluded map[string]bool
	pending  *proposal
	recent   map[string]proposal
	result   Result
	joinedAt time.Time
	offs     []func()
	closed   bool

	logger *zap.Logger
}

// NewQueue subscribes to ch on behalf of self. A missing id is generated.
func NewQueue(ch transport.Channel, self Participant, opts Options) *Queue {
	if self.ID == "" {
		self.ID = uuid.NewString()
	}
	if opts.ProposalTimeout <= 0 {
		opts.ProposalTimeout = DefaultProposalTimeout
	}
	if opts.NewRoom == nil {
		opts.NewRoom = RandomRoom
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		ch:       ch,
		opts:     opts,
		self:     self,
		others:   make(map[string]Participant),
		excluded: make(map[string]bool),
		recent:   make(map[string]proposal),
		logger:   logger.With(zap.String("participant_id", self.ID)),
	}
	q.offs = []func(){
		ch.OnPresence(q.handlePresence),
		ch.On(EventMatchFound, q.handleMatchFound),
		ch.On(EventMatchAccept, q.handleAccept),
		ch.On(EventMatchReject, q.handleReject),
		ch.On(EventMatchCancel, q.handleCancel),
	}
	return q
}

// RandomRoom returns a 6-digit room id and a seed in [0, 1e6).
func RandomRoom() (string, int64) {
	return fmt.Sprintf("%06d", rand.IntN(1_000_000)), rand.Int64N(1_000_000)
}

// Self returns the local participant record.
func (q *Queue) Self() Participant {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.self
}

// State returns the current queue position.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Result returns the agreed match once State is StateMatched.
func (q *Queue) Result() (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.result, q.state == StateMatched
}

// WaitTime is how long the participant has been queued. It is zero unless
// queued or proposing.
func (q *Queue) WaitTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateQueued && q.state != StateProposing {
		return 0
	}
	return q.opts.Now().Sub(q.joinedAt)
}

// Others returns the other queued participants, oldest first.
func (q *Queue) Others() []Participant {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Participant, 0, len(q.others))
	for _, p := range q.others {
		out = append(out, p)
	}
	SortByJoin(out)
	return out
}

// Join enters the queue by tracking the participant's presence.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		return transport.ErrClosed
	case q.state == StateMatched:
		q.mu.Unlock()
		return ErrMatched
	case q.state != StateIdle:
		q.mu.Unlock()
		return ErrAlreadyQueued
	}
	q.joinedAt = q.opts.Now()
	q.self.JoinedAt = q.joinedAt.UnixMilli()
	q.state = StateQueued
	self := q.self
	q.mu.Unlock()

	if err := q.ch.Track(ctx, self); err != nil {
		q.mu.Lock()
		q.state = StateIdle
		q.mu.Unlock()
		return fmt.Errorf("track presence: %w", err)
	}
	q.logger.Info("joined queue", zap.Int("rating", self.Rating))
	return nil
}

// Leave exits the queue. A matched participant stays matched.
func (q *Queue) Leave(ctx context.Context) error {
	q.mu.Lock()
	if q.state == StateIdle || q.state == StateMatched {
		q.mu.Unlock()
		return nil
	}
	q.state = StateIdle
	q.stopProposalLocked()
	q.mu.Unlock()

	if err := q.ch.Untrack(ctx); err != nil {
		return fmt.Errorf("untrack presence: %w", err)
	}
	q.logger.Info("left queue")
	return nil
}

// Close unsubscribes from the channel.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.stopProposalLocked()
	for _, off := range q.offs {
		off()
	}
	q.offs = nil
}

func (q *Queue) handlePresence(members []transport.Presence) {
	others := make(map[string]Participant, len(members))
	for _, m := range members {
		var p Participant
		if err := m.Decode(&p); err != nil || p.ID == "" {
			q.logger.Debug("ignoring malformed presence", zap.String("key", m.Key))
			continue
		}
		others[p.ID] = p
	}

	q.mu.Lock()
	delete(others, q.self.ID)
	q.others = others
	q.excluded = make(map[string]bool)
	q.mu.Unlock()

	q.evaluate()
}

// evaluate proposes to the nearest candidate when the local id is the
// lower of the pair. The lowest id in the queue always proposes, so some
// pair makes progress on every presence change.
func (q *Queue) evaluate() {
	q.mu.Lock()
	if q.closed || q.state != StateQueued {
		q.mu.Unlock()
		return
	}
	candidates := make([]Participant, 0, len(q.others))
	for id, p := range q.others {
		if !q.excluded[id] {
			candidates = append(candidates, p)
		}
	}
	target, ok := Nearest(q.self, candidates)
	if !ok || q.self.ID > target.ID {
		q.mu.Unlock()
		return
	}

	roomID, seed := q.opts.NewRoom()
	p := &proposal{target: target, roomID: roomID, seed: seed}
	p.timer = time.AfterFunc(q.opts.ProposalTimeout, func() { q.expire(roomID) })
	q.pending = p
	q.state = StateProposing
	msg := MatchFound{
		TargetParticipantID:    target.ID,
		RoomID:                 roomID,
		Seed:                   seed,
		InitiatorParticipantID: q.self.ID,
	}
	q.mu.Unlock()

	q.logger.Info("proposing match",
		zap.String("target_id", target.ID),
		zap.String("room_id", roomID),
	)
	if err := q.ch.Send(context.Background(), EventMatchFound, msg); err != nil {
		q.logger.Warn("failed to send proposal", zap.Error(err))
		q.abandon(roomID, false)
	}
}

func (q *Queue) handleMatchFound(raw json.RawMessage) {
	var msg MatchFound
	if err := json.Unmarshal(raw, &msg); err != nil {
		q.logger.Debug("ignoring malformed proposal", zap.Error(err))
		return
	}

	q.mu.Lock()
	if q.closed || msg.TargetParticipantID != q.self.ID {
		q.mu.Unlock()
		return
	}
	reply := MatchReply{
		TargetParticipantID:    msg.InitiatorParticipantID,
		RoomID:                 msg.RoomID,
		ResponderParticipantID: q.self.ID,
	}
	if q.state != StateQueued {
		state := q.state
		q.mu.Unlock()

		q.logger.Debug("rejecting proposal",
			zap.String("initiator_id", msg.InitiatorParticipantID),
			zap.String("state", state.String()),
		)
		q.send(EventMatchReject, reply)
		return
	}

	opponent, ok := q.others[msg.InitiatorParticipantID]
	if !ok {
		opponent = Participant{ID: msg.InitiatorParticipantID}
	}
	result := Result{
		RoomID:   msg.RoomID,
		Seed:     msg.Seed,
		Opponent: opponent,
		Role:     RoleJoiner,
	}
	q.state = StateMatched
	q.result = result
	q.mu.Unlock()

	q.send(EventMatchAccept, reply)
	q.matched(result)
}

func (q *Queue) handleAccept(raw json.RawMessage) {
	var msg MatchReply
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	q.mu.Lock()
	if q.closed || msg.TargetParticipantID != q.self.ID {
		q.mu.Unlock()
		return
	}

	var result Result
	switch {
	case q.pending != nil && q.pending.roomID == msg.RoomID && q.pending.target.ID == msg.ResponderParticipantID:
		result = Result{RoomID: q.pending.roomID, Seed: q.pending.seed, Opponent: q.pending.target}
		q.stopProposalLocked()
	case q.state == StateQueued:
		// The proposal timed out but the joiner has already claimed
		// itself. Honor the claim.
		opponent, ok := q.others[msg.ResponderParticipantID]
		if !ok {
			opponent = Participant{ID: msg.ResponderParticipantID}
		}
		seed, known := q.lateSeedLocked(msg.RoomID, msg.ResponderParticipantID)
		if !known {
			q.mu.Unlock()
			q.withdraw(msg)
			return
		}
		result = Result{RoomID: msg.RoomID, Seed: seed, Opponent: opponent}
	default:
		q.mu.Unlock()
		q.withdraw(msg)
		return
	}
	result.Role = RoleInitiator
	result.IsPlayer1 = true
	q.state = StateMatched
	q.result = result
	q.mu.Unlock()

	q.matched(result)
}

func (q *Queue) handleReject(raw json.RawMessage) {
	var msg MatchReply
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	q.mu.Lock()
	mine := !q.closed && msg.TargetParticipantID == q.self.ID
	q.mu.Unlock()
	if mine {
		q.abandon(msg.RoomID, true)
	}
}

func (q *Queue) handleCancel(raw json.RawMessage) {
	var msg MatchReply
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	q.mu.Lock()
	if q.closed || msg.TargetParticipantID != q.self.ID ||
		q.state != StateMatched || q.result.Role != RoleJoiner || q.result.RoomID != msg.RoomID {
		q.mu.Unlock()
		return
	}
	cancelled := q.result
	q.result = Result{}
	q.state = StateQueued
	self := q.self
	q.mu.Unlock()

	q.logger.Info("match withdrawn by initiator", zap.String("room_id", msg.RoomID))
	if err := q.ch.Track(context.Background(), self); err != nil {
		q.logger.Warn("failed to re-enter queue", zap.Error(err))
	}
	if q.opts.OnCancelled != nil {
		q.opts.OnCancelled(cancelled)
	}
}

// abandon returns from Proposing to Queued if roomID is still the pending
// proposal. A rejecting target is skipped until the next presence change.
func (q *Queue) abandon(roomID string, rejected bool) {
	q.mu.Lock()
	if q.pending == nil || q.pending.roomID != roomID {
		q.mu.Unlock()
		return
	}
	target := q.pending.target.ID
	q.rememberLocked(q.pending)
	q.stopProposalLocked()
	if rejected {
		q.excluded[target] = true
		time.AfterFunc(q.opts.ProposalTimeout, func() { q.forgive(target) })
	}
	if q.state == StateProposing {
		q.state = StateQueued
	}
	q.mu.Unlock()

	q.logger.Debug("proposal abandoned",
		zap.String("target_id", target),
		zap.Bool("rejected", rejected),
	)
	q.evaluate()
}

// forgive lifts an exclusion and looks for a partner again.
func (q *Queue) forgive(id string) {
	q.mu.Lock()
	delete(q.excluded, id)
	q.mu.Unlock()
	q.evaluate()
}

// rememberLocked keeps a few abandoned proposals so a late accept for one
// of them can still be honored.
func (q *Queue) rememberLocked(p *proposal) {
	if len(q.recent) >= 8 {
		q.recent = make(map[string]proposal)
	}
	q.recent[p.roomID] = proposal{target: p.target, roomID: p.roomID, seed: p.seed}
}

func (q *Queue) lateSeedLocked(roomID, responder string) (int64, bool) {
	p, ok := q.recent[roomID]
	if !ok || p.target.ID != responder {
		return 0, false
	}
	delete(q.recent, roomID)
	return p.seed, true
}

func (q *Queue) expire(roomID string) {
	q.mu.Lock()
	var target string
	if q.pending != nil && q.pending.roomID == roomID {
		target = q.pending.target.ID
	}
	q.mu.Unlock()
	if target == "" {
		return
	}

	q.logger.Info("proposal timed out", zap.String("target_id", target))
	q.abandon(roomID, true)
}

// withdraw tells a joiner whose accept arrived too late that the match is
// off.
func (q *Queue) withdraw(accept MatchReply) {
	q.logger.Info("withdrawing late accept",
		zap.String("responder_id", accept.ResponderParticipantID),
		zap.String("room_id", accept.RoomID),
	)
	q.send(EventMatchCancel, MatchReply{
		TargetParticipantID:    accept.ResponderParticipantID,
		RoomID:                 accept.RoomID,
		ResponderParticipantID: q.Self().ID,
	})
}

func (q *Queue) matched(result Result) {
	q.logger.Info("matched",
		zap.String("room_id", result.RoomID),
		zap.String("opponent_id", result.Opponent.ID),
		zap.String("role", result.Role.String()),
	)
	if err := q.ch.Untrack(context.Background()); err != nil {
		q.logger.Warn("failed to leave queue presence", zap.Error(err))
	}
	if q.opts.OnMatched != nil {
		q.opts.OnMatched(result)
	}
}

func (q *Queue) send(event string, payload any) {
	if err := q.ch.Send(context.Background(), event, payload); err != nil {
		q.logger.Warn("failed to send", zap.String("event", event), zap.Error(err))
	}
}

func (q *Queue) stopProposalLocked() {
	if q.pending != nil {
		q.pending.timer.Stop()
		q.pending = nil
	}
}
