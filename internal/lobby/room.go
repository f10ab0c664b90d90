// Package lobby implements friend rooms: a shared code names a presence
// topic, two members mark themselves ready, and player1 picks the seed.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

const (
	EventStartGame = "start-game"

	CodeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Capacity is the number of players a room holds.
	Capacity = 2
)

var (
	ErrRoomFull    = errors.New("room is full")
	ErrStarted     = errors.New("game already started")
	ErrInvalidCode = errors.New("invalid room code")
	ErrNotEntered  = errors.New("room not entered")
)

// NewCode returns a random room code.
func NewCode() string {
	var b strings.Builder
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeCode upper-cases a user-entered code and checks its alphabet.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrInvalidCode
	}
	for _, c := range code {
		if !strings.ContainsRune(codeAlphabet, c) {
			return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	return code, nil
}

// Topic is the presence topic for a room code.
func Topic(code string) string {
	return "room-" + code
}

// Member is the presence record of a room member.
type Member struct {
	ID          string `json:"memberId"`
	DisplayName string `json:"displayName"`
	Ready       bool   `json:"ready"`
	JoinedAt    int64  `json:"joinedAtEpochMillis"`
}

// StartMessage is broadcast by player1 when both members are ready.
type StartMessage struct {
	Seed int64 `json:"seed"`
}

// Start describes the game a room agreed on.
type Start struct {
	Seed      int64
	IsPlayer1 bool
	Opponent  Member
}

// Options configures a Room.
type Options struct {
	OnStart   func(Start)
	OnMembers func([]Member)
	OnFull    func()

	NewSeed func() int64
	Now     func() time.Time
	Logger  *zap.Logger
}

// Room is one member's view of a friend room.
type Room struct {
	ch   transport.Channel
	code string
	opts Options

	mu      sync.Mutex
	self    Member
	members []Member
	entered bool
	full    bool
	started bool
	start   Start
	offs    []func()

	logger *zap.Logger
}

// NewRoom subscribes to ch, which should be joined to Topic(code).
func NewRoom(ch transport.Channel, code string, self Member, opts Options) *Room {
	if self.ID == "" {
		self.ID = uuid.NewString()
	}
	if opts.NewSeed == nil {
		opts.NewSeed = func() int64 { return rand.Int64N(1_000_000) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Room{
		ch:     ch,
		code:   code,
		opts:   opts,
		self:   self,
		logger: logger.With(zap.String("room_code", code), zap.String("member_id", self.ID)),
	}
	r.offs = []func(){
		ch.OnPresence(r.handlePresence),
		ch.On(EventStartGame, r.handleStart),
	}
	return r
}

// Code returns the room code.
func (r *Room) Code() string { return r.code }

// Self returns the local member record.
func (r *Room) Self() Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

// Members returns the members in seat order: the first is player1.
func (r *Room) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Member(nil), r.members...)
}

// Full reports whether this member was turned away.
func (r *Room) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full
}

// Started returns the agreed game once it has begun.
func (r *Room) Started() (Start, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.start, r.started
}

// Enter tracks the member as present and not ready.
func (r *Room) Enter(ctx context.Context) error {
	r.mu.Lock()
	if r.full {
		r.mu.Unlock()
		return ErrRoomFull
	}
	r.entered = true
	r.self.Ready = false
	r.self.JoinedAt = r.opts.Now().UnixMilli()
	self := r.self
	r.mu.Unlock()

	if err := r.ch.Track(ctx, self); err != nil {
		return fmt.Errorf("enter room: %w", err)
	}
	r.logger.Info("entered room")
	return nil
}

// SetReady publishes the member's ready flag.
func (r *Room) SetReady(ctx context.Context, ready bool) error {
	r.mu.Lock()
	switch {
	case r.full:
		r.mu.Unlock()
		return ErrRoomFull
	case r.started:
		r.mu.Unlock()
		return ErrStarted
	case !r.entered:
		r.mu.Unlock()
		return ErrNotEntered
	}
	r.self.Ready = ready
	self := r.self
	r.mu.Unlock()

	if err := r.ch.Track(ctx, self); err != nil {
		return fmt.Errorf("set ready: %w", err)
	}
	return nil
}

// ToggleReady flips the ready flag.
func (r *Room) ToggleReady(ctx context.Context) error {
	return r.SetReady(ctx, !r.Self().Ready)
}

// Leave removes the member from the room.
func (r *Room) Leave(ctx context.Context) error {
	r.mu.Lock()
	entered := r.entered
	r.entered = false
	r.mu.Unlock()
	if !entered {
		return nil
	}
	return r.ch.Untrack(ctx)
}

// Close unsubscribes from the channel.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, off := range r.offs {
		off()
	}
	r.offs = nil
}

// SortMembers orders members by join time, then id. Both members compute
// the same order, which decides who is player1.
func SortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].JoinedAt != ms[j].JoinedAt {
			return ms[i].JoinedAt < ms[j].JoinedAt
		}
		return ms[i].ID < ms[j].ID
	})
}

func (r *Room) handlePresence(presences []transport.Presence) {
	members := make([]Member, 0, len(presences))
	for _, p := range presences {
		var m Member
		if err := p.Decode(&m); err != nil || m.ID == "" {
			continue
		}
		members = append(members, m)
	}
	SortMembers(members)

	r.mu.Lock()
	r.members = members
	index := -1
	for i, m := range members {
		if m.ID == r.self.ID {
			index = i
		}
	}

	var turnedAway, starting bool
	var start Start
	if index >= Capacity && !r.started && !r.full {
		r.full = true
		r.entered = false
		turnedAway = true
	}
	if len(members) == Capacity && index == 0 && !r.started &&
		members[0].Ready && members[1].Ready {
		start = Start{Seed: r.opts.NewSeed(), IsPlayer1: true, Opponent: members[1]}
		r.started, r.start = true, start
		starting = true
	}
	r.mu.Unlock()

	if r.opts.OnMembers != nil {
		r.opts.OnMembers(append([]Member(nil), members...))
	}
	if turnedAway {
		r.logger.Warn("room is full", zap.Int("members", len(members)))
		if err := r.ch.Untrack(context.Background()); err != nil {
			r.logger.Warn("failed to leave full room", zap.Error(err))
		}
		if r.opts.OnFull != nil {
			r.opts.OnFull()
		}
		return
	}
	if starting {
		if err := r.ch.Send(context.Background(), EventStartGame, StartMessage{Seed: start.Seed}); err != nil {
			r.logger.Warn("failed to send start", zap.Error(err))
		}
		r.begin(start)
	}
}

func (r *Room) handleStart(raw json.RawMessage) {
	var msg StartMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Debug("ignoring malformed start", zap.Error(err))
		return
	}

	r.mu.Lock()
	if r.started || r.full || !r.entered {
		r.mu.Unlock()
		return
	}
	var opponent Member
	for _, m := range r.members {
		if m.ID != r.self.ID {
			opponent = m
			break
		}
	}
	start := Start{Seed: msg.Seed, IsPlayer1: false, Opponent: opponent}
	r.started, r.start = true, start
	r.mu.Unlock()

	r.begin(start)
}

func (r *Room) begin(start Start) {
	r.logger.Info("game starting",
		zap.Int64("seed", start.Seed),
		zap.Bool("player1", start.IsPlayer1),
	)
	if r.opts.OnStart != nil {
		r.opts.OnStart(start)
	}
}
