// Package match owns one player's side of a FreeCell match: the local board,
// the undo log, click selection, the opponent's last known board and the
// terminal transitions. Exactly one of them ever fires the win callback.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/game"
	"github.com/cmhcmh79/freecell-vs/internal/game/rules"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrMatchOver     = errors.New("match is over")
	ErrNotStarted    = errors.New("match has not started")
	ErrNoOpponent    = errors.New("match has no opponent")
)

// Mode is the kind of match being played.
type Mode int

const (
	TimedDuel Mode = iota
	UntimedDuel
	Solo
)

func (m Mode) String() string {
	switch m {
	case TimedDuel:
		return "TIMED_DUEL"
	case UntimedDuel:
		return "UNTIMED_DUEL"
	case Solo:
		return "SOLO"
	default:
		return "UNKNOWN"
	}
}

// Duel reports whether the mode has an opponent.
func (m Mode) Duel() bool {
	return m == TimedDuel || m == UntimedDuel
}

// Status is the lifecycle position of a match.
type Status int

const (
	StatusInitialized Status = iota
	StatusInProgress
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "INITIALIZED"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// EndReason says why a match ended.
type EndReason int

const (
	EndNone EndReason = iota
	EndWin
	EndSurrender
	EndOpponentWin
	EndTimeout
)

func (r EndReason) String() string {
	switch r {
	case EndNone:
		return "NONE"
	case EndWin:
		return "WIN"
	case EndSurrender:
		return "SURRENDER"
	case EndOpponentWin:
		return "OPPONENT_WIN"
	case EndTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Broadcaster publishes committed local boards to the opponent. Send
// failures are the broadcaster's to log; the match never waits on them.
type Broadcaster interface {
	Broadcast(ctx context.Context, s game.State)
}

// ResetGate asks the opponent to agree to a reset. When the peer accepts,
// the gate calls CommitReset on both sides.
type ResetGate interface {
	RequestReset(ctx context.Context) error
}

// Config describes a match.
type Config struct {
	Seed int64
	Mode Mode
	Slot Slot

	// OnWin is called once when the match ends, with whether the local
	// player won.
	OnWin func(didLocalWin bool)

	Broadcaster Broadcaster
	ResetGate   ResetGate

	// Duration of the countdown in a timed duel. Zero means DefaultDuration.
	Duration time.Duration

	Logger *zap.Logger
}

// Match is one player's view of a match. All methods are safe for
// concurrent use.
type Match struct {
	mu sync.Mutex
	// sendMu is held from commit through Broadcast so boards reach the
	// opponent in commit order. It is always taken before mu.
	sendMu sync.Mutex

	seed int64
	mode Mode
	slot Slot

	local   game.State
	remote  game.State
	history *History

	selection    game.Location
	hasSelection bool

	status Status
	reason EndReason

	onWin       func(bool)
	broadcaster Broadcaster
	resetGate   ResetGate
	timer       *Timer
	logger      *zap.Logger
}

// View is a consistent snapshot of a match for renderers. The boards share
// slices with the match and must be treated as read-only.
type View struct {
	Seed         int64
	Mode         Mode
	Slot         Slot
	Status       Status
	Reason       EndReason
	Local        game.State
	Remote       game.State
	HasRemote    bool
	Selection    game.Location
	HasSelection bool
	HistoryDepth int
	Remaining    time.Duration
	Timed        bool
}

// New deals the board for cfg.Seed. In a duel the opponent board starts as
// a copy of the same deal.
func New(cfg Config) *Match {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	slot := cfg.Slot
	if slot == "" {
		slot = Player1
	}

	initial := game.NewGame(cfg.Seed)
	m := &Match{
		seed:        cfg.Seed,
		mode:        cfg.Mode,
		slot:        slot,
		local:       initial,
		history:     NewHistory(),
		status:      StatusInitialized,
		onWin:       cfg.OnWin,
		broadcaster: cfg.Broadcaster,
		resetGate:   cfg.ResetGate,
		logger:      logger.With(zap.Int64("seed", cfg.Seed), zap.String("slot", string(slot))),
	}
	if cfg.Mode.Duel() {
		m.remote = initial
	}
	if cfg.Mode == TimedDuel {
		duration := cfg.Duration
		if duration <= 0 {
			duration = DefaultDuration
		}
		m.timer = NewTimer(duration, func() {
			if _, err := m.ResolveTimeout(); err != nil {
				m.logger.Debug("timeout ignored", zap.Error(err))
			}
		})
	}
	return m
}

// Start moves the match into play. Starting twice is a no-op.
func (m *Match) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status {
	case StatusEnded:
		return ErrMatchOver
	case StatusInProgress:
		return nil
	}
	m.status = StatusInProgress
	m.logger.Info("match started", zap.String("mode", m.mode.String()))
	return nil
}

// RunClock drives the countdown of a timed duel until ctx is done or the
// timer expires. It returns immediately for other modes.
func (m *Match) RunClock(ctx context.Context) {
	if m.timer == nil {
		return
	}
	m.timer.Run(ctx, m.InProgress)
}

// InProgress reports whether moves are currently accepted.
func (m *Match) InProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusInProgress
}

// Select implements click-to-move. The first call records loc; the second
// attempts a move from the recorded location to loc and clears the
// selection whatever the outcome.
func (m *Match) Select(ctx context.Context, loc game.Location) error {
	m.mu.Lock()
	if err := m.playableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.hasSelection {
		m.selection, m.hasSelection = loc, true
		m.mu.Unlock()
		return nil
	}
	from := m.selection
	m.selection, m.hasSelection = game.Location{}, false
	m.mu.Unlock()

	return m.ApplyMove(ctx, from, loc)
}

// ClearSelection drops a pending selection.
func (m *Match) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selection, m.hasSelection = game.Location{}, false
}

// ApplyMove plays one move. A rejected move returns an error wrapping
// rules.ErrIllegalMove and changes nothing.
func (m *Match) ApplyMove(ctx context.Context, from, to game.Location) error {
	m.sendMu.Lock()
	m.mu.Lock()
	if err := m.playableLocked(); err != nil {
		m.mu.Unlock()
		m.sendMu.Unlock()
		return err
	}

	index := m.history.Record(m.local, from, to)
	next, moved, err := rules.Apply(m.local, from, to)
	if err != nil {
		m.history.Discard(index)
		m.mu.Unlock()
		m.sendMu.Unlock()
		m.logger.Debug("move rejected",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Error(err),
		)
		return err
	}

	next = rules.AutoPromote(next)
	next.Moves++
	m.local = next

	var finish func()
	if rules.CheckWin(next) {
		finish = m.finishLocked(EndWin, true)
	}
	broadcaster := m.broadcaster
	m.mu.Unlock()

	m.logger.Debug("move applied",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("cards", moved),
		zap.Int("moves", next.Moves),
	)

	if broadcaster != nil {
		broadcaster.Broadcast(ctx, next)
	}
	m.sendMu.Unlock()
	if finish != nil {
		finish()
	}
	return nil
}

// Undo restores the board from before the last move. It is local only:
// nothing is broadcast.
func (m *Match) Undo() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.playableLocked(); err != nil {
		return err
	}
	entry, ok := m.history.Pop()
	if !ok {
		return ErrNothingToUndo
	}
	m.local = entry.Before
	m.selection, m.hasSelection = game.Location{}, false
	return nil
}

// Reset starts the deal over. Solo matches reset at once; duels with a
// ResetGate ask the opponent first and reset when the gate commits.
func (m *Match) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusEnded {
		m.mu.Unlock()
		return ErrMatchOver
	}
	gate := m.resetGate
	duel := m.mode.Duel()
	m.mu.Unlock()

	if duel && gate != nil {
		if err := gate.RequestReset(ctx); err != nil {
			return fmt.Errorf("request reset: %w", err)
		}
		return nil
	}
	return m.CommitReset(ctx)
}

// CommitReset regenerates both boards from the seed, clears history and
// selection and broadcasts the fresh board.
func (m *Match) CommitReset(ctx context.Context) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if m.status == StatusEnded {
		m.mu.Unlock()
		return ErrMatchOver
	}
	fresh := game.NewGame(m.seed)
	m.local = fresh
	if m.mode.Duel() {
		m.remote = fresh
	}
	m.history.Clear()
	m.selection, m.hasSelection = game.Location{}, false
	broadcaster := m.broadcaster
	m.mu.Unlock()

	m.logger.Info("match reset")
	if broadcaster != nil {
		broadcaster.Broadcast(ctx, fresh)
	}
	return nil
}

// Surrender ends the match as a loss.
func (m *Match) Surrender() error {
	m.mu.Lock()
	if err := m.playableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	finish := m.finishLocked(EndSurrender, false)
	m.mu.Unlock()

	finish()
	return nil
}

// IngestRemote stores the opponent's latest board. A completed board ends
// the match as a loss. States arriving after the end are ignored.
func (m *Match) IngestRemote(s game.State) {
	m.mu.Lock()
	if !m.mode.Duel() || m.status == StatusEnded {
		m.mu.Unlock()
		return
	}
	m.remote = s

	var finish func()
	if rules.CheckWin(s) {
		finish = m.finishLocked(EndOpponentWin, false)
	}
	m.mu.Unlock()

	if finish != nil {
		finish()
	}
}

// ResolveTimeout ends a duel whose clock ran out and reports whether the
// local player won.
func (m *Match) ResolveTimeout() (bool, error) {
	m.mu.Lock()
	if err := m.playableLocked(); err != nil {
		m.mu.Unlock()
		return false, err
	}
	if !m.mode.Duel() {
		m.mu.Unlock()
		return false, ErrNoOpponent
	}
	won := ResolveTimeout(m.local, m.remote, m.slot)
	finish := m.finishLocked(EndTimeout, won)
	m.mu.Unlock()

	finish()
	return won, nil
}

// View returns a snapshot of the match.
func (m *Match) View() View {
	m.mu.Lock()
	v := View{
		Seed:         m.seed,
		Mode:         m.mode,
		Slot:         m.slot,
		Status:       m.status,
		Reason:       m.reason,
		Local:        m.local,
		Remote:       m.remote,
		HasRemote:    m.mode.Duel(),
		Selection:    m.selection,
		HasSelection: m.hasSelection,
		HistoryDepth: m.history.Size(),
	}
	timer := m.timer
	m.mu.Unlock()

	if timer != nil {
		v.Timed = true
		v.Remaining = timer.Remaining()
	}
	return v
}

// History exposes the undo log.
func (m *Match) History() *History {
	return m.history
}

// Seed returns the seed the match was dealt from.
func (m *Match) Seed() int64 {
	return m.seed
}

// Slot returns the local player's slot.
func (m *Match) Slot() Slot {
	return m.slot
}

func (m *Match) playableLocked() error {
	switch m.status {
	case StatusInitialized:
		return ErrNotStarted
	case StatusEnded:
		return ErrMatchOver
	}
	return nil
}

// finishLocked records the terminal transition and returns the callback to
// run once the lock is released. The status guard means it runs once.
func (m *Match) finishLocked(reason EndReason, won bool) func() {
	m.status = StatusEnded
	m.reason = reason
	m.selection, m.hasSelection = game.Location{}, false

	onWin := m.onWin
	logger := m.logger
	return func() {
		logger.Info("match ended",
			zap.String("reason", reason.String()),
			zap.Bool("won", won),
		)
		if onWin != nil {
			onWin(won)
		}
	}
}
