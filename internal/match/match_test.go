package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmhcmh79/freecell-vs/internal/game"
	"github.com/cmhcmh79/freecell-vs/internal/game/rules"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	states []game.State
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, s game.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, s)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.states)
}

// gatedBroadcaster holds the first Broadcast until release is closed and
// records each board only when its call returns.
type gatedBroadcaster struct {
	recordingBroadcaster
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *gatedBroadcaster) Broadcast(ctx context.Context, s game.State) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	b.recordingBroadcaster.Broadcast(ctx, s)
}

type countingGate struct {
	requests int
}

func (g *countingGate) RequestReset(context.Context) error {
	g.requests++
	return nil
}

type winRecorder struct {
	mu    sync.Mutex
	calls []bool
}

func (w *winRecorder) onWin(won bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, won)
}

func (w *winRecorder) results() []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]bool, len(w.calls))
	copy(out, w.calls)
	return out
}

// solvedExceptKing returns a board one move from winning: every card is on
// its foundation except the king of hearts, which sits alone in column 0.
func solvedExceptKing() game.State {
	var s game.State
	for _, suit := range game.Suits {
		for r := game.Ace; r <= game.King; r++ {
			s.Foundations[suit] = append(s.Foundations[suit], game.Card{Suit: suit, Rank: r})
		}
	}
	s.Foundations[game.Heart] = game.Pop(s.Foundations[game.Heart], 1)
	s.Columns[0] = []game.Card{{Suit: game.Heart, Rank: game.King}}
	return s
}

func completed() game.State {
	s := solvedExceptKing()
	s.Columns[0] = nil
	s.Foundations[game.Heart] = game.Push(s.Foundations[game.Heart], game.Card{Suit: game.Heart, Rank: game.King})
	return s
}

// firstLegalMove finds any legal move on the board.
func firstLegalMove(t *testing.T, s game.State) (game.Location, game.Location) {
	t.Helper()
	for from := 0; from < game.NumColumns; from++ {
		for to := 0; to < game.NumFreeCells; to++ {
			if _, _, err := rules.Apply(s, game.ColumnAt(from), game.FreeCellAt(to)); err == nil {
				return game.ColumnAt(from), game.FreeCellAt(to)
			}
		}
	}
	t.Fatal("no legal move")
	return game.Location{}, game.Location{}
}

func newStarted(t *testing.T, cfg Config) *Match {
	t.Helper()
	m := New(cfg)
	require.NoError(t, m.Start())
	return m
}

func TestNewDealsFromSeed(t *testing.T) {
	m := New(Config{Seed: 12345, Mode: UntimedDuel, Slot: Player2})
	v := m.View()

	assert.Equal(t, game.NewGame(12345), v.Local)
	assert.Equal(t, v.Local, v.Remote, "opponent starts from the same deal")
	assert.True(t, v.HasRemote)
	assert.Equal(t, StatusInitialized, v.Status)
	assert.Equal(t, Player2, v.Slot)
	assert.False(t, v.Timed)

	solo := New(Config{Seed: 1, Mode: Solo})
	assert.False(t, solo.View().HasRemote)
	assert.Equal(t, Player1, solo.Slot(), "defaults to player1")
}

func TestMovesRequireStart(t *testing.T) {
	m := New(Config{Seed: 1, Mode: Solo})
	err := m.ApplyMove(context.Background(), game.ColumnAt(0), game.FreeCellAt(0))
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, m.Undo(), ErrNotStarted)
}

func TestApplyMoveCommitsAndBroadcasts(t *testing.T) {
	b := &recordingBroadcaster{}
	m := newStarted(t, Config{Seed: 12345, Mode: UntimedDuel, Broadcaster: b})

	before := m.View().Local
	from, to := firstLegalMove(t, before)
	require.NoError(t, m.ApplyMove(context.Background(), from, to))

	v := m.View()
	assert.Equal(t, 1, v.Local.Moves)
	assert.Equal(t, 1, v.HistoryDepth)
	require.Equal(t, 1, b.count())
	assert.Equal(t, v.Local, b.states[0])

	entry, ok := m.History().At(0)
	require.True(t, ok)
	assert.Equal(t, before, entry.Before)
	assert.Equal(t, from, entry.From)
	assert.Equal(t, to, entry.To)
}

func TestRejectedMoveHasNoEffect(t *testing.T) {
	b := &recordingBroadcaster{}
	m := newStarted(t, Config{Seed: 12345, Mode: UntimedDuel, Broadcaster: b})
	before := m.View()

	err := m.ApplyMove(context.Background(), game.FreeCellAt(0), game.ColumnAt(1))
	require.ErrorIs(t, err, rules.ErrIllegalMove)

	err = m.ApplyMove(context.Background(), game.ColumnAt(2), game.ColumnAt(2))
	require.ErrorIs(t, err, rules.ErrIllegalMove)

	after := m.View()
	assert.Equal(t, before.Local, after.Local)
	assert.Equal(t, before.Local.Moves, after.Local.Moves)
	assert.Equal(t, before.HistoryDepth, after.HistoryDepth)
	assert.Zero(t, b.count())
}

func TestUndoRestoresPriorState(t *testing.T) {
	b := &recordingBroadcaster{}
	m := newStarted(t, Config{Seed: 777, Mode: UntimedDuel, Broadcaster: b})

	assert.ErrorIs(t, m.Undo(), ErrNothingToUndo)

	before := m.View()
	from, to := firstLegalMove(t, before.Local)
	require.NoError(t, m.ApplyMove(context.Background(), from, to))
	require.NoError(t, m.Undo())

	after := m.View()
	assert.Equal(t, before.Local, after.Local)
	assert.Equal(t, before.HistoryDepth, after.HistoryDepth)
	assert.Equal(t, 1, b.count(), "undo is not broadcast")
}

func TestSelectTwoClicks(t *testing.T) {
	m := newStarted(t, Config{Seed: 12345, Mode: Solo})
	from, to := firstLegalMove(t, m.View().Local)

	require.NoError(t, m.Select(context.Background(), from))
	v := m.View()
	assert.True(t, v.HasSelection)
	assert.Equal(t, from, v.Selection)

	require.NoError(t, m.Select(context.Background(), to))
	v = m.View()
	assert.False(t, v.HasSelection)
	assert.Equal(t, 1, v.Local.Moves)

	// A rejected second click still clears the selection.
	require.NoError(t, m.Select(context.Background(), game.FreeCellAt(3)))
	err := m.Select(context.Background(), game.FoundationOf(game.Spade))
	assert.ErrorIs(t, err, rules.ErrIllegalMove)
	assert.False(t, m.View().HasSelection)
}

func TestWinningMoveFiresOnce(t *testing.T) {
	w := &winRecorder{}
	b := &recordingBroadcaster{}
	m := newStarted(t, Config{Seed: 1, Mode: UntimedDuel, OnWin: w.onWin, Broadcaster: b})
	m.local = solvedExceptKing()

	require.NoError(t, m.ApplyMove(context.Background(), game.ColumnAt(0), game.FoundationOf(game.Heart)))
	v := m.View()
	assert.Equal(t, StatusEnded, v.Status)
	assert.Equal(t, EndWin, v.Reason)
	assert.Equal(t, 1, b.count(), "winning board is broadcast")

	m.IngestRemote(completed())
	assert.ErrorIs(t, m.Surrender(), ErrMatchOver)
	_, err := m.ResolveTimeout()
	assert.ErrorIs(t, err, ErrMatchOver)

	assert.Equal(t, []bool{true}, w.results())
}

func TestSurrender(t *testing.T) {
	w := &winRecorder{}
	m := newStarted(t, Config{Seed: 1, Mode: UntimedDuel, OnWin: w.onWin})

	require.NoError(t, m.Surrender())
	assert.ErrorIs(t, m.Surrender(), ErrMatchOver)
	assert.Equal(t, EndSurrender, m.View().Reason)
	assert.Equal(t, []bool{false}, w.results())
}

func TestIngestRemote(t *testing.T) {
	w := &winRecorder{}
	m := newStarted(t, Config{Seed: 12345, Mode: UntimedDuel, OnWin: w.onWin})

	progress := m.View().Local
	progress.Moves = 9
	m.IngestRemote(progress)
	assert.Equal(t, 9, m.View().Remote.Moves)
	assert.Empty(t, w.results())

	m.IngestRemote(completed())
	m.IngestRemote(completed())
	v := m.View()
	assert.Equal(t, EndOpponentWin, v.Reason)
	assert.Equal(t, []bool{false}, w.results(), "repeat wins do not re-fire")

	solo := newStarted(t, Config{Seed: 1, Mode: Solo, OnWin: w.onWin})
	solo.IngestRemote(completed())
	assert.Equal(t, StatusInProgress, solo.View().Status, "solo has no opponent")
}

func TestSoloResetIsImmediate(t *testing.T) {
	b := &recordingBroadcaster{}
	m := newStarted(t, Config{Seed: 4242, Mode: Solo, Broadcaster: b})
	from, to := firstLegalMove(t, m.View().Local)
	require.NoError(t, m.ApplyMove(context.Background(), from, to))

	require.NoError(t, m.Reset(context.Background()))
	v := m.View()
	assert.Equal(t, game.NewGame(4242), v.Local)
	assert.Zero(t, v.HistoryDepth)
	assert.Equal(t, 2, b.count())
}

func TestDuelResetGoesThroughGate(t *testing.T) {
	gate := &countingGate{}
	m := newStarted(t, Config{Seed: 5, Mode: UntimedDuel, ResetGate: gate})
	from, to := firstLegalMove(t, m.View().Local)
	require.NoError(t, m.ApplyMove(context.Background(), from, to))

	require.NoError(t, m.Reset(context.Background()))
	assert.Equal(t, 1, gate.requests)
	assert.Equal(t, 1, m.View().Local.Moves, "nothing changes until the reset commits")

	require.NoError(t, m.CommitReset(context.Background()))
	v := m.View()
	assert.Equal(t, game.NewGame(5), v.Local)
	assert.Equal(t, game.NewGame(5), v.Remote)
}

func TestBroadcastsFollowCommitOrder(t *testing.T) {
	b := &gatedBroadcaster{entered: make(chan struct{}), release: make(chan struct{})}
	m := newStarted(t, Config{Seed: 5, Mode: UntimedDuel, Broadcaster: b})
	from, to := firstLegalMove(t, m.View().Local)

	moveDone := make(chan error, 1)
	go func() { moveDone <- m.ApplyMove(context.Background(), from, to) }()
	<-b.entered

	resetDone := make(chan error, 1)
	go func() { resetDone <- m.CommitReset(context.Background()) }()
	select {
	case err := <-resetDone:
		t.Fatalf("reset committed while the move was still being sent: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(b.release)
	require.NoError(t, <-moveDone)
	require.NoError(t, <-resetDone)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.states, 2)
	assert.Equal(t, 1, b.states[0].Moves)
	assert.Equal(t, game.NewGame(5), b.states[1], "the fresh board goes out last")
	assert.Equal(t, game.NewGame(5), m.View().Local)
}

func TestResolveTimeoutOnMatch(t *testing.T) {
	w := &winRecorder{}
	m := newStarted(t, Config{Seed: 1, Mode: TimedDuel, Slot: Player2, OnWin: w.onWin})

	won, err := m.ResolveTimeout()
	require.NoError(t, err)
	assert.False(t, won, "tie at zero goes to player1")
	assert.Equal(t, EndTimeout, m.View().Reason)
	assert.Equal(t, []bool{false}, w.results())

	solo := newStarted(t, Config{Seed: 1, Mode: Solo})
	_, err = solo.ResolveTimeout()
	assert.ErrorIs(t, err, ErrNoOpponent)
}

func TestTimedDuelClockResolves(t *testing.T) {
	w := &winRecorder{}
	m := newStarted(t, Config{Seed: 1, Mode: TimedDuel, Duration: 3 * time.Second, OnWin: w.onWin})
	m.timer.step = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.RunClock(ctx)

	assert.Equal(t, EndTimeout, m.View().Reason)
	assert.Equal(t, []bool{true}, w.results())
	assert.Zero(t, m.View().Remaining)
}
