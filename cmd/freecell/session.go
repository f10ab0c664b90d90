package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/config"
	"github.com/cmhcmh79/freecell-vs/internal/game"
	"github.com/cmhcmh79/freecell-vs/internal/game/rules"
	"github.com/cmhcmh79/freecell-vs/internal/match"
	"github.com/cmhcmh79/freecell-vs/internal/peersync"
	"github.com/cmhcmh79/freecell-vs/internal/repository"
	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

// input turns stdin into a channel so the game loop can also wait on the
// network.
type input struct {
	lines <-chan string
}

func newInput(r io.Reader) *input {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return &input{lines: lines}
}

type identity struct {
	ID   string
	Name string
}

// app holds what every mode shares.
type app struct {
	cfg    *config.Config
	self   identity
	in     *input
	tr     transport.Transport
	db     *repository.DB
	logger *zap.Logger
}

// duel is the network side of a two-player match.
type duel struct {
	ch           transport.Channel
	roomID       string
	slot         match.Slot
	opponentID   string
	opponentName string
}

type outcome struct {
	won           bool
	quit          bool
	reason        match.EndReason
	moves         int
	opponentMoves int
	duration      time.Duration
}

// notifyingTarget wakes the game loop whenever the opponent changes the
// match.
type notifyingTarget struct {
	m      *match.Match
	notify func()
}

func (t notifyingTarget) IngestRemote(s game.State) {
	t.m.IngestRemote(s)
	t.notify()
}

func (t notifyingTarget) CommitReset(ctx context.Context) error {
	err := t.m.CommitReset(ctx)
	t.notify()
	return err
}

// play runs one match until it ends or the player quits.
func (a *app) play(ctx context.Context, seed int64, mode match.Mode, title string, d *duel) (outcome, error) {
	ended := make(chan bool, 1)
	changed := make(chan struct{}, 1)
	notices := make(chan string, 4)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	notice := func(msg string) {
		select {
		case notices <- msg:
		default:
		}
	}

	cfg := match.Config{
		Seed:     seed,
		Mode:     mode,
		OnWin:    func(won bool) { ended <- won },
		Duration: a.cfg.Match.Duration,
		Logger:   a.logger,
	}

	opponent := ""
	if d != nil {
		cfg.Slot = d.slot
		opponent = d.opponentName
		syncer := peersync.New(d.ch, peersync.Options{
			RoomID:       d.roomID,
			Slot:         d.slot,
			ResetTimeout: a.cfg.Match.ResetTimeout,
			AcceptReset: func() bool {
				notice("opponent reset the board")
				return true
			},
			OnResetResolved: func(accepted bool) {
				if accepted {
					notice("reset accepted")
				} else {
					notice("reset declined or timed out")
				}
			},
			Logger: a.logger,
		})
		defer syncer.Close()
		cfg.Broadcaster, cfg.ResetGate = syncer, syncer

		m := match.New(cfg)
		syncer.Attach(notifyingTarget{m: m, notify: notify})
		return a.loop(ctx, m, title, opponent, ended, changed, notices)
	}

	return a.loop(ctx, match.New(cfg), title, opponent, ended, changed, notices)
}

func (a *app) loop(ctx context.Context, m *match.Match, title, opponent string,
	ended <-chan bool, changed <-chan struct{}, notices <-chan string) (outcome, error) {

	if err := m.Start(); err != nil {
		return outcome{}, err
	}
	clockCtx, stopClock := context.WithCancel(ctx)
	defer stopClock()
	go m.RunClock(clockCtx)

	start := time.Now()
	finish := func(won, quit bool) outcome {
		v := m.View()
		return outcome{
			won:           won,
			quit:          quit,
			reason:        v.Reason,
			moves:         v.Local.Moves,
			opponentMoves: v.Remote.Moves,
			duration:      time.Since(start),
		}
	}

	printView(m.View(), title, opponent)
	for {
		select {
		case <-ctx.Done():
			return finish(false, true), ctx.Err()

		case won := <-ended:
			v := m.View()
			printView(v, title, opponent)
			if won {
				pterm.Success.Printfln("You win! (%s)", v.Reason)
			} else {
				pterm.Warning.Printfln("You lose. (%s)", v.Reason)
			}
			return finish(won, false), nil

		case <-changed:
			printView(m.View(), title, opponent)

		case msg := <-notices:
			pterm.Info.Println(msg)

		case line, ok := <-a.in.lines:
			if !ok {
				return finish(false, true), nil
			}
			if quit := a.handle(ctx, m, line); quit {
				return finish(false, true), nil
			}
			if m.InProgress() {
				printView(m.View(), title, opponent)
			}
		}
	}
}

// handle runs one command line. It reports whether the player quit.
func (a *app) handle(ctx context.Context, m *match.Match, line string) bool {
	cmd, err := ParseCommand(line)
	if errors.Is(err, errEmpty) {
		return false
	}
	if err != nil {
		pterm.Warning.Println(err)
		return false
	}

	switch cmd.Kind {
	case CmdMove:
		to := cmd.To
		if cmd.AnyFoundation {
			if to, err = ResolveFoundation(m.View().Local, cmd.From); err != nil {
				pterm.Warning.Println(err)
				return false
			}
		}
		err = m.ApplyMove(ctx, cmd.From, to)
	case CmdSelect:
		err = m.Select(ctx, cmd.From)
	case CmdUndo:
		err = m.Undo()
	case CmdReset:
		err = m.Reset(ctx)
		if err == nil && m.View().Mode.Duel() {
			pterm.Info.Println("reset requested, waiting for the opponent")
		}
	case CmdSurrender:
		err = m.Surrender()
	case CmdReady:
		pterm.Info.Println("the game has already started")
	case CmdHelp:
		pterm.Println(helpText)
	case CmdQuit:
		return true
	}

	switch {
	case err == nil:
	case errors.Is(err, rules.ErrIllegalMove):
		pterm.Warning.Println("illegal move")
	case errors.Is(err, match.ErrNothingToUndo):
		pterm.Warning.Println("nothing to undo")
	case errors.Is(err, peersync.ErrResetPending):
		pterm.Warning.Println("a reset request is already pending")
	default:
		pterm.Warning.Println(err)
	}
	return false
}
