package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/game"
	"github.com/cmhcmh79/freecell-vs/internal/lobby"
	"github.com/cmhcmh79/freecell-vs/internal/match"
	"github.com/cmhcmh79/freecell-vs/internal/matchmaking"
	"github.com/cmhcmh79/freecell-vs/internal/repository"
)

var errNeedsNetwork = errors.New("this mode needs client.transport relay or nats")

func (a *app) runSolo(ctx context.Context, seed int64) error {
	if seed < 0 {
		seed = rand.Int64N(1_000_000)
	}
	out, err := a.play(ctx, seed, match.Solo, "SOLO", nil)
	if err != nil || !out.won || a.db == nil {
		return err
	}
	if err := a.db.RecordSolo(ctx, repository.SoloResult{
		PlayerID: a.self.ID, Seed: seed, Moves: out.moves, Duration: out.duration,
	}); err != nil {
		a.logger.Warn("failed to record solo result", zap.Error(err))
	}
	pterm.Info.Printfln("Seed %d cleared in %s", seed, match.FormatTime(out.duration))
	return nil
}

func (a *app) runStage(ctx context.Context, number int) error {
	if number <= 0 {
		number = 1
		if a.db != nil {
			current, err := a.db.CurrentStage(ctx, a.self.ID)
			if err != nil {
				a.logger.Warn("failed to load stage", zap.Error(err))
			} else {
				number = min(current, len(game.Stages))
			}
		}
	}
	stage, err := game.StageByNumber(number)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("STAGE %d %s (%s)", stage.Number, stage.Name, stage.Difficulty)
	out, err := a.play(ctx, stage.Seed, match.Solo, title, nil)
	if err != nil || !out.won {
		return err
	}
	if a.db != nil {
		change, err := a.db.RecordStageClear(ctx, a.self.ID, stage, out.moves, out.duration)
		if err != nil {
			a.logger.Warn("failed to record stage clear", zap.Error(err))
		} else {
			pterm.Success.Printfln("+%d RP (%d → %d)", change.Delta(), change.Old, change.New)
		}
	}
	if stage.Number == len(game.Stages) {
		pterm.Success.Println("Every stage cleared!")
	} else {
		pterm.Info.Printfln("Next: stage %d", stage.Number+1)
	}
	return nil
}

// runVersus plays a friend room. An empty code creates a new room.
func (a *app) runVersus(ctx context.Context, code string, mode match.Mode) error {
	if a.tr == nil {
		return errNeedsNetwork
	}
	if code == "" {
		code = lobby.NewCode()
	}
	code, err := lobby.NormalizeCode(code)
	if err != nil {
		return err
	}

	ch, err := a.tr.Join(ctx, lobby.Topic(code))
	if err != nil {
		return err
	}
	defer ch.Close()

	started := make(chan lobby.Start, 1)
	membersChanged := make(chan struct{}, 1)
	full := make(chan struct{}, 1)
	room := lobby.NewRoom(ch, code, lobby.Member{ID: a.self.ID, DisplayName: a.self.Name}, lobby.Options{
		OnStart: func(s lobby.Start) { started <- s },
		OnMembers: func([]lobby.Member) {
			select {
			case membersChanged <- struct{}{}:
			default:
			}
		},
		OnFull: func() { full <- struct{}{} },
		Logger: a.logger,
	})
	defer room.Close()

	if err := room.Enter(ctx); err != nil {
		return err
	}
	defer func() { _ = room.Leave(context.Background()) }()

	pterm.DefaultBox.WithTitle(pterm.LightYellow("|ROOM|")).WithTitleTopCenter().
		Println(pterm.Sprintf("Room code %s\nShare it with your opponent, then type %s.",
			pterm.LightCyan(code), pterm.LightGreen("ready")))

	var start lobby.Start
wait:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-full:
			return lobby.ErrRoomFull
		case <-membersChanged:
			printMembers(room.Members(), a.self.ID)
		case start = <-started:
			break wait
		case line, ok := <-a.in.lines:
			if !ok {
				return nil
			}
			cmd, err := ParseCommand(line)
			switch {
			case err != nil:
				pterm.Info.Println("type ready or q")
			case cmd.Kind == CmdReady:
				if err := room.ToggleReady(ctx); err != nil {
					pterm.Warning.Println(err)
				}
			case cmd.Kind == CmdQuit:
				return nil
			}
		}
	}

	d := &duel{
		ch:           ch,
		roomID:       code,
		slot:         match.SlotFor(start.IsPlayer1),
		opponentID:   start.Opponent.ID,
		opponentName: start.Opponent.DisplayName,
	}
	out, err := a.play(ctx, start.Seed, mode, "ROOM "+code, d)
	if err != nil {
		return err
	}
	a.recordDuel(ctx, code, start.Seed, d, out)
	return nil
}

func printMembers(members []lobby.Member, selfID string) {
	data := pterm.TableData{{"Seat", "Player", "Ready"}}
	for i, m := range members {
		name := m.DisplayName
		if m.ID == selfID {
			name += " (you)"
		}
		ready := pterm.Gray("no")
		if m.Ready {
			ready = pterm.LightGreen("yes")
		}
		data = append(data, []string{fmt.Sprintf("player%d", i+1), name, ready})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// runQueue waits in the matchmaking queue and plays the match it finds.
func (a *app) runQueue(ctx context.Context, mode match.Mode) error {
	if a.tr == nil {
		return errNeedsNetwork
	}

	rating := a.cfg.Client.Rating
	if a.db != nil {
		if r, err := a.db.Rating(ctx, a.self.ID); err == nil {
			rating = r
		} else {
			a.logger.Warn("failed to load rating", zap.Error(err))
		}
	}

	ch, err := a.tr.Join(ctx, matchmaking.DefaultTopic)
	if err != nil {
		return err
	}
	defer ch.Close()

	matched := make(chan matchmaking.Result, 1)
	cancelled := make(chan matchmaking.Result, 1)
	q := matchmaking.NewQueue(ch, matchmaking.Participant{
		ID: a.self.ID, DisplayName: a.self.Name, Rating: rating,
	}, matchmaking.Options{
		OnMatched: func(r matchmaking.Result) { matched <- r },
		OnCancelled: func(r matchmaking.Result) {
			select {
			case cancelled <- r:
			default:
			}
		},
		ProposalTimeout: a.cfg.Match.ProposalTimeout,
		Logger:          a.logger,
	})
	defer q.Close()

	if err := q.Join(ctx); err != nil {
		return err
	}
	pterm.Info.Printfln("You: %s", describeParticipant(q.Self()))

	spinner, _ := pterm.DefaultSpinner.Start("Searching for an opponent...")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var result matchmaking.Result
wait:
	for {
		select {
		case <-ctx.Done():
			spinner.Fail("cancelled")
			return ctx.Err()
		case <-ticker.C:
			spinner.UpdateText(fmt.Sprintf("Searching for an opponent... %s, %d others queued",
				match.FormatTime(q.WaitTime()), len(q.Others())))
		case r := <-cancelled:
			a.logger.Info("match withdrawn", zap.String("room_id", r.RoomID))
		case result = <-matched:
			spinner.Success("Opponent found: " + describeParticipant(result.Opponent))
			break wait
		case line, ok := <-a.in.lines:
			if cmd, err := ParseCommand(line); !ok || (err == nil && cmd.Kind == CmdQuit) {
				_ = q.Leave(ctx)
				spinner.Warning("left the queue")
				return nil
			}
		}
	}

	roomCh, err := a.tr.Join(ctx, lobby.Topic(result.RoomID))
	if err != nil {
		return err
	}
	defer roomCh.Close()

	d := &duel{
		ch:           roomCh,
		roomID:       result.RoomID,
		slot:         match.SlotFor(result.IsPlayer1),
		opponentID:   result.Opponent.ID,
		opponentName: describeParticipant(result.Opponent),
	}
	out, err := a.play(ctx, result.Seed, mode, "RANKED "+result.RoomID, d)
	if err != nil {
		return err
	}
	a.recordDuel(ctx, result.RoomID, result.Seed, d, out)
	return nil
}

// recordDuel stores the result from the winner's side only, so each duel
// is written once.
func (a *app) recordDuel(ctx context.Context, roomID string, seed int64, d *duel, out outcome) {
	if a.db == nil || !out.won || d.opponentID == "" {
		return
	}
	winner, loser, err := a.db.RecordDuel(ctx, repository.DuelResult{
		RoomCode:    roomID,
		Seed:        seed,
		WinnerID:    a.self.ID,
		LoserID:     d.opponentID,
		WinnerMoves: out.moves,
		LoserMoves:  out.opponentMoves,
		EndReason:   out.reason.String(),
		Duration:    out.duration,
	})
	if err != nil {
		a.logger.Warn("failed to record duel", zap.Error(err))
		return
	}
	pterm.Success.Printfln("+%d RP (%d → %d), opponent %d → %d",
		winner.Delta(), winner.Old, winner.New, loser.Old, loser.New)
}
