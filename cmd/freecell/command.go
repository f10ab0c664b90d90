package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cmhcmh79/freecell-vs/internal/game"
)

// CommandKind is what a typed line asks for.
type CommandKind int

const (
	CmdMove CommandKind = iota
	CmdSelect
	CmdUndo
	CmdReset
	CmdSurrender
	CmdReady
	CmdHelp
	CmdQuit
)

// Command is one parsed input line.
type Command struct {
	Kind CommandKind
	From game.Location
	To   game.Location
	// AnyFoundation marks a bare "h" target: the foundation of the moved
	// card's suit.
	AnyFoundation bool
}

var errEmpty = errors.New("empty command")

// ParseCommand reads one line. Locations use the board labels: c0..c7 for
// columns, f0..f3 for free cells, hS/hH/hD/hC or a bare h for foundations.
// A single location selects it; a second one completes the move.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{}, errEmpty
	}

	if len(fields) == 1 {
		switch fields[0] {
		case "u", "undo":
			return Command{Kind: CmdUndo}, nil
		case "r", "reset":
			return Command{Kind: CmdReset}, nil
		case "s", "surrender":
			return Command{Kind: CmdSurrender}, nil
		case "ready":
			return Command{Kind: CmdReady}, nil
		case "?", "help":
			return Command{Kind: CmdHelp}, nil
		case "q", "quit", "exit":
			return Command{Kind: CmdQuit}, nil
		}
		from, err := parseLocation(fields[0])
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: CmdSelect, From: from}, nil
	}

	if len(fields) != 2 {
		return Command{}, fmt.Errorf("expected \"<from> <to>\", got %q", line)
	}
	from, err := parseLocation(fields[0])
	if err != nil {
		return Command{}, err
	}
	if fields[1] == "h" {
		return Command{Kind: CmdMove, From: from, AnyFoundation: true}, nil
	}
	to, err := parseLocation(fields[1])
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: CmdMove, From: from, To: to}, nil
}

func parseLocation(text string) (game.Location, error) {
	// foundation suits are printed upper case
	if len(text) == 2 && text[0] == 'h' {
		text = "h" + strings.ToUpper(text[1:])
	}
	return game.ParseLocation(text)
}

// ResolveFoundation picks the foundation for the card a move would lift
// from from.
func ResolveFoundation(s game.State, from game.Location) (game.Location, error) {
	var card game.Card
	switch from.Kind {
	case game.KindColumn:
		top, ok := game.Top(s.Columns[from.Index])
		if !ok {
			return game.Location{}, fmt.Errorf("column %d is empty", from.Index)
		}
		card = top
	case game.KindFreeCell:
		card = s.FreeCells[from.Index]
		if card.IsZero() {
			return game.Location{}, fmt.Errorf("free cell %d is empty", from.Index)
		}
	default:
		return game.Location{}, fmt.Errorf("cannot move from %s to a foundation", from)
	}
	return game.FoundationOf(card.Suit), nil
}

const helpText = `Commands:
  c3 c5      move from column 3 to column 5 (a run moves when capacity allows)
  c3 f0      move to a free cell          f0 c5   free cell to column
  c3 h       move to its foundation       c3 hS   move to the spade foundation
  c3         select, then type the target on the next line
  u          undo                          r       reset (asks the opponent in a duel)
  s          surrender                     q       quit
  ready      toggle ready in a friend room`
