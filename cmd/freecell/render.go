package main

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/cmhcmh79/freecell-vs/internal/game"
	"github.com/cmhcmh79/freecell-vs/internal/match"
	"github.com/cmhcmh79/freecell-vs/internal/matchmaking"
)

func cardText(c game.Card) string {
	if c.IsZero() {
		return pterm.Gray(" --")
	}
	text := fmt.Sprintf("%3s", c.String())
	if c.Red() {
		return pterm.LightRed(text)
	}
	return pterm.LightWhite(text)
}

func highlight(selected bool, text string) string {
	if selected {
		return pterm.BgYellow.Sprint(text)
	}
	return text
}

// renderBoard draws free cells and foundations over the eight columns.
func renderBoard(s game.State, sel game.Location, hasSel bool) string {
	var b strings.Builder

	for i, c := range s.FreeCells {
		label := pterm.Gray(fmt.Sprintf("f%d", i))
		b.WriteString(label + highlight(hasSel && sel.SameAs(game.FreeCellAt(i)), cardText(c)) + " ")
	}
	b.WriteString("   ")
	for _, suit := range game.Suits {
		top, _ := game.Top(s.Foundations.Of(suit))
		label := pterm.Gray("h" + suit.String())
		b.WriteString(label + cardText(top) + " ")
	}
	b.WriteString("\n\n")

	for i := 0; i < game.NumColumns; i++ {
		b.WriteString(highlight(hasSel && sel.SameAs(game.ColumnAt(i)), pterm.Gray(fmt.Sprintf("  c%d", i))))
	}
	b.WriteString("\n")

	depth := 0
	for _, col := range s.Columns {
		depth = max(depth, len(col))
	}
	for row := 0; row < depth; row++ {
		for _, col := range s.Columns {
			if row < len(col) {
				b.WriteString(" " + cardText(col[row]))
			} else {
				b.WriteString("    ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// progressBar renders completed foundation cards out of the deck.
func progressBar(completed int) string {
	const width = 26
	filled := completed * width / game.DeckSize
	return pterm.LightGreen(strings.Repeat("█", filled)) + pterm.Gray(strings.Repeat("░", width-filled))
}

func statusLine(v match.View) string {
	switch v.Status {
	case match.StatusInitialized:
		return pterm.Yellow("waiting to start")
	case match.StatusEnded:
		return pterm.LightMagenta("ended: " + v.Reason.String())
	}
	if v.Timed {
		return pterm.LightCyan("time left " + match.FormatTime(v.Remaining))
	}
	return pterm.LightCyan("in progress")
}

// renderView draws the local board and, in a duel, the opponent summary.
func renderView(v match.View, title, opponent string) (string, error) {
	pbox := pterm.DefaultBox.WithHorizontalPadding(2).WithTopPadding(1).WithBottomPadding(1)

	header := fmt.Sprintf("%s  seed %d  moves %d  undo %d  %s\n\n",
		title, v.Seed, v.Local.Moves, v.HistoryDepth, statusLine(v))
	local := pterm.Panel{Data: pbox.
		WithTitle(pterm.LightGreen("|" + string(v.Slot) + "|")).
		WithTitleTopCenter().
		Sprint(header + renderBoard(v.Local, v.Selection, v.HasSelection))}

	row := []pterm.Panel{local}
	if v.HasRemote {
		done := game.CompletedCount(v.Remote)
		info := pterm.Sprintfln("%s", pterm.LightCyan(opponent)) +
			pterm.Sprintfln("moves     %d", v.Remote.Moves) +
			pterm.Sprintfln("completed %d/%d", done, game.DeckSize) +
			progressBar(done)
		row = append(row, pterm.Panel{Data: pbox.
			WithTitle(pterm.LightYellow("|OPPONENT|")).
			WithTitleTopCenter().
			Sprint(info)})
	}

	return pterm.DefaultPanel.WithPanels([][]pterm.Panel{row}).Srender()
}

func printView(v match.View, title, opponent string) {
	out, err := renderView(v, title, opponent)
	if err != nil {
		pterm.Error.Printfln("render: %v", err)
		return
	}
	pterm.Println(out)
}

func describeParticipant(p matchmaking.Participant) string {
	name := p.DisplayName
	if name == "" {
		name = p.ID[:min(8, len(p.ID))]
	}
	return fmt.Sprintf("%s (%d RP, %s)", name, p.Rating, matchmaking.RankName(p.Rating))
}
