package main

import (
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
)

func box(title string) *pterm.BoxPrinter {
	return pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1).
		WithTitle(title).WithTitleTopCenter()
}

// boardPanel draws the grid. Free cells show their number.
func boardPanel(s game.State) string {
	var sb strings.Builder
	for row := 0; row < 3; row++ {
		if row > 0 {
			sb.WriteString("---+---+---\n")
		}
		for col := 0; col < 3; col++ {
			if col > 0 {
				sb.WriteString("|")
			}
			i := row*3 + col
			var mark string
			switch {
			case i >= len(s.Board.Cells):
				mark = " "
			case s.Board.Cells[i] == board.X:
				mark = pterm.LightCyan("X")
			case s.Board.Cells[i] == board.O:
				mark = pterm.LightMagenta("O")
			default:
				mark = pterm.Gray(strconv.Itoa(i))
			}
			sb.WriteString(" " + mark + " ")
		}
		sb.WriteString("\n")
	}
	return box(pterm.LightYellow("|BOARD|")).Sprint(sb.String())
}

func statusPanel(s game.State) string {
	info := pterm.Sprintfln("Game %s", s.ID) +
		pterm.Sprintfln("Move %d", s.Nonce) +
		pterm.Sprintfln("Status %s", s.Status)
	if s.Status.Playable() {
		info += pterm.Sprintfln("%s to play", seatName(s.Turn()))
	}
	return box(pterm.LightBlue("|GAME|")).Sprint(info)
}

func resultPanel(s game.State) string {
	var info string
	switch s.Outcome.Kind {
	case game.Win:
		info = pterm.Sprintfln("%s won", seatName(s.Outcome.Winner))
	case game.Disqualified:
		loser, _ := s.Outcome.Loser()
		info = pterm.Sprintfln("%s was disqualified\n%s won", seatName(loser), seatName(s.Outcome.Winner))
	case game.Draw:
		info = pterm.Sprintln("Draw")
	default:
		info = pterm.Sprintln("No ruling yet")
	}
	if s.Finalized {
		info += pterm.Sprintln(pterm.Gray("ruled by the arbiter"))
	}
	return box(pterm.LightGreen("|RESULT|")).Sprint(info)
}

func seatName(p board.PlayerSlot) string {
	if p == board.PlayerOne {
		return pterm.LightCyan("You (X)")
	}
	return pterm.LightMagenta("Bot (O)")
}
