package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pterm/pterm"

	"github.com/luca-patrignani/offchain-games/arbiter/memarbiter"
	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/platform/config"
)

func testConfig() config.Config {
	return config.Config{
		AuthorityTimeout:       time.Second,
		ResponseDeadline:       500 * time.Millisecond,
		ArbiterCallTimeout:     time.Second,
		DisputeInitialInterval: 10 * time.Millisecond,
		DisputeMaxInterval:     50 * time.Millisecond,
		DisputeMaxElapsed:      2 * time.Second,
		DisputeResponseWindow:  200 * time.Millisecond,
		SessionScheme:          "secp256k1",
		LogLevel:               "error",
	}
}

// script plays the given cells in order.
func script(cells ...uint8) chooser {
	return func(s game.State) (uint8, error) {
		if len(cells) == 0 {
			return firstFree(s.Board), nil
		}
		c := cells[0]
		cells = cells[1:]
		return c, nil
	}
}

func play(t *testing.T, md mode, choose chooser) game.State {
	t.Helper()
	pterm.DisableOutput()
	t.Cleanup(pterm.EnableOutput)
	logger := slog.New(slog.DiscardHandler)
	s, err := run(context.Background(), testConfig(), md, logger, nil, choose)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Finalized {
		t.Fatalf("expected a finalized game, status %s", s.Status)
	}
	return s
}

func TestRunHonest(t *testing.T) {
	s := play(t, modeHonest, script(4, 2, 6))
	if s.Outcome.Kind != game.Win || s.Outcome.Winner != board.PlayerOne {
		t.Fatalf("expected a win for the first seat, got %s", s.Outcome)
	}
	if s.Nonce != 5 {
		t.Fatalf("expected the game to end at move 5, got %d", s.Nonce)
	}
	for _, i := range []int{2, 4, 6} {
		if s.Board.Cells[i] != board.X {
			t.Fatalf("expected X in cell %d", i)
		}
	}
}

func TestRunCheat(t *testing.T) {
	s := play(t, modeCheat, script(4))
	if s.Outcome.Kind != game.Disqualified || s.Outcome.Winner != board.PlayerOne {
		t.Fatalf("expected the bot to be disqualified, got %s", s.Outcome)
	}
}

func TestRunSilent(t *testing.T) {
	s := play(t, modeSilent, script(4))
	if s.Outcome.Kind != game.Win || s.Outcome.Winner != board.PlayerOne {
		t.Fatalf("expected a timeout win for the first seat, got %s", s.Outcome)
	}
}

func TestParseMode(t *testing.T) {
	if md, err := parseMode(nil); err != nil || md != modeHonest {
		t.Fatalf("expected honest by default, got %q %v", md, err)
	}
	for _, md := range []mode{modeHonest, modeCheat, modeSilent} {
		got, err := parseMode([]string{string(md)})
		if err != nil || got != md {
			t.Fatalf("expected %q, got %q %v", md, got, err)
		}
	}
	if _, err := parseMode([]string{"sneaky"}); err == nil {
		t.Fatal("expected an unknown mode to be refused")
	}
	if _, err := parseMode([]string{"honest", "cheat"}); err == nil {
		t.Fatal("expected extra arguments to be refused")
	}
}

func TestFirstFree(t *testing.T) {
	b, err := board.NewBoard(board.TicTacToe)
	if err != nil {
		t.Fatal(err)
	}
	if got := firstFree(b); got != 0 {
		t.Fatalf("expected cell 0, got %d", got)
	}
	b.Cells[0], b.Cells[1] = board.X, board.O
	if got := firstFree(b); got != 2 {
		t.Fatalf("expected cell 2, got %d", got)
	}
	for i := range b.Cells {
		b.Cells[i] = board.X
	}
	if got := firstFree(b); got != board.NoCell {
		t.Fatalf("expected no free cell, got %d", got)
	}
}

func TestPtermLevel(t *testing.T) {
	cases := map[slog.Level]pterm.LogLevel{
		slog.LevelDebug: pterm.LogLevelDebug,
		slog.LevelInfo:  pterm.LogLevelInfo,
		slog.LevelWarn:  pterm.LogLevelWarn,
		slog.LevelError: pterm.LogLevelError,
	}
	for in, want := range cases {
		if got := ptermLevel(in); got != want {
			t.Fatalf("level %s: expected %v, got %v", in, want, got)
		}
	}
}

func TestPanels(t *testing.T) {
	s, err := game.New(1, board.TicTacToe, common.Address{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Board.Cells[4] = board.X
	if out := boardPanel(s); out == "" {
		t.Fatal("empty board panel")
	}
	s.Outcome = game.Outcome{Kind: game.Disqualified, Winner: board.PlayerOne}
	if out := resultPanel(s); out == "" {
		t.Fatal("empty result panel")
	}
}

func TestDecodeLog(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	want := game.PlayerDisqualified{Game: 3, Cheater: common.HexToAddress("0x0000000000000000000000000000000000000b0b")}
	e, ok := decodeLog(memarbiter.EncodeLog(want), logger)
	if !ok {
		t.Fatal("expected the log to decode")
	}
	if e != want {
		t.Fatalf("expected %+v, got %+v", want, e)
	}
	if _, ok := decodeLog(memarbiter.Log{Name: "Unknown"}, logger); ok {
		t.Fatal("expected an unknown log to be refused")
	}
}
