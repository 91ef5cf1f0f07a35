package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/offchain-games/domain/board"
	"github.com/luca-patrignani/offchain-games/domain/game"
	"github.com/luca-patrignani/offchain-games/metrics"
	"github.com/luca-patrignani/offchain-games/platform/config"
	"github.com/luca-patrignani/offchain-games/platform/otel"
)

func main() {
	md, err := parseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: %s [honest|cheat|silent]\n%v\n", os.Args[0], err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	handler := pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(ptermLevel(cfg.SlogLevel())))
	logger := slog.New(handler)

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("O", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("ffchain ", pterm.FgDarkGray.ToStyle()),
		putils.LettersFromStringWithStyle("G", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("ames", pterm.FgDarkGray.ToStyle()),
	).Render()
	pterm.Info.Printfln("You play X against a bot playing O. Mode: %s", md)

	ctx := context.Background()
	shutdown, err := otel.Setup(ctx, "offchain-games", cfg.OTelEndpoint)
	if err != nil {
		logger.Error("tracing disabled", "err", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.Warn("flushing traces", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	final, err := run(ctx, cfg, md, logger, mt, askCell)
	if err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
	pterm.DefaultPanel.WithPanels([][]pterm.Panel{{
		{Data: boardPanel(final)},
		{Data: resultPanel(final)},
	}}).Render()
}

func parseMode(args []string) (mode, error) {
	if len(args) == 0 {
		return modeHonest, nil
	}
	if len(args) > 1 {
		return "", errors.New("too many arguments")
	}
	switch md := mode(args[0]); md {
	case modeHonest, modeCheat, modeSilent:
		return md, nil
	}
	return "", fmt.Errorf("unknown mode %q", args[0])
}

// askCell lets the user pick a free cell.
func askCell(s game.State) (uint8, error) {
	pterm.DefaultPanel.WithPanels([][]pterm.Panel{{{Data: boardPanel(s)}, {Data: statusPanel(s)}}}).Render()
	var options []string
	for i, c := range s.Board.Cells {
		if c == board.Empty {
			options = append(options, strconv.Itoa(i))
		}
	}
	choice, err := pterm.DefaultInteractiveSelect.WithDefaultText("Your move (cells are numbered row by row from 0)").WithOptions(options).Show()
	if err != nil {
		return 0, err
	}
	cell, err := strconv.Atoi(choice)
	if err != nil {
		return 0, err
	}
	return uint8(cell), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "err", err)
	}
}

func ptermLevel(l slog.Level) pterm.LogLevel {
	switch {
	case l <= slog.LevelDebug:
		return pterm.LogLevelDebug
	case l <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case l <= slog.LevelWarn:
		return pterm.LogLevelWarn
	}
	return pterm.LogLevelError
}
