// Command llmtourney runs LLM game tournaments from a YAML config.
//
// Usage:
//
//	llmtourney run <config.yaml> [--output DIR] [--pause-before-final] [--spectate ADDR]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mousetraptech/llmtourney/internal/config"
	"github.com/mousetraptech/llmtourney/internal/game"
	"github.com/mousetraptech/llmtourney/internal/game/gametest"
	"github.com/mousetraptech/llmtourney/internal/sink"
	"github.com/mousetraptech/llmtourney/internal/spectate"
	"github.com/mousetraptech/llmtourney/internal/tournament"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 || args[0] != "run" {
		fmt.Fprintln(os.Stderr, "usage: llmtourney run <config.yaml> [--output DIR] [--pause-before-final] [--spectate ADDR]")
		return 2
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	output := fs.String("output", ".", "directory for telemetry and manifests")
	pauseBeforeFinal := fs.Bool("pause-before-final", false, "wait for Enter before the final starts")
	spectateAddr := fs.String("spectate", "", "serve read-only status on this address")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: llmtourney run <config.yaml> [flags]")
		return 2
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	slog := logger.Sugar()

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		slog.Errorw("Failed to load config", "path", fs.Arg(0), "error", err)
		return 1
	}
	cfg.OutputDir = *output

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sink.New(ctx, sink.Config{
		URI:        os.Getenv(config.MongoURIEnv),
		Tournament: cfg.Tournament.Name,
		Logger:     logger,
	})
	if err != nil {
		slog.Errorw("Failed to start sink", "error", err)
		return 1
	}
	defer store.Close()

	eng, err := tournament.NewEngine(cfg, defaultEngineFactory, store, logger)
	if err != nil {
		slog.Errorw("Failed to build tournament engine", "error", err)
		return 1
	}

	manifest := tournament.NewManifestStore(eng.TelemetryDir(), cfg.Tournament.Format, cfg.Tournament.Name)

	var spec *spectate.Server
	if *spectateAddr != "" {
		spec = spectate.New(*spectateAddr, manifest, logger)
		spec.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			spec.Shutdown(sctx)
		}()
	}

	switch cfg.Tournament.Format {
	case config.FormatBracket:
		b := tournament.NewBracket(eng, manifest)
		if *pauseBeforeFinal {
			b.PauseBeforeFinal = waitForEnter
		}
		champion, err := b.Run(ctx)
		if err != nil {
			slog.Errorw("Bracket failed", "error", err)
			return 1
		}
		printBracket(manifest.Snapshot(), champion)

	case config.FormatLeague:
		standings, err := tournament.NewLeague(eng, manifest).Run(ctx)
		if err != nil {
			slog.Errorw("League failed", "error", err)
			return 1
		}
		printStandings(standings)
	}

	final := manifest.Snapshot()
	store.ForwardTournament(sink.TournamentRecord{
		Name:      final.Tournament,
		Format:    final.Format,
		Seed:      final.Seed,
		Status:    final.Status,
		Champion:  final.Champion,
		Standings: final.Standings,
	})

	slog.Infow("Tournament complete",
		"tournament", cfg.Tournament.Name,
		"manifest", manifest.Path(),
	)
	return 0
}

// defaultEngineFactory serves the built-in scripted engine. Real game
// engines plug in here by event mode.
func defaultEngineFactory(event config.Event, players []string) (game.Engine, error) {
	e := gametest.New(players)
	if event.GamesPerMatch > 0 {
		e.TurnsEach = event.GamesPerMatch
	}
	return e, nil
}

func waitForEnter() {
	fmt.Println("\nFinal is next. Press Enter to continue...")
	bufio.NewReader(os.Stdin).ReadString('\n')
}

func printBracket(m tournament.Manifest, champion string) {
	fmt.Printf("\n%s bracket results\n", m.Tournament)
	round := -1
	for _, f := range m.Fixtures {
		if f.Round != round {
			round = f.Round
			fmt.Printf("\nRound %d\n", round)
		}
		fmt.Printf("  %-40s %s\n", f.ID, resultLine(f))
	}
	fmt.Printf("\nCHAMPION: %s\n", champion)
}

func printStandings(standings []tournament.Standing) {
	fmt.Printf("\n%-24s %3s %3s %3s %3s %6s %8s\n", "MODEL", "P", "W", "D", "L", "PTS", "DIFF")
	for _, s := range standings {
		fmt.Printf("%-24s %3d %3d %3d %3d %6.1f %+8.1f\n",
			s.Model, s.Played, s.Wins, s.Draws, s.Losses, s.LeaguePoints, s.Differential)
	}
}

func resultLine(f tournament.Fixture) string {
	switch f.Status {
	case tournament.StatusComplete:
		if f.Winner == "" {
			return "draw"
		}
		return "winner: " + f.Winner
	case tournament.StatusError:
		return "error: " + f.Error
	}
	return f.Status
}
