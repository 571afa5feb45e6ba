// Command simulate plays matches headlessly on a manual clock, with the build
// heuristic driving both factions, and prints a results summary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"skirmish/internal/config"
	"skirmish/internal/game"
	"skirmish/internal/history"
	"skirmish/internal/render"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type options struct {
	Matches  int
	Seed     int64
	TickRate int
	Rules    *game.Rules
	FramePNG string // final frame of the last match, "" to skip
	Store    *history.Store
}

type report struct {
	Summary history.Summary     `json:"summary"`
	Matches []game.MatchResult `json:"matches"`
}

func main() {
	configDir := flag.String("config", ".", "directory holding skirmish.yaml")
	matches := flag.Int("matches", 10, "number of matches to play")
	seed := flag.Int64("seed", 1, "seed of the first match (0 picks one); later matches add their index")
	framePath := flag.String("frame", "", "write the last match's final frame to this PNG file")
	persist := flag.Bool("persist", false, "record results in the on-disk match history")
	flag.Parse()

	godotenv.Load(".env")

	appConfig, err := config.Load(*configDir)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := appConfig.Log.NewLogger(os.Stderr)

	rules, err := appConfig.Match.Rules()
	if err != nil {
		logger.Fatal().Err(err).Msg("load rules")
	}

	var store *history.Store
	if *persist {
		store, err = history.Open(appConfig.Storage.HistoryApp, history.Options{
			Capacity: appConfig.Storage.HistoryCapacity,
			Logger:   logger,
		})
	} else {
		store, err = history.NewStore(history.NewMemoryBackend(), history.Options{Logger: logger})
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("open history")
	}
	defer store.Close()

	rep, err := run(options{
		Matches:  *matches,
		Seed:     *seed,
		TickRate: appConfig.Match.TickRate,
		Rules:    rules,
		FramePNG: *framePath,
		Store:    store,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("simulate")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		logger.Fatal().Err(err).Msg("write report")
	}
}

// run plays opts.Matches matches back to back and records each result.
func run(opts options, logger zerolog.Logger) (report, error) {
	if opts.Matches <= 0 {
		return report{}, fmt.Errorf("matches must be positive, got %d", opts.Matches)
	}
	if opts.TickRate <= 0 {
		opts.TickRate = 30
	}
	if opts.Rules == nil {
		opts.Rules = game.DefaultRules()
	}

	clock := game.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ended := make(chan game.MatchResult, 1)

	engine := game.NewEngine(game.EngineConfig{
		TickRate: opts.TickRate,
		Rules:    opts.Rules,
		Seed:     opts.Seed,
		Clock:    clock,
		Logger:   logger.Level(zerolog.WarnLevel),
		Autoplay: true,
	})
	engine.SetOnMatchEnd(func(r game.MatchResult) { ended <- r })
	// A zero seed was replaced by a time-based one; later matches follow it.
	base := engine.Status().Seed

	step := time.Second / time.Duration(opts.TickRate)
	// A match can never outlive its clock; the margin covers rounding.
	maxTicks := int(opts.Rules.MatchDuration/step) + opts.TickRate

	rep := report{}
	for i := 0; i < opts.Matches; i++ {
		if i > 0 {
			engine.Restart(base + int64(i))
		}

		for t := 0; t < maxTicks && engine.Status().Phase != game.PhaseEnded; t++ {
			clock.Advance(step)
			engine.Tick()
		}
		if engine.Status().Phase != game.PhaseEnded {
			return rep, fmt.Errorf("match %d did not end within %d ticks", i+1, maxTicks)
		}
		if err := engine.CheckInvariants(); err != nil {
			return rep, fmt.Errorf("match %d: %w", i+1, err)
		}

		var result game.MatchResult
		select {
		case result = <-ended:
		case <-time.After(5 * time.Second):
			return rep, fmt.Errorf("match %d: no result delivered", i+1)
		}

		if opts.Store != nil {
			if err := opts.Store.Record(result); err != nil {
				return rep, err
			}
		}
		rep.Matches = append(rep.Matches, result)
		logger.Info().
			Uint64("match", result.Match).
			Int64("seed", result.Seed).
			Stringer("winner", result.Winner).
			Stringer("reason", result.Reason).
			Dur("duration", result.Duration).
			Msg("match finished")
	}

	if opts.Store != nil {
		rep.Summary = opts.Store.Summary()
	}

	if opts.FramePNG != "" {
		if err := writeFrame(opts.FramePNG, engine.GetSnapshot()); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func writeFrame(path string, snap *game.GameSnapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame: %w", err)
	}
	if err := render.New(render.Options{}).EncodePNG(f, snap); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
