package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/kasuganosora/eventvm/config"
	"github.com/kasuganosora/eventvm/game/eventbus"
	"github.com/kasuganosora/eventvm/game/host"
	"github.com/kasuganosora/eventvm/game/world"
	"github.com/kasuganosora/eventvm/plugin/hook"
	"github.com/kasuganosora/eventvm/resource"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagRunEvent    int
	flagRunFrames   int
	flagRunParallel bool
	flagRunSeed     uint64
	flagRunScripts  string
	flagRunTriggers bool
	flagRunMapID    int
	flagRunTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <file|dir>",
	Short: "Execute one event headlessly",
	Long: `Load event definitions from a file or directory and run one event
against an empty in-memory game state, frame by frame, until it finishes.

Messages and movement routes are acknowledged after every frame and
choices take their default. Every bus event is printed as one JSON line.

Examples:
  eventvm run data/events/intro.yaml --event 1
  eventvm run data/events --event 4 --seed 42 --scripts data/scripts
  eventvm run data/events --event 2 --parallel --frames 600`,
	Args: cobra.ExactArgs(1),
	Run:  runRun,
}

func init() {
	runCmd.Flags().IntVar(&flagRunEvent, "event", 1, "Event id to start")
	runCmd.Flags().IntVar(&flagRunFrames, "frames", 10000, "Frame limit (0 = unlimited)")
	runCmd.Flags().BoolVar(&flagRunParallel, "parallel", false, "Start the event as a parallel instance")
	runCmd.Flags().Uint64Var(&flagRunSeed, "seed", 0, "RNG seed (0 = random based on time)")
	runCmd.Flags().StringVar(&flagRunScripts, "scripts", "", "Directory of *.js script hooks")
	runCmd.Flags().BoolVar(&flagRunTriggers, "triggers", false, "Also run autorun and parallel pages of every event")
	runCmd.Flags().IntVar(&flagRunMapID, "map", 1, "Map id self-switches are scoped to")
	runCmd.Flags().DurationVar(&flagRunTimeout, "timeout", time.Minute, "Wall-clock limit")
}

func runRun(cmd *cobra.Command, args []string) {
	logger, err := runLogger()
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer logger.Sync()

	events, err := loadPath(args[0])
	if err != nil {
		fatalf("Error loading events: %v", err)
	}

	seed := flagRunSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	hooks := hook.NewHookCenter()
	hooks.Register(hook.OnBusEvent, 0, "print", printEnvelope(cmd.OutOrStdout()))
	bus := eventbus.New(eventbus.Options{Hooks: hooks}, logger)
	defer bus.Stop()

	scfg := config.ScriptConfig{Dir: flagRunScripts, VMPoolSize: 1, Timeout: 5 * time.Second}
	scripts, sandbox, scriptHooks, err := loadScripts(scfg, logger)
	if err != nil {
		fatalf("Error loading scripts: %v", err)
	}
	sandbox.SetRandom(rng.Float64)

	state := world.NewGameState(nil, 0, logger)
	h := host.New(state, events, host.Options{
		MapID:           flagRunMapID,
		Bus:             bus,
		Scripts:         scripts,
		Hooks:           hooks,
		AutoAdvance:     true,
		RandIntN:        rng.IntN,
		DisableTriggers: !flagRunTriggers,
	}, logger)
	sandbox.Register(scripts, scriptHooks, h.View())

	info, err := h.Start(flagRunEvent, flagRunParallel)
	if err != nil {
		fatalf("Error starting event %d: %v", flagRunEvent, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flagRunTimeout)
	defer cancel()
	frames, runErr := h.RunUntilIdle(ctx, flagRunFrames)

	out := cmd.OutOrStdout()
	stats := h.Statistics()
	fmt.Fprintf(out, "\nevent %d (%s), active page now %d\n", info.EventID, info.EventName, pageOf(h, info.EventID))
	fmt.Fprintf(out, "frames: %d  commands: %d  completed: %d  still running: %d\n",
		frames, stats.TotalCommandsExecuted, stats.TotalEventsCompleted, stats.RunningEvents+stats.ParallelEvents)
	fmt.Fprintf(out, "seed: %d\n", seed)
	for _, e := range state.Switches() {
		fmt.Fprintf(out, "switch %d = %v\n", e.ID, e.Value)
	}
	for _, e := range state.Variables() {
		fmt.Fprintf(out, "variable %d = %v\n", e.ID, e.Value)
	}

	if runErr != nil {
		fatalf("Run stopped: %v", runErr)
	}
	if h.IsRunning(flagRunEvent) && flagRunFrames > 0 && frames >= flagRunFrames {
		fatalf("Event %d still running after %d frames", flagRunEvent, frames)
	}
}

func runLogger() (*zap.Logger, error) {
	if flagDebug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// loadPath reads a definition directory or a single file into a validated set.
func loadPath(path string) (*resource.EventSet, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return resource.NewLoader(path).Load()
	}
	evs, err := resource.LoadFile(path)
	if err != nil {
		return nil, err
	}
	set := resource.NewEventSet()
	for _, ev := range evs {
		if err := set.Put(ev); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return set, nil
}

func pageOf(h *host.Host, eventID int) int {
	for _, ev := range h.Events() {
		if ev.ID == eventID {
			return ev.ActivePage
		}
	}
	return -1
}

func printEnvelope(w io.Writer) hook.HookFn {
	enc := json.NewEncoder(w)
	return func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		if env, ok := data.(*eventbus.Envelope); ok {
			_ = enc.Encode(env)
		}
		return data, nil
	}
}
