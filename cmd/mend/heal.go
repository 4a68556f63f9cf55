package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"mend/internal/config"
	"mend/internal/gate"
	"mend/internal/heal"
	"mend/internal/logging"
	"mend/internal/report"
	"mend/internal/store"
	"mend/internal/types"
)

var (
	healGateCmd   string
	healMaxRounds int
	healFloor     float64
	healWatch     bool
	healJSON      bool
	healNoStore   bool
	watchDebounce = 300 * time.Millisecond
)

// healCmd runs the repair loop over artifact files
var healCmd = &cobra.Command{
	Use:   "heal [files...]",
	Short: "Run the repair loop over artifact files",
	Long: `Validates each file through the configured gate and repairs failures
in place on the syntax tree until the file is healthy, the convergence
breaker trips, or the round budget runs out.

Example:
  mend heal --gate "./check.sh" pkg/worker.go pkg/server.go`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHeal,
}

func init() {
	healCmd.Flags().StringVar(&healGateCmd, "gate", "", "gate command (overrides config)")
	healCmd.Flags().IntVar(&healMaxRounds, "max-rounds", -1, "fix rounds per artifact (overrides config)")
	healCmd.Flags().Float64Var(&healFloor, "confidence-floor", -1, "minimum fix confidence (overrides config)")
	healCmd.Flags().BoolVar(&healWatch, "watch", false, "re-heal files when they change on disk")
	healCmd.Flags().BoolVar(&healJSON, "json", false, "print the report as JSON")
	healCmd.Flags().BoolVar(&healNoStore, "no-store", false, "do not persist the report")
}

func runHeal(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if healGateCmd != "" {
		cfg.Gate.Command = healGateCmd
		cfg.Gate.Args = nil
	}
	if cfg.Gate.Command == "" {
		return fmt.Errorf("no gate configured: set gate.command in mend.yaml or pass --gate")
	}
	if healMaxRounds >= 0 {
		cfg.MaxRounds = healMaxRounds
	}
	if healFloor >= 0 {
		cfg.ConfidenceFloor = healFloor
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := gate.NewExecGate(cfg.Gate.Command, cfg.Gate.Args, cfg.Gate.Timeout)
	orch := heal.New(g, nil, cfg)

	if healWatch {
		return watchAndHeal(ctx, orch, cfg, args)
	}

	ok, err := healOnce(ctx, orch, cfg, args)
	if err != nil {
		return err
	}
	if !ok {
		os.Exit(2)
	}
	return nil
}

func healOnce(ctx context.Context, orch *heal.Orchestrator, cfg config.Config, files []string) (bool, error) {
	artifacts, err := loadArtifacts(files)
	if err != nil {
		return false, err
	}

	rep, err := orch.Heal(ctx, artifacts)
	if err != nil {
		return false, err
	}

	if healJSON {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return false, err
		}
		fmt.Println(string(data))
	} else {
		fmt.Print(report.Render(rep))
	}

	if !healNoStore {
		if err := persistReport(cfg.StorePath, rep); err != nil {
			logging.StoreDebug("report not persisted: %v", err)
			fmt.Fprintf(os.Stderr, "warning: report not persisted: %v\n", err)
		}
	}
	return rep.OverallSuccess, nil
}

func loadArtifacts(files []string) ([]types.Artifact, error) {
	artifacts := make([]types.Artifact, 0, len(files))
	for _, f := range files {
		source, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", f, err)
		}
		artifacts = append(artifacts, types.Artifact{ID: f, Version: 0, Source: source})
	}
	return artifacts, nil
}

func persistReport(path string, rep types.HealingReport) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveReport(rep)
}

// watchAndHeal heals once up front, then re-heals any watched file that
// changes on disk. Events are debounced because editors produce bursts.
func watchAndHeal(ctx context.Context, orch *heal.Orchestrator, cfg config.Config, files []string) error {
	if _, err := healOnce(ctx, orch, cfg, files); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	for _, f := range files {
		if err := watcher.Add(f); err != nil {
			return fmt.Errorf("watch %s: %w", f, err)
		}
	}
	logging.Boot("watching %d files", len(files))
	fmt.Printf("watching %d files, ^C to stop\n", len(files))

	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[ev.Name] = true
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerC = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.HealWarn("watch error: %v", err)
		case <-timerC:
			changed := make([]string, 0, len(pending))
			for f := range pending {
				changed = append(changed, f)
				delete(pending, f)
			}
			timerC = nil
			if _, err := healOnce(ctx, orch, cfg, changed); err != nil {
				return err
			}
			// Editors that replace files drop the watch; re-add
			for _, f := range changed {
				_ = watcher.Add(f)
			}
		}
	}
}
