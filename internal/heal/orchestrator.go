// Package heal drives the repair loop: validate, analyze, transform, track
// convergence, repeat until healthy or the bounds trip. Artifacts heal
// concurrently and independently; a fix round for one never touches another.
package heal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"mend/internal/analyze"
	"mend/internal/config"
	"mend/internal/convergence"
	"mend/internal/gate"
	"mend/internal/logging"
	"mend/internal/transform"
	"mend/internal/tree"
	"mend/internal/types"
)

// Orchestrator owns the repair loop for a batch of artifacts.
type Orchestrator struct {
	gate     gate.Gate
	analyzer *analyze.Analyzer
	cfg      config.Config
}

// New builds an orchestrator. A nil analyzer selects the default.
func New(g gate.Gate, analyzer *analyze.Analyzer, cfg config.Config) *Orchestrator {
	if analyzer == nil {
		analyzer = analyze.New(nil)
	}
	return &Orchestrator{gate: g, analyzer: analyzer, cfg: cfg}
}

// Heal runs the repair loop over all artifacts and returns the aggregated
// report. Every artifact gets a result; per-artifact failures (stuck,
// exhausted, gate infrastructure down) are recorded in the report, not
// returned as errors. The returned error is reserved for run-fatal
// conditions: a convergence invariant violation or a cancelled context.
func (o *Orchestrator) Heal(ctx context.Context, artifacts []types.Artifact) (types.HealingReport, error) {
	report := types.HealingReport{
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}
	logging.Heal("run %s: healing %d artifacts (max %d rounds, concurrency %d)",
		report.RunID, len(artifacts), o.cfg.MaxRounds, o.cfg.Concurrency)

	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, report.Started.Add(o.cfg.Deadline))
		defer cancel()
	}

	results := make([]types.HealingResult, len(artifacts))
	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, artifact := range artifacts {
		i, artifact := i, artifact
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			res, err := o.healArtifact(gctx, artifact)
			if err != nil {
				var viol *types.ConvergenceInvariantViolation
				if errors.As(err, &viol) {
					// The tracker is the component whose word we rely on;
					// if it is wrong, no result in this run is trustworthy.
					logging.HealError("run aborted: %v", viol)
					return err
				}
				return err
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	report.Finished = time.Now()
	report.Results = results
	if err != nil {
		return report, err
	}

	report.OverallSuccess = true
	for _, r := range results {
		if r.FinalStatus != types.StatusHealthy {
			report.OverallSuccess = false
		}
		if r.RoundsTaken > report.RoundsRun {
			report.RoundsRun = r.RoundsTaken
		}
	}
	logging.Heal("run %s: finished in %v, success=%t", report.RunID, report.Finished.Sub(report.Started), report.OverallSuccess)
	return report, nil
}

// healArtifact is the per-artifact loop. Round 0 is the baseline validation;
// rounds 1..MaxRounds each analyze, transform and re-validate; the final
// re-validation doubles as the classification point for the previous round's
// attempt, so an attempt's Classification stays pending until the next
// verdict lands.
func (o *Orchestrator) healArtifact(ctx context.Context, artifact types.Artifact) (types.HealingResult, error) {
	res := types.HealingResult{ArtifactID: artifact.ID, FinalStatus: types.StatusHealing}
	tracker := convergence.NewTracker(artifact.ID, o.cfg.StallThreshold)

	verdict, err := o.validate(ctx, artifact)
	if err != nil {
		return o.infraResult(res, err)
	}
	sig, err := contentSignature(ctx, artifact)
	if err != nil {
		return res, err
	}
	if _, err := tracker.Observe(convergence.Observation{
		Version: artifact.Version, ContentSig: sig, Diags: verdict.Diagnostics,
	}); err != nil {
		return res, err
	}

	if verdict.Passed {
		res.FinalStatus = types.StatusHealthy
		logging.Heal("%s: healthy at baseline", artifact.ID)
		return res, nil
	}

	current := artifact
	diags := verdict.Diagnostics

	for round := 1; round <= o.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			res.FinalStatus = types.StatusExhausted
			res.RemainingDiagnostics = diags
			logging.HealWarn("%s: deadline reached before round %d", artifact.ID, round)
			return res, nil
		}

		selection, err := o.propose(ctx, current, diags)
		if err != nil {
			return res, err
		}
		if len(selection.Apply) == 0 {
			// Nothing applicable above the floor: the loop cannot move.
			res.FinalStatus = types.StatusStuck
			res.RemainingDiagnostics = diags
			res.Unresolved = selection.Unresolved
			logging.HealWarn("%s: stuck at round %d, no applicable fixes (%d below floor)",
				artifact.ID, round, len(selection.Unresolved))
			return res, nil
		}

		applied, err := transform.Apply(ctx, current, selection.Apply)
		if err != nil {
			return res, err
		}
		attempt := types.HealingAttempt{
			Round:          round,
			VersionBefore:  current.Version,
			VersionAfter:   applied.Artifact.Version,
			FixesApplied:   applied.Applied,
			Classification: types.ClassPending,
			DiscardedStale: len(applied.Failed),
		}
		current = applied.Artifact

		verdict, err = o.validate(ctx, current)
		if err != nil {
			res.Attempts = append(res.Attempts, attempt)
			res.RoundsTaken = len(res.Attempts)
			return o.infraResult(res, err)
		}
		diags = verdict.Diagnostics

		sig, err := contentSignature(ctx, current)
		if err != nil {
			return res, err
		}
		class, err := tracker.Observe(convergence.Observation{
			Version: current.Version, ContentSig: sig, Diags: diags,
		})
		if err != nil {
			return res, err
		}
		attempt.Classification = class
		attempt.DiagnosticsAfter = diags
		res.Attempts = append(res.Attempts, attempt)
		res.RoundsTaken = len(res.Attempts)

		if verdict.Passed {
			res.FinalStatus = types.StatusHealthy
			logging.Heal("%s: healthy after %d rounds", artifact.ID, res.RoundsTaken)
			return res, nil
		}
		if tracker.IsStuck() {
			res.FinalStatus = types.StatusStuck
			res.RemainingDiagnostics = diags
			res.Unresolved = selection.Unresolved
			logging.HealWarn("%s: circuit breaker tripped after round %d", artifact.ID, round)
			return res, nil
		}
	}

	res.FinalStatus = types.StatusExhausted
	res.RemainingDiagnostics = diags
	logging.HealWarn("%s: exhausted %d rounds, %d diagnostics remain", artifact.ID, o.cfg.MaxRounds, len(diags))
	return res, nil
}

// propose parses the current source, derives candidates for the open
// diagnostics, and selects the conflict-free high-confidence subset.
func (o *Orchestrator) propose(ctx context.Context, artifact types.Artifact, diags []types.Diagnostic) (analyze.Selection, error) {
	t, err := tree.Parse(ctx, artifact.Source)
	if err != nil {
		return analyze.Selection{}, err
	}
	defer t.Close()

	candidates, err := o.analyzer.Analyze(t, diags)
	if err != nil {
		return analyze.Selection{}, err
	}
	return analyze.Select(candidates, o.cfg.ConfidenceFloor), nil
}

// validate calls the gate, retrying infrastructure failures up to the
// configured bound. A failed validation (Passed false) is never retried.
func (o *Orchestrator) validate(ctx context.Context, artifact types.Artifact) (gate.Verdict, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.InfraRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return gate.Verdict{}, lastErr
			}
			return gate.Verdict{}, &types.InfraError{ArtifactID: artifact.ID, Err: err}
		}
		verdict, err := o.gate.Validate(ctx, artifact)
		if err == nil {
			return verdict, nil
		}
		var infra *types.InfraError
		if !errors.As(err, &infra) {
			err = &types.InfraError{ArtifactID: artifact.ID, Err: err}
		}
		lastErr = err
		logging.GateWarn("%s: gate attempt %d/%d failed: %v", artifact.ID, attempt+1, o.cfg.InfraRetries+1, err)
	}
	return gate.Verdict{}, lastErr
}

// infraResult finalizes an artifact whose gate never recovered: exhausted
// with the infra flag set, so the report cannot be misread as "unfixable".
func (o *Orchestrator) infraResult(res types.HealingResult, err error) (types.HealingResult, error) {
	var infra *types.InfraError
	if !errors.As(err, &infra) {
		return res, err
	}
	res.FinalStatus = types.StatusExhausted
	res.InfraFailure = true
	logging.HealError("%s: gate infrastructure failure: %v", res.ArtifactID, err)
	return res, nil
}

func contentSignature(ctx context.Context, artifact types.Artifact) (string, error) {
	t, err := tree.Parse(ctx, artifact.Source)
	if err != nil {
		return "", fmt.Errorf("signature for %s: %w", artifact.ID, err)
	}
	defer t.Close()
	return tree.Signature(t), nil
}
