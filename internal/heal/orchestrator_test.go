package heal

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mend/internal/config"
	"mend/internal/gate"
	"mend/internal/tree"
	"mend/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gateFunc adapts a closure into a Gate, so each test scripts its own verdicts.
type gateFunc func(ctx context.Context, artifact types.Artifact) (gate.Verdict, error)

func (f gateFunc) Validate(ctx context.Context, artifact types.Artifact) (gate.Verdict, error) {
	return f(ctx, artifact)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Concurrency = 2
	return cfg
}

const brokenWorker = `package worker

import (
	"fmt"
)

func run() error {
	fmt.Println("running")
	return nil
}
`

func workerArtifact(id string) types.Artifact {
	return types.Artifact{ID: id, Version: 0, Source: []byte(brokenWorker)}
}

func findNodeType(n *sitter.Node, nodeType string) *sitter.Node {
	if n.Type() == nodeType {
		return n
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if found := findNodeType(n.NamedChild(i), nodeType); found != nil {
			return found
		}
	}
	return nil
}

func TestHealAlreadyHealthy(t *testing.T) {
	g := gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
		return gate.Verdict{Passed: true}, nil
	})
	orch := New(g, nil, testConfig())

	rep, err := orch.Heal(context.Background(), []types.Artifact{workerArtifact("w1")})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)

	res := rep.Results[0]
	assert.Equal(t, types.StatusHealthy, res.FinalStatus)
	assert.Equal(t, 0, res.RoundsTaken, "a healthy artifact takes zero fix rounds")
	assert.Empty(t, res.Attempts)
	assert.True(t, rep.OverallSuccess)
	assert.NotEmpty(t, rep.RunID)
}

func TestHealSimpleRepair(t *testing.T) {
	// Fails until "strconv" is imported; the analyzer's import fix carries
	// confidence 0.95, well above the floor.
	g := gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
		if strings.Contains(string(a.Source), `"strconv"`) {
			return gate.Verdict{Passed: true}, nil
		}
		return gate.Verdict{Passed: false, Diagnostics: []types.Diagnostic{{
			Kind:     types.DiagMissingImport,
			Symbol:   "strconv",
			Message:  "strconv is not imported",
			Severity: types.SeverityError,
		}}}, nil
	})
	orch := New(g, nil, testConfig())

	rep, err := orch.Heal(context.Background(), []types.Artifact{workerArtifact("w1")})
	require.NoError(t, err)
	res := rep.Results[0]

	assert.Equal(t, types.StatusHealthy, res.FinalStatus)
	assert.Equal(t, 1, res.RoundsTaken)
	require.Len(t, res.Attempts, 1)

	attempt := res.Attempts[0]
	assert.Equal(t, types.ClassProgress, attempt.Classification)
	assert.Equal(t, uint64(0), attempt.VersionBefore)
	assert.Equal(t, uint64(1), attempt.VersionAfter)
	require.Len(t, attempt.FixesApplied, 1)
	assert.Equal(t, types.FixAddImport, attempt.FixesApplied[0].Kind)
	assert.Empty(t, attempt.DiagnosticsAfter)
	assert.True(t, rep.OverallSuccess)
}

func TestHealMissingCapability(t *testing.T) {
	// The artifact has a free run() but no exported Run capability. The
	// analyzer resolves the name exactly and proposes a delegating stub.
	g := gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
		if strings.Contains(string(a.Source), "func Run() error") {
			return gate.Verdict{Passed: true}, nil
		}
		tr, err := tree.Parse(ctx, a.Source)
		if err != nil {
			return gate.Verdict{}, err
		}
		defer tr.Close()
		for _, m := range tree.Members(tr) {
			if m.Name == "run" {
				return gate.Verdict{Passed: false, Diagnostics: []types.Diagnostic{{
					Kind:     types.DiagMissingCapability,
					Location: m.Path,
					Symbol:   "run",
					Expected: "Run() error",
					Message:  "no Run capability exposed",
					Severity: types.SeverityError,
				}}}, nil
			}
		}
		return gate.Verdict{}, &types.InfraError{ArtifactID: a.ID, Err: fmt.Errorf("run not found")}
	})
	orch := New(g, nil, testConfig())

	rep, err := orch.Heal(context.Background(), []types.Artifact{workerArtifact("w1")})
	require.NoError(t, err)
	res := rep.Results[0]

	assert.Equal(t, types.StatusHealthy, res.FinalStatus)
	assert.Equal(t, 1, res.RoundsTaken)
	require.Len(t, res.Attempts, 1)
	require.Len(t, res.Attempts[0].FixesApplied, 1)
	fix := res.Attempts[0].FixesApplied[0]
	assert.Equal(t, types.FixAddMissingMethod, fix.Kind)
	assert.Equal(t, 0.95, fix.Confidence, "an exact lexical hit is high confidence")
}

func TestHealStallTripsBreaker(t *testing.T) {
	// The gate reports the same diagnostic identity forever, whatever the
	// loop does. The breaker must end this within stall threshold + 2 rounds.
	g := gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
		return gate.Verdict{Passed: false, Diagnostics: []types.Diagnostic{{
			Kind:     types.DiagWrongSignature,
			Location: types.NodePath{{Type: "function_declaration", Index: 3}},
			Symbol:   "run",
			Expected: "func run(ctx context.Context) error",
			Message:  "run has the wrong signature",
			Severity: types.SeverityError,
		}}}, nil
	})
	cfg := testConfig()
	cfg.MaxRounds = 10
	orch := New(g, nil, cfg)

	rep, err := orch.Heal(context.Background(), []types.Artifact{workerArtifact("w1")})
	require.NoError(t, err)
	res := rep.Results[0]

	assert.Equal(t, types.StatusStuck, res.FinalStatus)
	assert.LessOrEqual(t, res.RoundsTaken, cfg.StallThreshold+2,
		"an unproductive loop must not burn the whole round budget")
	require.NotEmpty(t, res.RemainingDiagnostics)
	assert.Equal(t, types.DiagWrongSignature, res.RemainingDiagnostics[0].Kind)
	assert.False(t, rep.OverallSuccess)

	for _, a := range res.Attempts {
		assert.Equal(t, types.ClassNoProgress, a.Classification)
	}
}

func TestHealConfidenceFloorBlocksRepair(t *testing.T) {
	// A malformed-call diagnostic without an expected form yields a 0.4
	// candidate: below the default floor it is withheld and reported.
	callGate := func(t *testing.T) gate.Gate {
		return gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
			if !strings.Contains(string(a.Source), `"running"`) {
				return gate.Verdict{Passed: true}, nil
			}
			tr, err := tree.Parse(ctx, a.Source)
			if err != nil {
				return gate.Verdict{}, err
			}
			defer tr.Close()
			call := findNodeType(tr.Root(), "call_expression")
			if call == nil {
				return gate.Verdict{}, &types.InfraError{ArtifactID: a.ID, Err: fmt.Errorf("no call found")}
			}
			return gate.Verdict{Passed: false, Diagnostics: []types.Diagnostic{{
				Kind:     types.DiagMalformedCall,
				Location: tree.PathOf(tr.Root(), call),
				Message:  "call must not take arguments",
				Severity: types.SeverityError,
			}}}, nil
		})
	}

	cfg := testConfig() // floor 0.5
	orch := New(callGate(t), nil, cfg)
	rep, err := orch.Heal(context.Background(), []types.Artifact{workerArtifact("w1")})
	require.NoError(t, err)
	res := rep.Results[0]

	assert.Equal(t, types.StatusStuck, res.FinalStatus)
	assert.Equal(t, 0, res.RoundsTaken, "nothing above the floor means nothing to try")
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, types.FixRewriteCall, res.Unresolved[0].Kind)
	assert.InDelta(t, 0.4, res.Unresolved[0].Confidence, 0.001)

	// The same scenario heals once the floor admits the candidate
	cfg.ConfidenceFloor = 0.2
	orch = New(callGate(t), nil, cfg)
	rep, err = orch.Heal(context.Background(), []types.Artifact{workerArtifact("w1")})
	require.NoError(t, err)
	assert.Equal(t, types.StatusHealthy, rep.Results[0].FinalStatus)
}

func TestHealExhaustsRoundBudget(t *testing.T) {
	// A gate that always wants one more import makes genuine progress every
	// round and still never passes: the round budget is the only bound.
	var round atomic.Int32
	g := gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
		n := int(round.Add(1))
		return gate.Verdict{Passed: false, Diagnostics: []types.Diagnostic{{
			Kind:     types.DiagMissingImport,
			Location: types.NodePath{{Type: "import_spec", Index: n}},
			Symbol:   fmt.Sprintf("dep%d", n),
			Message:  "one more dependency",
			Severity: types.SeverityError,
		}}}, nil
	})
	cfg := testConfig()
	cfg.MaxRounds = 3
	orch := New(g, nil, cfg)

	rep, err := orch.Heal(context.Background(), []types.Artifact{workerArtifact("w1")})
	require.NoError(t, err)
	res := rep.Results[0]

	assert.Equal(t, types.StatusExhausted, res.FinalStatus)
	assert.Equal(t, cfg.MaxRounds, res.RoundsTaken)
	assert.Len(t, res.Attempts, cfg.MaxRounds)
	assert.NotEmpty(t, res.RemainingDiagnostics)
	assert.False(t, res.InfraFailure)
}

func TestHealGateInfraFailure(t *testing.T) {
	var calls atomic.Int32
	g := gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
		calls.Add(1)
		return gate.Verdict{}, &types.InfraError{ArtifactID: a.ID, Err: fmt.Errorf("checker daemon down")}
	})
	cfg := testConfig()
	cfg.InfraRetries = 2
	orch := New(g, nil, cfg)

	rep, err := orch.Heal(context.Background(), []types.Artifact{workerArtifact("w1")})
	require.NoError(t, err, "a broken gate is a reported outcome, not a run error")
	res := rep.Results[0]

	assert.Equal(t, types.StatusExhausted, res.FinalStatus)
	assert.True(t, res.InfraFailure, "the report must not present a broken gate as unfixable code")
	assert.Equal(t, int32(cfg.InfraRetries+1), calls.Load(), "infra failures are retried")
	assert.False(t, rep.OverallSuccess)
}

func TestHealArtifactsAreIsolated(t *testing.T) {
	// Four artifacts healed concurrently; each gate verdict depends only on
	// the artifact it is given.
	g := gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
		switch a.ID {
		case "healthy-1", "healthy-2":
			return gate.Verdict{Passed: true}, nil
		case "repairable":
			if strings.Contains(string(a.Source), `"strconv"`) {
				return gate.Verdict{Passed: true}, nil
			}
			return gate.Verdict{Passed: false, Diagnostics: []types.Diagnostic{{
				Kind: types.DiagMissingImport, Symbol: "strconv",
				Message: "strconv is not imported", Severity: types.SeverityError,
			}}}, nil
		default:
			return gate.Verdict{}, &types.InfraError{ArtifactID: a.ID, Err: fmt.Errorf("down")}
		}
	})
	orch := New(g, nil, testConfig())

	artifacts := []types.Artifact{
		workerArtifact("healthy-1"),
		workerArtifact("repairable"),
		workerArtifact("broken-gate"),
		workerArtifact("healthy-2"),
	}
	rep, err := orch.Heal(context.Background(), artifacts)
	require.NoError(t, err)
	require.Len(t, rep.Results, 4)

	byID := make(map[string]types.HealingResult)
	for i, res := range rep.Results {
		assert.Equal(t, artifacts[i].ID, res.ArtifactID, "results keep input order")
		byID[res.ArtifactID] = res
	}
	assert.Equal(t, types.StatusHealthy, byID["healthy-1"].FinalStatus)
	assert.Equal(t, types.StatusHealthy, byID["healthy-2"].FinalStatus)
	assert.Equal(t, types.StatusHealthy, byID["repairable"].FinalStatus)
	assert.Equal(t, types.StatusExhausted, byID["broken-gate"].FinalStatus)
	assert.True(t, byID["broken-gate"].InfraFailure)
	assert.False(t, rep.OverallSuccess, "one failed artifact fails the run")
	assert.Equal(t, 1, rep.RoundsRun)
}

func TestHealCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := gateFunc(func(ctx context.Context, a types.Artifact) (gate.Verdict, error) {
		return gate.Verdict{Passed: true}, nil
	})
	orch := New(g, nil, testConfig())

	_, err := orch.Heal(ctx, []types.Artifact{workerArtifact("w1")})
	require.Error(t, err)
}
