package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mend/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "mend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleReport(runID string, started time.Time) types.HealingReport {
	diag := types.Diagnostic{
		Kind:     types.DiagWrongSignature,
		Location: types.NodePath{{Type: "function_declaration", Index: 2}},
		Symbol:   "run",
		Message:  "run has the wrong signature",
		Severity: types.SeverityError,
	}
	fix, _ := types.NewFixCandidate(diag,
		types.NodePath{{Type: "function_declaration", Index: 2}},
		"func run(ctx context.Context) error { return nil }", 0.9, 7)

	return types.HealingReport{
		RunID:          runID,
		OverallSuccess: false,
		RoundsRun:      2,
		Started:        started,
		Finished:       started.Add(3 * time.Second),
		// Results in artifact-ID order, matching how GetReport returns them
		Results: []types.HealingResult{
			{
				ArtifactID:           "pkg/server.go",
				FinalStatus:          types.StatusStuck,
				RoundsTaken:          2,
				RemainingDiagnostics: []types.Diagnostic{diag},
				Unresolved:           []types.FixCandidate{fix},
				Attempts: []types.HealingAttempt{
					{Round: 1, VersionBefore: 0, VersionAfter: 1, Classification: types.ClassNoProgress, DiscardedStale: 1},
					{Round: 2, VersionBefore: 1, VersionAfter: 2, Classification: types.ClassNoProgress},
				},
			},
			{
				ArtifactID:  "pkg/worker.go",
				FinalStatus: types.StatusHealthy,
				RoundsTaken: 1,
				Attempts: []types.HealingAttempt{{
					Round:          1,
					VersionBefore:  0,
					VersionAfter:   1,
					FixesApplied:   []types.FixCandidate{fix},
					Classification: types.ClassProgress,
				}},
			},
		},
	}
}

func TestSaveAndGetReportRoundTrip(t *testing.T) {
	st := openTestStore(t)
	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	report := sampleReport("run-1", started)

	require.NoError(t, st.SaveReport(report))

	got, err := st.GetReport("run-1")
	require.NoError(t, err)

	// SQLite may round-trip times through a different wall representation
	opts := cmpopts.EquateApproxTime(time.Second)
	if diff := cmp.Diff(report, got, opts); diff != "" {
		t.Errorf("report round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetLatestReport(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.SaveReport(sampleReport("run-old", base)))
	require.NoError(t, st.SaveReport(sampleReport("run-new", base.Add(time.Hour))))

	got, err := st.GetReport("latest")
	require.NoError(t, err)
	assert.Equal(t, "run-new", got.RunID)
}

func TestGetReportUnknownRun(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetReport("no-such-run")
	assert.Error(t, err)

	_, err = st.GetReport("latest")
	assert.Error(t, err, "latest on an empty store is an error")
}

func TestListRuns(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.SaveReport(sampleReport("run-a", base)))
	require.NoError(t, st.SaveReport(sampleReport("run-b", base.Add(time.Minute))))

	runs, err := st.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID, "newest first")
	assert.Equal(t, "run-a", runs[1].RunID)
	assert.Equal(t, 2, runs[0].Artifacts)

	runs, err = st.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSaveReportRejectsDuplicateRunID(t *testing.T) {
	st := openTestStore(t)
	report := sampleReport("run-1", time.Now())
	require.NoError(t, st.SaveReport(report))
	assert.Error(t, st.SaveReport(report), "run IDs are unique")
}
