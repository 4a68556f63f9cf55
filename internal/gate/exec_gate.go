package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"mend/internal/logging"
	"mend/internal/types"
)

// ArtifactIDEnv names the environment variable carrying the artifact ID to
// the gate subprocess.
const ArtifactIDEnv = "MEND_ARTIFACT_ID"

const defaultTimeout = 30 * time.Second

// ExecGate validates artifacts by running an external command. The artifact
// source is written to the command's stdin and the command prints a JSON
// Verdict on stdout.
//
// Exit status is deliberately not part of the protocol: many checkers exit
// non-zero on a failed check, which is a verdict, not a malfunction. The
// gate malfunctions only when it cannot be started, times out, or prints
// something that does not decode as a Verdict.
type ExecGate struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// NewExecGate builds a subprocess gate. A zero timeout selects the default.
func NewExecGate(command string, args []string, timeout time.Duration) *ExecGate {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ExecGate{Command: command, Args: args, Timeout: timeout}
}

// Validate runs the gate command on the artifact.
func (g *ExecGate) Validate(ctx context.Context, artifact types.Artifact) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.Command, g.Args...)
	cmd.Stdin = bytes.NewReader(artifact.Source)
	cmd.Env = append(os.Environ(), ArtifactIDEnv+"="+artifact.ID)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	logging.GateDebug("%s: gate %s ran in %v (exit err: %v)", artifact.ID, g.Command, time.Since(start), runErr)

	if ctx.Err() == context.DeadlineExceeded {
		return Verdict{}, &types.InfraError{
			ArtifactID: artifact.ID,
			Err:        fmt.Errorf("gate %s timed out after %v", g.Command, g.Timeout),
		}
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			// Could not even start or was killed
			return Verdict{}, &types.InfraError{
				ArtifactID: artifact.ID,
				Err:        fmt.Errorf("gate %s: %w", g.Command, runErr),
			}
		}
	}

	var v Verdict
	if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
		logging.GateError("%s: undecodable gate output (stderr: %s)", artifact.ID, truncate(stderr.String(), 512))
		return Verdict{}, &types.InfraError{
			ArtifactID: artifact.ID,
			Err:        fmt.Errorf("gate %s output is not a verdict: %w", g.Command, err),
		}
	}
	if err := CheckVerdict(artifact.ID, v); err != nil {
		return Verdict{}, err
	}

	logging.Gate("%s: v%d passed=%t with %d diagnostics", artifact.ID, artifact.Version, v.Passed, len(v.Diagnostics))
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
