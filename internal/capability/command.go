package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandVerifier runs an external verifier command and returns its stdout
// as the raw report. Arguments may use the placeholders {base_url},
// {run_id}, {artifact_dir} and {pass}; the same values are exported as
// SYMPHONY_BASE_URL, SYMPHONY_RUN_ID, SYMPHONY_ARTIFACT_DIR and SYMPHONY_PASS.
type CommandVerifier struct {
	Command []string
	Dir     string
}

// NewCommandVerifier creates a verifier for the given argv template
func NewCommandVerifier(command []string, dir string) *CommandVerifier {
	return &CommandVerifier{Command: command, Dir: dir}
}

// Verify runs the command. A non-zero exit or an empty stdout returns an
// error wrapping ErrVerification.
func (v *CommandVerifier) Verify(ctx context.Context, req VerifyRequest) ([]byte, error) {
	if len(v.Command) == 0 {
		return nil, fmt.Errorf("%w: no verifier command configured", ErrVerification)
	}

	replacer := strings.NewReplacer(
		"{base_url}", req.BaseURL,
		"{run_id}", req.RunID,
		"{artifact_dir}", req.ArtifactDir,
		"{pass}", strconv.Itoa(req.PassIndex),
	)
	args := make([]string, len(v.Command))
	for i, a := range v.Command {
		args[i] = replacer.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = v.Dir
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(),
		"SYMPHONY_BASE_URL="+req.BaseURL,
		"SYMPHONY_RUN_ID="+req.RunID,
		"SYMPHONY_ARTIFACT_DIR="+req.ArtifactDir,
		"SYMPHONY_PASS="+strconv.Itoa(req.PassIndex),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerification, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: verifier exited with code %d: %s",
				ErrVerification, exitErr.ExitCode(), truncate(firstNonEmpty(stderr.String()), 500))
		}
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: verifier produced no output", ErrVerification)
	}
	return out, nil
}
