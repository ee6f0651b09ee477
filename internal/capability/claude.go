package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ClaudeGenerator runs the claude CLI non-interactively in the project root
type ClaudeGenerator struct {
	// ClaudePath is the claude binary, "claude" when empty
	ClaudePath string

	// Model optionally pins the model
	Model string

	// TmpRoot holds the per-run clean TMPDIR, os.TempDir() when empty
	TmpRoot string
}

// NewClaudeGenerator creates a generator using the given binary and model
func NewClaudeGenerator(claudePath, model string) *ClaudeGenerator {
	return &ClaudeGenerator{ClaudePath: claudePath, Model: model}
}

// claudeEnvelope is the --output-format json result object
type claudeEnvelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	NumTurns  int    `json:"num_turns"`
}

// Generate invokes claude with the instruction. A non-zero exit, a timeout or
// an error envelope returns an error wrapping ErrGeneration.
func (g *ClaudeGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("%w: instruction is required", ErrGeneration)
	}

	args := []string{"-p", req.Instruction, "--output-format", "json"}
	if req.StepBudget > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.StepBudget))
	}
	if g.Model != "" {
		args = append(args, "--model", g.Model)
	}
	args = append(args, "--permission-mode", "bypassPermissions")
	// Disable hooks for automation
	args = append(args, "--settings", `{"disableAllHooks": true}`)

	claudePath := g.ClaudePath
	if claudePath == "" {
		claudePath = "claude"
	}

	cmd := exec.CommandContext(ctx, claudePath, args...)
	cmd.Dir = req.ProjectRoot
	cmd.WaitDelay = 5 * time.Second
	tmp, err := g.cleanTmpDir(req.RunID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	cmd.Env = withEnv(os.Environ(), "TMPDIR", tmp)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeneration, ctx.Err())
		}
		return nil, fmt.Errorf("%w: claude invocation failed: %v (output: %s)",
			ErrGeneration, err, truncate(firstNonEmpty(stderr.String(), stdout.String()), 500))
	}

	return parseEnvelope(stdout.Bytes())
}

// cleanTmpDir returns a dedicated TMPDIR for the run. Editor socket files in
// the shared temp dir crash the CLI when --settings is used.
func (g *ClaudeGenerator) cleanTmpDir(runID string) (string, error) {
	root := g.TmpRoot
	if root == "" {
		root = os.TempDir()
	}
	if runID == "" {
		runID = "default"
	}
	dir := filepath.Join(root, "symphony-claude", runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create clean tmpdir: %w", err)
	}
	return dir, nil
}

func parseEnvelope(out []byte) (*GenerateResult, error) {
	var env claudeEnvelope
	if err := json.Unmarshal(out, &env); err != nil {
		extracted := extractJSON(string(out))
		if extracted == "" || json.Unmarshal([]byte(extracted), &env) != nil {
			// Exit 0 without an envelope: the CLI ran, keep its text.
			return &GenerateResult{Applied: true, Summary: truncate(strings.TrimSpace(string(out)), 2000)}, nil
		}
	}

	if env.IsError && env.Subtype != "error_max_turns" {
		return nil, fmt.Errorf("%w: claude reported %s: %s", ErrGeneration, orDefault(env.Subtype, "error"), truncate(env.Result, 500))
	}

	summary := env.Result
	if env.Subtype == "error_max_turns" {
		summary = strings.TrimSpace(fmt.Sprintf("step budget reached after %d turns. %s", env.NumTurns, env.Result))
	}
	return &GenerateResult{Applied: true, Summary: truncate(summary, 2000)}, nil
}

// extractJSON returns the substring between the first '{' and the last '}'
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return ""
}

func withEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// truncate returns s truncated to maxLen characters with "..." suffix if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
