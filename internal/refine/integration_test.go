package refine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koiiichi/symphony-lite/internal/capability"
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/runctx"
	"github.com/Koiiichi/symphony-lite/internal/server"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestRun_StaticFrontendEndToEnd drives a real manager serving the project's
// frontend directory. The generator edits the page and the verifier reads it
// back over HTTP, so the second pass sees the fix.
func TestRun_StaticFrontendEndToEnd(t *testing.T) {
	project := t.TempDir()
	index := filepath.Join(project, "frontend", "index.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(index), 0755))
	require.NoError(t, os.WriteFile(index, []byte(`<main class="off-grid"><h1>Hi</h1></main>`), 0644))

	generator := capability.GeneratorFunc(func(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResult, error) {
		if !strings.Contains(req.Instruction, "Layout Alignment") {
			return &capability.GenerateResult{Applied: false, Summary: "nothing to do"}, nil
		}
		err := os.WriteFile(filepath.Join(req.ProjectRoot, "frontend", "index.html"), []byte(`<main class="grid"><h1>Hi</h1></main>`), 0644)
		return &capability.GenerateResult{Applied: err == nil, Summary: "aligned main"}, err
	})

	verifier := capability.VerifierFunc(func(ctx context.Context, req capability.VerifyRequest) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.BaseURL+"/index.html", nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		alignment, status := 0.6, models.StatusNeedsFix
		if strings.Contains(string(body), `class="grid"`) {
			alignment, status = 0.97, models.StatusPass
		}
		return []byte(fmt.Sprintf(`{"status":%q,"alignment":%.2f,"spacing":0.95,"contrast":0.9,"visible_sections":["main"]}`,
			status, alignment)), nil
	})

	port := freePort(t)
	c, err := New(Options{
		Goal:                "Align the landing page",
		ProjectRoot:         project,
		MaxPasses:           3,
		StepBudget:          5,
		Thresholds:          models.DefaultThresholds(false, false),
		Servers:             []server.Config{{Kind: models.ServerFrontend, StaticDir: "frontend", Port: port}},
		ReadinessTimeout:    5 * time.Second,
		PollInterval:        50 * time.Millisecond,
		StopGrace:           time.Second,
		GenerationTimeout:   5 * time.Second,
		VerificationTimeout: 5 * time.Second,
	}, Deps{
		Allocator: runctx.NewAllocator(filepath.Join(t.TempDir(), "runs")),
		Generator: generator,
		Verifier:  verifier,
		Logger:    &recordingLogger{},
	})
	require.NoError(t, err)

	outcome, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAccepted, outcome.Status)
	require.Len(t, outcome.Passes, 2)
	assert.False(t, outcome.Passes[0].GenerationApplied)
	assert.True(t, outcome.Passes[1].GenerationApplied)
	assert.InDelta(t, 0.97, outcome.FinalReport.Alignment, 1e-9)

	// The static server is gone once Run returns.
	_, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
	assert.Error(t, err)
}
