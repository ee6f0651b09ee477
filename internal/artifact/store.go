// Package artifact writes the per-run artifact tree and optionally mirrors it
// to an S3-compatible object store.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Koiiichi/symphony-lite/internal/filelock"
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/report"
)

// File names inside a run directory
const (
	RunFile         = "run.json"
	SummaryMarkdown = "summary.md"
	SummaryHTML     = "summary.html"
	ReportFile      = "report.json"
	InstructionFile = "instruction.md"
	FixFile         = "fix.md"
	ScreenshotsDir  = "screenshots"
)

// Store writes artifacts for a single run. Every path it produces lives
// under the run's artifact directory.
type Store struct {
	rc *models.RunContext
}

// NewStore creates a store for rc
func NewStore(rc *models.RunContext) *Store {
	return &Store{rc: rc}
}

// Dir returns the run's artifact directory
func (s *Store) Dir() string {
	return s.rc.ArtifactDir
}

// PassDir returns the directory of pass n, creating it if needed
func (s *Store) PassDir(n int) (string, error) {
	dir := s.rc.PassDir(n)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create pass directory: %w", err)
	}
	return dir, nil
}

// WriteInstruction stores the instruction sent to generation in pass n
func (s *Store) WriteInstruction(n int, text string) (string, error) {
	path := filepath.Join(s.rc.PassDir(n), InstructionFile)
	return path, filelock.AtomicWrite(path, []byte(text))
}

// WriteFix stores the fix instruction synthesized after pass n
func (s *Store) WriteFix(n int, text string) (string, error) {
	path := filepath.Join(s.rc.PassDir(n), FixFile)
	return path, filelock.AtomicWrite(path, []byte(text))
}

// WriteReport copies the report's screenshots into pass_n/screenshots and
// stores the report with screenshot paths rewritten relative to the run
// directory. Screenshots that cannot be copied are dropped from the stored
// report and reported in the returned error; the report is written regardless.
func (s *Store) WriteReport(n int, r *models.VerificationReport) (*models.VerificationReport, error) {
	if r == nil {
		return nil, errors.New("write report: nil report")
	}
	passDir, err := s.PassDir(n)
	if err != nil {
		return nil, err
	}

	stored := r.Normalized()
	var copyErrs []error
	used := make(map[string]int)
	kept := make([]models.Screenshot, 0, len(stored.Screenshots))
	for i, shot := range stored.Screenshots {
		name := uniqueName(screenshotName(shot.Label, i), used)
		dst := filepath.Join(passDir, ScreenshotsDir, name)

		src := shot.Path
		if src != "" && !filepath.IsAbs(src) {
			src = filepath.Join(passDir, src)
		}
		if err := copyFile(src, dst); err != nil {
			copyErrs = append(copyErrs, fmt.Errorf("screenshot %q: %w", shot.Label, err))
			continue
		}
		rel, err := filepath.Rel(s.rc.ArtifactDir, dst)
		if err != nil {
			rel = dst
		}
		shot.Path = filepath.ToSlash(rel)
		if shot.Timestamp == "" {
			shot.Timestamp = time.Now().UTC().Format(time.RFC3339)
		}
		kept = append(kept, shot)
	}
	stored.Screenshots = kept

	data, err := report.Serialize(&stored)
	if err != nil {
		return nil, err
	}
	if err := filelock.AtomicWrite(filepath.Join(passDir, ReportFile), append(data, '\n')); err != nil {
		return nil, err
	}
	return &stored, errors.Join(copyErrs...)
}

// runFile is the on-disk shape of run.json
type runFile struct {
	Context *models.RunContext `json:"context"`
	Outcome *models.RunOutcome `json:"outcome,omitempty"`
}

// WriteRun stores the run context and, once known, the terminal outcome
func (s *Store) WriteRun(outcome *models.RunOutcome) error {
	return filelock.AtomicWriteJSON(filepath.Join(s.rc.ArtifactDir, RunFile), runFile{
		Context: s.rc,
		Outcome: outcome,
	})
}

func screenshotName(label string, index int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = fmt.Sprintf("screenshot_%d", index+1)
	}
	return name
}

func uniqueName(base string, used map[string]int) string {
	used[base]++
	if n := used[base]; n > 1 {
		return fmt.Sprintf("%s_%d.png", base, n)
	}
	return base + ".png"
}

func copyFile(src, dst string) error {
	if src == "" {
		return errors.New("empty path")
	}
	if same, _ := samePath(src, dst); same {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func samePath(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ai, bi), nil
}
