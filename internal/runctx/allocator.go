// Package runctx allocates isolated run contexts under an artifact root.
package runctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Koiiichi/symphony-lite/internal/filelock"
	"github.com/Koiiichi/symphony-lite/internal/models"
)

// ErrAllocation is returned when the artifact root cannot hold a new run
var ErrAllocation = errors.New("run allocation failed")

// IDLayout is the timestamp layout of run ids
const IDLayout = "20060102_150405"

const lockName = ".allocate.lock"

// Allocator hands out unique run ids and artifact directories. Ids are
// unique across goroutines and across processes sharing the same root.
type Allocator struct {
	root    string
	now     func() time.Time
	timeout time.Duration
}

// NewAllocator creates an allocator rooted at artifactRoot
func NewAllocator(artifactRoot string) *Allocator {
	return &Allocator{
		root:    artifactRoot,
		now:     time.Now,
		timeout: 30 * time.Second,
	}
}

// WithClock replaces the clock used for ids
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

// Request carries the run parameters recorded in the context
type Request struct {
	ProjectRoot string
	Ports       models.Ports
	MaxPasses   int
}

// Allocate claims a fresh run id and creates its artifact directory. The id
// is run_<UTC timestamp>; a run started in the same second as an existing
// one gets the next free _<n> suffix.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*models.RunContext, error) {
	projectRoot, err := filepath.Abs(req.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	root, err := filepath.Abs(a.root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve artifact root: %v", ErrAllocation, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	lock := filelock.NewFileLock(filepath.Join(root, lockName))
	if err := lock.LockContext(lockCtx, filelock.DefaultRetryDelay); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	defer lock.Unlock()

	started := a.now().UTC()
	base := "run_" + started.Format(IDLayout)

	for n := 0; ; n++ {
		id := base
		if n > 0 {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		dir := filepath.Join(root, id)

		err := os.Mkdir(dir, 0755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
		}

		maxPasses := min(max(req.MaxPasses, 1), models.MaxPassesLimit)
		return &models.RunContext{
			RunID:       id,
			ArtifactDir: dir,
			ProjectRoot: projectRoot,
			Ports:       req.Ports,
			MaxPasses:   maxPasses,
			PassIndex:   1,
			StartedAt:   started,
		}, nil
	}
}
