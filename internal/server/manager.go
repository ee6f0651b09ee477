// Package server starts, probes and stops the child servers of a run.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// Polling and shutdown defaults
const (
	DefaultMinInterval  = 100 * time.Millisecond
	DefaultMaxInterval  = 2 * time.Second
	DefaultGrace        = 5 * time.Second
	DefaultProbeTimeout = 2 * time.Second
)

// Logger is the subset of logging the manager needs
type Logger interface {
	LogServer(kind models.ServerKind, event, detail string)
	Warnf(format string, args ...interface{})
}

// Config describes one server to supervise
type Config struct {
	Kind       models.ServerKind
	Command    []string // argv; "{port}" is replaced with Port
	Dir        string   // working directory, relative to the project root
	Port       int
	HealthPath string            // probed path, "/" when empty
	Env        map[string]string // extra environment
	StaticDir  string            // serve this directory in-process instead of running Command
}

// Handle is a supervised server. It is owned by the Manager that started it.
type Handle struct {
	Kind      models.ServerKind
	BaseURL   string
	StartedAt time.Time

	healthURL string
	proc      supervised
	output    *tailBuffer

	mu      sync.Mutex
	ready   bool
	stopped bool
}

// Ready reports whether readiness has been observed and the handle is live
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready && !h.stopped
}

// PID returns the process id of the server, or 0 when unknown
func (h *Handle) PID() int {
	if h.proc == nil {
		return 0
	}
	return h.proc.pid()
}

// Output returns the tail of the server's combined output
func (h *Handle) Output() string {
	if h.output == nil {
		return ""
	}
	return h.output.String()
}

// Manager supervises the servers of a single run
type Manager struct {
	projectRoot string
	logger      Logger
	client      *http.Client
	minInterval time.Duration
	maxInterval time.Duration
	grace       time.Duration

	mu      sync.Mutex
	handles []*Handle
}

// Option customizes a Manager
type Option func(*Manager)

// WithLogger sets the logger for lifecycle events
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithGrace sets the time between SIGTERM and SIGKILL
func WithGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithPollBounds sets the readiness polling floor and ceiling
func WithPollBounds(minInterval, maxInterval time.Duration) Option {
	return func(m *Manager) {
		if minInterval > 0 {
			m.minInterval = minInterval
		}
		if maxInterval >= m.minInterval {
			m.maxInterval = maxInterval
		}
	}
}

// NewManager creates a manager for servers rooted at projectRoot
func NewManager(projectRoot string, opts ...Option) *Manager {
	m := &Manager{
		projectRoot: projectRoot,
		client:      &http.Client{Timeout: DefaultProbeTimeout},
		minInterval: DefaultMinInterval,
		maxInterval: DefaultMaxInterval,
		grace:       DefaultGrace,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the server described by cfg and returns immediately with
// a handle that is not yet ready.
func (m *Manager) Start(cfg Config) (*Handle, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%s server: invalid port %d", cfg.Kind, cfg.Port)
	}

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/"
	}
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)

	h := &Handle{
		Kind:      cfg.Kind,
		BaseURL:   base,
		StartedAt: time.Now(),
		healthURL: base + healthPath,
		output:    newTailBuffer(64 * 1024),
	}

	switch {
	case cfg.StaticDir != "":
		dir := m.resolve(cfg.StaticDir)
		h.proc = startStatic(dir, cfg.Port, m.grace)
		m.logServer(cfg.Kind, "started", fmt.Sprintf("static %s on %s", dir, base))

	case len(cfg.Command) > 0:
		port := strconv.Itoa(cfg.Port)
		args := make([]string, len(cfg.Command))
		for i, a := range cfg.Command {
			args[i] = strings.ReplaceAll(a, "{port}", port)
		}

		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = m.resolve(cfg.Dir)
		cmd.Env = append(os.Environ(), "PORT="+port)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+strings.ReplaceAll(v, "{port}", port))
		}
		cmd.WaitDelay = m.grace

		proc, err := startCommand(cmd, h.output)
		if err != nil {
			return nil, fmt.Errorf("start %s server %q: %w", cfg.Kind, strings.Join(args, " "), err)
		}
		h.proc = proc
		m.logServer(cfg.Kind, "started", fmt.Sprintf("pid %d: %s", proc.pid(), strings.Join(args, " ")))

	default:
		return nil, fmt.Errorf("%s server: no command configured", cfg.Kind)
	}

	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	return h, nil
}

func (m *Manager) resolve(dir string) string {
	if dir == "" {
		return m.projectRoot
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(m.projectRoot, dir)
}

// AwaitReady polls the handle's health URL until it answers with a status
// below 500. The interval starts at interval, grows by half after each miss
// up to the manager's ceiling, and never drops below its floor. The total
// wait never exceeds timeout. An exit of the server during the wait fails
// immediately with ErrProcessExited. On failure the server is stopped.
func (m *Manager) AwaitReady(ctx context.Context, h *Handle, timeout, interval time.Duration) (*Handle, error) {
	if h == nil || h.proc == nil {
		return nil, errors.New("await ready: nil handle")
	}

	start := time.Now()
	deadline := start.Add(timeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	wait := max(interval, m.minInterval)
	limiter := rate.NewLimiter(rate.Every(m.minInterval), 1)

	for {
		if err := limiter.Wait(waitCtx); err != nil {
			break
		}
		select {
		case <-h.proc.done():
			return nil, m.fail(h, ErrProcessExited, start)
		default:
		}

		if m.probe(waitCtx, h.healthURL) {
			h.mu.Lock()
			h.ready = true
			h.mu.Unlock()
			m.logServer(h.Kind, "ready", fmt.Sprintf("%s after %s", h.healthURL, time.Since(start).Round(time.Millisecond)))
			return h, nil
		}

		timer := time.NewTimer(min(wait, time.Until(deadline)))
		select {
		case <-waitCtx.Done():
			timer.Stop()
		case <-h.proc.done():
			timer.Stop()
			return nil, m.fail(h, ErrProcessExited, start)
		case <-timer.C:
		}
		if waitCtx.Err() != nil {
			break
		}
		wait = min(wait*3/2, m.maxInterval)
	}

	if ctx.Err() != nil {
		m.Stop(h)
		return nil, fmt.Errorf("await %s server: %w", h.Kind, ctx.Err())
	}
	return nil, m.fail(h, ErrReadinessTimeout, start)
}

func (m *Manager) fail(h *Handle, cause error, start time.Time) error {
	line := h.proc.firstErrLine()
	if line == "" && errors.Is(cause, ErrProcessExited) {
		if err := h.proc.exitErr(); err != nil {
			line = err.Error()
		}
	}
	err := &ReadinessError{
		Kind:      h.Kind,
		URL:       h.healthURL,
		Waited:    time.Since(start),
		FirstLine: line,
		Err:       cause,
	}
	m.logServer(h.Kind, "failed", err.Error())
	m.Stop(h)
	return err
}

func (m *Manager) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Stop terminates the server: SIGTERM to its process group, then SIGKILL
// once the grace period elapses. Stopping an already stopped or never
// ready handle is a no-op.
func (m *Manager) Stop(h *Handle) error {
	if h == nil || h.proc == nil {
		return nil
	}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.ready = false
	h.mu.Unlock()

	select {
	case <-h.proc.done():
		m.logServer(h.Kind, "stopped", "already exited")
		return nil
	default:
	}

	if err := h.proc.terminate(); err != nil {
		m.warnf("terminate %s server: %v", h.Kind, err)
	}

	timer := time.NewTimer(m.grace)
	defer timer.Stop()
	select {
	case <-h.proc.done():
		m.logServer(h.Kind, "stopped", "terminated")
		return nil
	case <-timer.C:
	}

	if err := h.proc.kill(); err != nil {
		m.warnf("kill %s server: %v", h.Kind, err)
	}
	killTimer := time.NewTimer(m.grace)
	defer killTimer.Stop()
	select {
	case <-h.proc.done():
		m.logServer(h.Kind, "stopped", "killed after grace period")
		return nil
	case <-killTimer.C:
		return fmt.Errorf("%s server (pid %d) did not exit after SIGKILL", h.Kind, h.PID())
	}
}

// StopAll stops every handle in reverse start order and returns the
// joined errors.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	handles := make([]*Handle, len(m.handles))
	copy(handles, m.handles)
	m.mu.Unlock()

	var errs []error
	for i := len(handles) - 1; i >= 0; i-- {
		if err := m.Stop(handles[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handles returns the handles started so far
func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Handle, len(m.handles))
	copy(out, m.handles)
	return out
}

func (m *Manager) logServer(kind models.ServerKind, event, detail string) {
	if m.logger != nil {
		m.logger.LogServer(kind, event, detail)
	}
}

func (m *Manager) warnf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Warnf(format, args...)
	}
}
