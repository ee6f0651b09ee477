package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// supervised is the running thing behind a Handle: a child process or an
// in-process static file server.
type supervised interface {
	pid() int
	done() <-chan struct{}
	exitErr() error
	firstErrLine() string
	terminate() error
	kill() error
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, _ := b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

// cmdProcess supervises a child started with exec
type cmdProcess struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	doneCh chan struct{}
	err    error
}

func startCommand(cmd *exec.Cmd, output *tailBuffer) (*cmdProcess, error) {
	p := &cmdProcess{
		cmd:    cmd,
		stderr: newTailBuffer(16 * 1024),
		doneCh: make(chan struct{}),
	}
	cmd.Stdout = output
	cmd.Stderr = &teeWriter{a: p.stderr, b: output}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		p.err = cmd.Wait()
		close(p.doneCh)
	}()
	return p, nil
}

type teeWriter struct{ a, b *tailBuffer }

func (t *teeWriter) Write(p []byte) (int, error) {
	t.a.Write(p)
	return t.b.Write(p)
}

func (p *cmdProcess) pid() int              { return p.cmd.Process.Pid }
func (p *cmdProcess) done() <-chan struct{} { return p.doneCh }

func (p *cmdProcess) exitErr() error {
	select {
	case <-p.doneCh:
		if p.err == nil {
			return errors.New("exit status 0")
		}
		return p.err
	default:
		return nil
	}
}

func (p *cmdProcess) firstErrLine() string { return firstLine(p.stderr.String()) }
func (p *cmdProcess) terminate() error     { return signalGroup(p.cmd.Process, false) }
func (p *cmdProcess) kill() error          { return signalGroup(p.cmd.Process, true) }

// staticProcess serves a directory over HTTP inside this process
type staticProcess struct {
	srv    *http.Server
	doneCh chan struct{}
	grace  time.Duration
	mu     sync.Mutex
	err    error
}

func startStatic(dir string, port int, grace time.Duration) *staticProcess {
	p := &staticProcess{
		srv: &http.Server{
			Handler:           http.FileServer(http.Dir(dir)),
			ReadHeaderTimeout: 5 * time.Second,
		},
		doneCh: make(chan struct{}),
		grace:  grace,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		p.finish(err)
		return p
	}
	go func() {
		err := p.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		p.finish(err)
	}()
	return p
}

func (p *staticProcess) finish(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.doneCh)
}

func (p *staticProcess) pid() int              { return os.Getpid() }
func (p *staticProcess) done() <-chan struct{} { return p.doneCh }

func (p *staticProcess) exitErr() error {
	select {
	case <-p.doneCh:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.err == nil {
			return errors.New("static server closed")
		}
		return p.err
	default:
		return nil
	}
}

func (p *staticProcess) firstErrLine() string {
	if err := p.exitErr(); err != nil {
		return err.Error()
	}
	return ""
}

func (p *staticProcess) terminate() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.grace)
	defer cancel()
	if err := p.srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (p *staticProcess) kill() error {
	return p.srv.Close()
}
