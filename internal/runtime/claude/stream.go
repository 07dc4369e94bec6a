package claude

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aki/agentd/internal/core/agent"
	"github.com/aki/agentd/internal/core/logger"
)

const (
	maxLineSize   = 16 << 20
	stderrTailLen = 4096
)

// stream reads one CLI process's stdout as agent events.
type stream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	grace  time.Duration
	logger logger.Logger

	lines  chan []byte
	quit   chan struct{}
	exited chan struct{}

	// set by pump before exited is closed
	scanErr error
	waitErr error

	pending     []agent.Event
	sawTerminal atomic.Bool
	finished    bool

	closeOnce sync.Once
	termOnce  sync.Once
}

func startStream(ctx context.Context, cmd *exec.Cmd, grace time.Duration, log logger.Logger) (*stream, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailLen}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	s := &stream{
		ctx:    ctx,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		grace:  grace,
		logger: log,
		lines:  make(chan []byte),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.pump()
	go s.watch()
	return s, nil
}

// pump forwards stdout lines until the process exits, then reaps it.
func (s *stream) pump() {
	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	quitting := false
	for !quitting && scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case s.lines <- line:
		case <-s.quit:
			quitting = true
		}
	}
	if !quitting {
		s.scanErr = scanner.Err()
	}

	// Keep the pipe drained so the process can exit.
	_, _ = io.Copy(io.Discard, s.stdout)
	s.waitErr = s.cmd.Wait()
	close(s.exited)
}

func (s *stream) watch() {
	select {
	case <-s.ctx.Done():
		s.terminate()
	case <-s.exited:
	}
}

// terminate stops the process group, escalating to SIGKILL after the grace period.
func (s *stream) terminate() {
	s.termOnce.Do(func() {
		select {
		case <-s.exited:
			return
		default:
		}

		if err := signalStop(s.cmd); err != nil {
			s.logger.Debug("failed to stop agent process", "error", err)
		}

		timer := time.NewTimer(s.grace)
		defer timer.Stop()
		select {
		case <-s.exited:
		case <-timer.C:
			s.logger.Warn("agent process did not stop, killing", "pid", s.cmd.Process.Pid)
			_ = signalKill(s.cmd)
		}
	})
}

// Recv implements agent.Stream.
func (s *stream) Recv() (agent.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			if ev.Kind() == agent.KindTerminal {
				s.sawTerminal.Store(true)
			}
			return ev, nil
		}
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		if s.finished {
			return nil, io.EOF
		}

		select {
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case line := <-s.lines:
			events, err := s.decode(line)
			if err != nil {
				return nil, err
			}
			s.pending = events
		case <-s.exited:
			s.finished = true
			return nil, s.exitError()
		}
	}
}

func (s *stream) decode(line []byte) ([]agent.Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	if line[0] != '{' {
		s.logger.Debug("skipping non-json agent output", "line", agent.Truncate(string(line), 200))
		return nil, nil
	}
	return parseLine(line)
}

func (s *stream) exitError() error {
	if s.scanErr != nil {
		return agent.ErrAgentStream{Message: fmt.Sprintf("failed to read agent output: %v", s.scanErr)}
	}
	if s.waitErr != nil && !s.sawTerminal.Load() {
		msg := fmt.Sprintf("agent process exited: %v", s.waitErr)
		if tail := strings.TrimSpace(s.stderr.String()); tail != "" {
			msg += ": " + tail
		}
		return agent.ErrAgentStream{Message: msg}
	}
	return io.EOF
}

// Close implements agent.Stream. It waits for the process to be reaped.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.sawTerminal.Load() {
			// The CLI exits on its own after the result line.
			go func() {
				timer := time.NewTimer(s.grace)
				defer timer.Stop()
				select {
				case <-s.exited:
				case <-timer.C:
					s.terminate()
				}
			}()
		} else {
			go s.terminate()
		}
		<-s.exited
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
