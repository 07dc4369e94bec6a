// Package agenttest provides a scripted in-memory agent for tests.
package agenttest

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aki/agentd/internal/core/agent"
)

// Step is one scripted stream item. Exactly one of Event, Err or Wait is used.
type Step struct {
	Event agent.Event
	Err   error
	// Wait blocks Recv until the channel is closed or the context ends
	Wait <-chan struct{}
}

// Script produces the steps for a submission.
type Script func(prompt string) []Step

// Events builds a script that always replays the given events.
func Events(events ...agent.Event) Script {
	return func(string) []Step {
		steps := make([]Step, len(events))
		for i, ev := range events {
			steps[i] = Step{Event: ev}
		}
		return steps
	}
}

// Dialer is a fake agent.Dialer that counts every interaction.
type Dialer struct {
	Script Script
	// OpenErr is returned by Open when set
	OpenErr error

	mu          sync.Mutex
	opened      []agent.Options
	conns       []*Conn
	submissions atomic.Int64
}

var _ agent.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer replaying script on every submission.
func NewDialer(script Script) *Dialer {
	return &Dialer{Script: script}
}

// Open implements agent.Dialer.
func (d *Dialer) Open(ctx context.Context, opts agent.Options) (agent.Connection, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	c := &Conn{dialer: d}
	d.opened = append(d.opened, opts)
	d.conns = append(d.conns, c)
	return c, nil
}

// Submissions returns the number of prompts submitted across all connections.
func (d *Dialer) Submissions() int {
	return int(d.submissions.Load())
}

// Opened returns the options of every Open call.
func (d *Dialer) Opened() []agent.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]agent.Options(nil), d.opened...)
}

// Conns returns every connection opened so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Conn is a fake agent.Connection.
type Conn struct {
	dialer  *Dialer
	closed  atomic.Bool
	prompts []string
	mu      sync.Mutex
}

// Submit implements agent.Connection.
func (c *Conn) Submit(ctx context.Context, prompt string) (agent.Stream, error) {
	if c.closed.Load() {
		return nil, errors.New("connection closed")
	}
	c.dialer.submissions.Add(1)

	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	var steps []Step
	if c.dialer.Script != nil {
		steps = c.dialer.Script(prompt)
	}
	return &stream{ctx: ctx, steps: steps}, nil
}

// Close implements agent.Connection.
func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Prompts returns the prompts submitted on this connection.
func (c *Conn) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

type stream struct {
	ctx   context.Context
	steps []Step
	pos   int
}

func (s *stream) Recv() (agent.Event, error) {
	for {
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		if s.pos >= len(s.steps) {
			return nil, io.EOF
		}

		step := s.steps[s.pos]
		s.pos++

		switch {
		case step.Wait != nil:
			select {
			case <-step.Wait:
			case <-s.ctx.Done():
				return nil, s.ctx.Err()
			}
		case step.Err != nil:
			return nil, step.Err
		default:
			return step.Event, nil
		}
	}
}

func (s *stream) Close() error {
	return nil
}
