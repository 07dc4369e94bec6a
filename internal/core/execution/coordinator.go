// Package execution runs prompts against a session's agent.
//
// The Coordinator serializes executions per session, refuses work when the
// workspace is over quota, opens the agent connection on first use and
// relays agent events to the caller as they arrive. Every execution ends
// with exactly one terminal update and one accounting step.
package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aki/agentd/internal/core/agent"
	"github.com/aki/agentd/internal/core/logger"
	"github.com/aki/agentd/internal/core/session"
	"github.com/aki/agentd/internal/core/workspace"
)

// Coordinator executes prompts on sessions of a registry.
type Coordinator struct {
	registry *session.Registry
	store    *workspace.Store
	dialer   agent.Dialer
	base     agent.Options
	logger   logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	nextID uint64
	active map[string]map[uint64]context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithAgentOptions sets the connection options shared by every session.
// Working directory and directory bounds are always the session workspace.
func WithAgentOptions(opts agent.Options) Option {
	return func(c *Coordinator) {
		c.base = opts
	}
}

// NewCoordinator creates a Coordinator opening connections with dialer.
func NewCoordinator(registry *session.Registry, dialer agent.Dialer, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: registry,
		store:    registry.Store(),
		dialer:   dialer,
		base:     agent.Options{PermissionMode: agent.PermissionDontAsk},
		logger:   logger.Nop(),
		now:      registry.Now,
		active:   make(map[string]map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Sessions run unattended, so the profile never prompts.
	c.base.PermissionMode = agent.PermissionDontAsk
	return c
}

// ExecuteOwner runs prompt on owner's session, creating it if needed. If the
// session is reset while the execution waits for it, the execution moves to
// the replacement session once.
func (c *Coordinator) ExecuteOwner(ctx context.Context, owner, prompt string, sink Sink) Result {
	for attempt := 0; ; attempt++ {
		sess, err := c.registry.GetOrCreate(ctx, owner)
		if err != nil {
			return c.emit(sink, resolveFailure(ctx, "", err))
		}
		res, replaced := c.execute(ctx, sess, prompt, sink, attempt == 0)
		if !replaced {
			return res
		}
		c.logger.Debug("session replaced while queued, retrying", "owner", owner, "session_id", sess.ID())
	}
}

// ExecuteID runs prompt on the live session with the given id.
func (c *Coordinator) ExecuteID(ctx context.Context, sessionID, prompt string, sink Sink) Result {
	sess, err := c.registry.LookupID(sessionID)
	if err != nil {
		return c.emit(sink, resolveFailure(ctx, sessionID, err))
	}
	return c.Execute(ctx, sess, prompt, sink)
}

func resolveFailure(ctx context.Context, sessionID string, err error) Result {
	res := Result{SessionID: sessionID, Err: err}

	var (
		notFound session.ErrNotFound
		ioErr    workspace.ErrWorkspaceIO
	)
	switch {
	case ctx.Err() != nil:
		res.Outcome, res.Err = OutcomeCancelled, ErrCancelled
	case errors.As(err, &notFound):
		res.Outcome = OutcomeNotFound
	case errors.As(err, &ioErr):
		res.Outcome = OutcomeWorkspaceIO
	default:
		res.Outcome = OutcomeFailed
	}
	return res
}

// Execute runs prompt on sess and relays progress to sink. Executions on one
// session run one at a time in arrival order. Errors are reported in the
// Result, never returned separately.
func (c *Coordinator) Execute(ctx context.Context, sess *session.Session, prompt string, sink Sink) Result {
	res, _ := c.execute(ctx, sess, prompt, sink, false)
	return res
}

// execute runs one execution. With retryable set, an execution that finds
// its session retired before dispatch reports replaced and sends no
// terminal update, leaving the caller to retry on the new session.
func (c *Coordinator) execute(ctx context.Context, sess *session.Session, prompt string, sink Sink, retryable bool) (Result, bool) {
	if sink == nil {
		sink = Discard
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := c.track(sess.ID(), cancel)
	defer c.untrack(sess.ID(), id)

	log := logger.ForSession(c.logger, sess.ID(), sess.OwnerKey())

	if err := sess.Acquire(ctx); err != nil {
		log.Debug("execution cancelled while queued")
		return c.emit(sink, Result{SessionID: sess.ID(), Outcome: OutcomeCancelled, Err: ErrCancelled}), false
	}
	defer sess.Release()

	res := c.run(ctx, sess, prompt, sink, log)
	if retryable && res.Outcome == OutcomeNotFound && !res.Dispatched {
		return res, true
	}
	c.finalize(sess, &res, log)
	return c.emit(sink, res), false
}

// Cancel cancels every queued and running execution of a session. It
// reports whether any execution was found.
func (c *Coordinator) Cancel(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles := c.active[sessionID]
	for _, cancel := range handles {
		cancel()
	}
	return len(handles) > 0
}

// Active returns the number of queued and running executions of a session.
func (c *Coordinator) Active(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active[sessionID])
}

func (c *Coordinator) track(sessionID string, cancel context.CancelFunc) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	handles, ok := c.active[sessionID]
	if !ok {
		handles = make(map[uint64]context.CancelFunc)
		c.active[sessionID] = handles
	}
	handles[c.nextID] = cancel
	return c.nextID
}

func (c *Coordinator) untrack(sessionID string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles := c.active[sessionID]
	delete(handles, id)
	if len(handles) == 0 {
		delete(c.active, sessionID)
	}
}

// run performs one execution under the session's execution lock.
func (c *Coordinator) run(ctx context.Context, sess *session.Session, prompt string, sink Sink, log logger.Logger) Result {
	res := Result{SessionID: sess.ID(), Tools: make(map[string]int)}

	if sess.Retired() {
		res.Outcome, res.Err = OutcomeNotFound, session.ErrNotFound{Key: sess.ID()}
		return res
	}
	if ctx.Err() != nil {
		res.Outcome, res.Err = OutcomeCancelled, ErrCancelled
		return res
	}

	size, err := c.store.Size(sess.WorkspacePath())
	if err != nil {
		res.Outcome, res.Err = OutcomeWorkspaceIO, err
		return res
	}
	if quota := c.store.Quota(); quota > 0 && size >= quota {
		log.Info("execution refused, workspace over quota", "size", size, "quota", quota)
		res.Outcome, res.Err = OutcomeQuotaExceeded, ErrQuotaExceeded{Size: size, Quota: quota}
		return res
	}

	started := c.now()
	sess.Touch(started)

	conn, err := c.connection(ctx, sess)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome, res.Err = OutcomeCancelled, ErrCancelled
			return res
		}
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	stream, err := conn.Submit(ctx, prompt)
	if err != nil {
		// Drop the connection so the next execution opens a fresh one.
		sess.SetConnection(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			res.Outcome, res.Err = OutcomeCancelled, ErrCancelled
			return res
		}
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("failed to submit prompt: %w", err)
		return res
	}
	defer func() { _ = stream.Close() }()

	res.Dispatched = true
	log.Debug("prompt dispatched")

	c.consume(ctx, stream, sink, &res)
	if res.Duration == 0 {
		res.Duration = c.now().Sub(started)
	}
	return res
}

// consume relays events in order until the stream ends.
func (c *Coordinator) consume(ctx context.Context, stream agent.Stream, sink Sink, res *Result) {
	for {
		ev, err := stream.Recv()
		if err != nil {
			var streamErr agent.ErrAgentStream
			switch {
			case ctx.Err() != nil:
				res.Outcome, res.Err = OutcomeCancelled, ErrCancelled
			case errors.Is(err, io.EOF):
				res.Outcome, res.Err = OutcomeFailed, agent.ErrAgentStream{Message: "stream ended without a result"}
			case errors.As(err, &streamErr):
				res.Outcome, res.Err = OutcomeFailed, streamErr
			default:
				res.Outcome, res.Err = OutcomeFailed, agent.ErrAgentStream{Message: err.Error()}
			}
			return
		}

		switch e := ev.(type) {
		case agent.Lifecycle:
			sink.Send(Update{Kind: UpdateLifecycle, SessionID: res.SessionID, Text: e.Subtype})
		case agent.Text:
			sink.Send(Update{Kind: UpdateText, SessionID: res.SessionID, Text: e.Text})
		case agent.ToolInvocation:
			res.Tools[e.Name]++
			sink.Send(Update{Kind: UpdateTool, SessionID: res.SessionID, Tool: e.Name, Text: agent.Summarize(e)})
		case agent.ToolResult:
			sink.Send(Update{Kind: UpdateToolResult, SessionID: res.SessionID, Text: agent.Preview(e.Content), IsError: e.IsError})
		case agent.Terminal:
			res.Cost = e.CostOrZero()
			res.Turns = e.Turns
			res.Duration = e.Duration
			res.APIDuration = e.APIDuration
			res.Text = e.Result
			if e.IsError {
				res.Outcome, res.Err = OutcomeFailed, ErrAgentFailed{Subtype: e.Subtype, Message: e.Result}
			} else {
				res.Outcome = OutcomeSucceeded
			}
			return
		default:
			res.Outcome, res.Err = OutcomeFailed, agent.ErrAgentStream{Message: fmt.Sprintf("unknown event type %T", ev)}
			return
		}
	}
}

// connection returns the session's connection, opening it on first use.
func (c *Coordinator) connection(ctx context.Context, sess *session.Session) (agent.Connection, error) {
	if conn := sess.Connection(); conn != nil {
		return conn, nil
	}

	opts := c.base
	opts.WorkDir = sess.WorkspacePath()
	opts.AddDirs = []string{sess.WorkspacePath()}
	opts.SessionID = sess.ID()

	conn, err := c.dialer.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open agent connection: %w", err)
	}
	sess.SetConnection(conn)
	return conn, nil
}

// finalize applies accounting for a dispatched execution and persists it.
func (c *Coordinator) finalize(sess *session.Session, res *Result, log logger.Logger) {
	if res.Dispatched {
		sess.Record(res.Cost)

		info := sess.Info()
		err := c.store.UpdateManifest(context.Background(), sess.WorkspacePath(), func(m *workspace.Manifest) {
			m.SessionID = info.ID
			m.OwnerKey = info.OwnerKey
			m.CreatedAt = info.CreatedAt
			m.LastActiveAt = info.LastActiveAt
			m.CumulativeCostUSD = info.CumulativeCost
			m.TaskCount = info.TaskCount
		})
		if err != nil && !sess.Retired() {
			log.Warn("failed to persist session manifest", "error", err)
		}
	}

	args := []any{"outcome", res.Outcome, "cost_usd", res.Cost, "turns", res.Turns, "tools", res.ToolCalls()}
	if res.Err != nil {
		args = append(args, "error", res.Err)
	}
	switch res.Outcome {
	case OutcomeSucceeded, OutcomeCancelled, OutcomeQuotaExceeded:
		log.Info("execution finished", args...)
	default:
		log.Warn("execution finished", args...)
	}
}

// emit sends the single terminal update of an execution.
func (c *Coordinator) emit(sink Sink, res Result) Result {
	if sink == nil {
		sink = Discard
	}
	r := res
	sink.Send(Update{Kind: UpdateTerminal, SessionID: res.SessionID, Result: &r, IsError: !res.OK()})
	return res
}
