package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aki/agentd/internal/core/agent"
	"github.com/aki/agentd/internal/core/agent/agenttest"
	"github.com/aki/agentd/internal/core/session"
	"github.com/aki/agentd/internal/core/workspace"
)

const testQuota = 64 << 10

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Send(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recorder) terminals() []Update {
	var out []Update
	for _, u := range r.all() {
		if u.Kind == UpdateTerminal {
			out = append(out, u)
		}
	}
	return out
}

type fixture struct {
	registry *session.Registry
	dialer   *agenttest.Dialer
	coord    *Coordinator
}

func newFixture(t *testing.T, script agenttest.Script) *fixture {
	t.Helper()
	store, err := workspace.NewStore(t.TempDir(), workspace.WithSeed(workspace.SeedOptions{QuotaBytes: testQuota}))
	require.NoError(t, err)

	reg := session.NewRegistry(store)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	dialer := agenttest.NewDialer(script)
	coord := NewCoordinator(reg, dialer, WithAgentOptions(agent.Options{
		AllowedTools:   []string{"Read", "Write"},
		SettingSources: []string{"project"},
	}))
	return &fixture{registry: reg, dialer: dialer, coord: coord}
}

func success(cost float64) agenttest.Script {
	return agenttest.Events(
		agent.Lifecycle{Subtype: "init"},
		agent.Terminal{Subtype: "success", Cost: agent.Cost(cost), Turns: 1},
	)
}

func TestExecute_RelaysEventsInOrder(t *testing.T) {
	f := newFixture(t, agenttest.Events(
		agent.Lifecycle{Subtype: "init"},
		agent.Text{Text: "Let me look."},
		agent.ToolInvocation{ID: "t1", Name: "Bash", Input: map[string]any{"command": "ls"}},
		agent.ToolResult{ToolUseID: "t1", Content: "main.go"},
		agent.ToolInvocation{ID: "t2", Name: "Read", Input: map[string]any{"file_path": "main.go"}},
		agent.Text{Text: "Done."},
		agent.Terminal{Subtype: "success", Cost: agent.Cost(0.02), Turns: 2, Duration: 3 * time.Second, Result: "Done."},
	))
	ctx := context.Background()
	sess, err := f.registry.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	rec := &recorder{}
	res := f.coord.Execute(ctx, sess, "list files", rec)

	require.Equal(t, OutcomeSucceeded, res.Outcome, "err: %v", res.Err)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0.02, res.Cost)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, 3*time.Second, res.Duration)
	assert.Equal(t, map[string]int{"Bash": 1, "Read": 1}, res.Tools)
	assert.Equal(t, 2, res.ToolCalls())
	assert.Equal(t, "Done.", res.Text)

	updates := rec.all()
	require.Len(t, updates, 7)
	kinds := make([]UpdateKind, len(updates))
	for i, u := range updates {
		kinds[i] = u.Kind
	}
	assert.Equal(t, []UpdateKind{
		UpdateLifecycle, UpdateText, UpdateTool, UpdateToolResult, UpdateTool, UpdateText, UpdateTerminal,
	}, kinds)
	assert.Equal(t, "Bash(ls)", updates[2].Text)
	assert.Equal(t, "main.go", updates[3].Text)
	require.NotNil(t, updates[6].Result)
	assert.Equal(t, OutcomeSucceeded, updates[6].Result.Outcome)

	assert.InDelta(t, 0.02, sess.CumulativeCost(), 1e-9)
	assert.Equal(t, 1, sess.TaskCount())
	assert.Equal(t, []string{"list files"}, f.dialer.Conns()[0].Prompts())

	m, err := f.registry.Store().ReadManifest(ctx, sess.WorkspacePath())
	require.NoError(t, err)
	assert.InDelta(t, 0.02, m.CumulativeCostUSD, 1e-9)
	assert.Equal(t, 1, m.TaskCount)
}

func TestExecute_AccumulatesCost(t *testing.T) {
	costs := []float64{0.02, 0.05}
	var mu sync.Mutex
	call := 0
	f := newFixture(t, func(string) []agenttest.Step {
		mu.Lock()
		defer mu.Unlock()
		c := costs[call]
		call++
		return []agenttest.Step{{Event: agent.Terminal{Subtype: "success", Cost: agent.Cost(c)}}}
	})
	ctx := context.Background()

	res := f.coord.ExecuteOwner(ctx, "alice", "first", nil)
	require.True(t, res.OK())
	res = f.coord.ExecuteOwner(ctx, "alice", "second", nil)
	require.True(t, res.OK())

	sess, err := f.registry.Lookup("alice")
	require.NoError(t, err)
	assert.InDelta(t, 0.07, sess.CumulativeCost(), 1e-9)
	assert.Equal(t, 2, sess.TaskCount())

	// The connection is opened once and reused.
	require.Len(t, f.dialer.Opened(), 1)
	opts := f.dialer.Opened()[0]
	assert.Equal(t, sess.WorkspacePath(), opts.WorkDir)
	assert.Equal(t, []string{sess.WorkspacePath()}, opts.AddDirs)
	assert.Equal(t, agent.PermissionDontAsk, opts.PermissionMode)
	assert.Equal(t, []string{"Read", "Write"}, opts.AllowedTools)
	assert.Equal(t, sess.ID(), opts.SessionID)
	assert.Equal(t, 2, f.dialer.Submissions())
}

func TestExecute_UnreportedCostCountsAsZero(t *testing.T) {
	f := newFixture(t, agenttest.Events(agent.Terminal{Subtype: "success"}))

	res := f.coord.ExecuteOwner(context.Background(), "alice", "go", nil)
	require.True(t, res.OK())
	assert.Zero(t, res.Cost)

	sess, err := f.registry.Lookup("alice")
	require.NoError(t, err)
	assert.Zero(t, sess.CumulativeCost())
	assert.Equal(t, 1, sess.TaskCount())
}

func fillTo(t *testing.T, store *workspace.Store, path string, target int64) {
	t.Helper()
	size, err := store.Size(path)
	require.NoError(t, err)
	require.Less(t, size, target)
	require.NoError(t, os.WriteFile(filepath.Join(path, "filler.bin"), make([]byte, target-size), 0o644))
}

func TestExecute_QuotaExceeded(t *testing.T) {
	f := newFixture(t, success(0.01))
	ctx := context.Background()
	sess, err := f.registry.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	before := sess.LastActiveAt()

	// Exactly at the limit is already refused.
	fillTo(t, f.registry.Store(), sess.WorkspacePath(), testQuota)

	rec := &recorder{}
	res := f.coord.Execute(ctx, sess, "write more", rec)

	assert.Equal(t, OutcomeQuotaExceeded, res.Outcome)
	var quotaErr ErrQuotaExceeded
	require.True(t, errors.As(res.Err, &quotaErr))
	assert.Equal(t, int64(testQuota), quotaErr.Size)
	assert.Equal(t, int64(testQuota), quotaErr.Quota)

	assert.Zero(t, f.dialer.Submissions())
	assert.Empty(t, f.dialer.Opened())
	assert.Zero(t, sess.TaskCount())
	assert.Equal(t, before, sess.LastActiveAt())
	assert.Len(t, rec.terminals(), 1)
	assert.Len(t, rec.all(), 1)
}

func TestExecute_SerializesPerSession(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	first := true
	f := newFixture(t, func(string) []agenttest.Step {
		mu.Lock()
		defer mu.Unlock()
		steps := []agenttest.Step{{Event: agent.Lifecycle{Subtype: "init"}}}
		if first {
			first = false
			steps = append(steps, agenttest.Step{Wait: gate})
		}
		return append(steps, agenttest.Step{Event: agent.Terminal{Subtype: "success", Cost: agent.Cost(0.01)}})
	})
	ctx := context.Background()
	sess, err := f.registry.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	started := make(chan struct{})
	results := make(chan Result, 2)
	go func() {
		results <- f.coord.Execute(ctx, sess, "one", SinkFunc(func(u Update) {
			if u.Kind == UpdateLifecycle {
				close(started)
			}
		}))
	}()
	<-started

	go func() {
		results <- f.coord.Execute(ctx, sess, "two", nil)
	}()

	assert.Eventually(t, func() bool { return f.coord.Active(sess.ID()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Submissions(), "second execution must wait for the first")

	close(gate)
	r1, r2 := <-results, <-results
	assert.True(t, r1.OK())
	assert.True(t, r2.OK())
	assert.Equal(t, 2, f.dialer.Submissions())
	assert.Equal(t, []string{"one", "two"}, f.dialer.Conns()[0].Prompts())
	assert.Equal(t, 2, sess.TaskCount())
	assert.Zero(t, f.coord.Active(sess.ID()))
}

func TestExecute_CancelMidStream(t *testing.T) {
	never := make(chan struct{})
	f := newFixture(t, func(string) []agenttest.Step {
		return []agenttest.Step{
			{Event: agent.Text{Text: "working"}},
			{Wait: never},
			{Event: agent.Terminal{Subtype: "success", Cost: agent.Cost(1)}},
		}
	})
	ctx := context.Background()
	sess, err := f.registry.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	rec := &recorder{}
	sink := SinkFunc(func(u Update) {
		rec.Send(u)
		if u.Kind == UpdateText {
			go f.coord.Cancel(sess.ID())
		}
	})

	res := f.coord.Execute(ctx, sess, "long task", sink)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.True(t, res.Dispatched)
	assert.Len(t, rec.terminals(), 1)
	assert.Equal(t, 1, sess.TaskCount())
	assert.Zero(t, sess.CumulativeCost())

	// The lock is free again.
	require.True(t, sess.TryAcquire())
	sess.Release()
}

func TestExecute_CancelWhileQueued(t *testing.T) {
	f := newFixture(t, success(0.01))
	sess, err := f.registry.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, sess.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec := &recorder{}
	res := f.coord.Execute(ctx, sess, "queued", rec)
	sess.Release()

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.False(t, res.Dispatched)
	assert.Zero(t, f.dialer.Submissions())
	assert.Zero(t, sess.TaskCount())
	assert.Len(t, rec.terminals(), 1)
}

func TestExecute_StreamEndsWithoutTerminal(t *testing.T) {
	f := newFixture(t, agenttest.Events(agent.Text{Text: "partial"}))

	rec := &recorder{}
	res := f.coord.ExecuteOwner(context.Background(), "alice", "go", rec)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	var streamErr agent.ErrAgentStream
	assert.True(t, errors.As(res.Err, &streamErr))
	terms := rec.terminals()
	require.Len(t, terms, 1)
	assert.True(t, terms[0].IsError)

	sess, err := f.registry.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.TaskCount())
	assert.Zero(t, sess.CumulativeCost())
}

func TestExecute_StreamError(t *testing.T) {
	f := newFixture(t, func(string) []agenttest.Step {
		return []agenttest.Step{{Err: errors.New("pipe broken")}}
	})

	res := f.coord.ExecuteOwner(context.Background(), "alice", "go", nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	var streamErr agent.ErrAgentStream
	require.True(t, errors.As(res.Err, &streamErr))
	assert.Contains(t, streamErr.Message, "pipe broken")
}

func TestExecute_AgentReportsError(t *testing.T) {
	f := newFixture(t, agenttest.Events(
		agent.Terminal{Subtype: "error_max_turns", IsError: true, Cost: agent.Cost(0.03)},
	))

	res := f.coord.ExecuteOwner(context.Background(), "alice", "go", nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	var failed ErrAgentFailed
	require.True(t, errors.As(res.Err, &failed))
	assert.Equal(t, "error_max_turns", failed.Subtype)
	assert.Equal(t, 0.03, res.Cost)
	assert.Equal(t, 1, f.dialer.Submissions())

	sess, err := f.registry.Lookup("alice")
	require.NoError(t, err)
	assert.InDelta(t, 0.03, sess.CumulativeCost(), 1e-9)
}

type unknownEvent struct{ agent.Text }

func TestExecute_UnknownEvent(t *testing.T) {
	f := newFixture(t, agenttest.Events(unknownEvent{}))

	res := f.coord.ExecuteOwner(context.Background(), "alice", "go", nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err.Error(), "unknown event type")
}

func TestExecute_OpenFailure(t *testing.T) {
	f := newFixture(t, success(0.01))
	f.dialer.OpenErr = errors.New("agent binary missing")

	res := f.coord.ExecuteOwner(context.Background(), "alice", "go", nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.Dispatched)
	assert.Zero(t, f.dialer.Submissions())
}

func TestExecute_RetiredSession(t *testing.T) {
	f := newFixture(t, success(0.01))
	ctx := context.Background()

	old, err := f.registry.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	_, err = f.registry.Reset(ctx, "alice")
	require.NoError(t, err)

	res := f.coord.Execute(ctx, old, "stale", nil)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Zero(t, f.dialer.Submissions())
}

func TestExecute_ResetDuringQueuedExecution(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, func(string) []agenttest.Step {
		return []agenttest.Step{
			{Event: agent.Lifecycle{Subtype: "init"}},
			{Wait: gate},
			{Event: agent.Terminal{Subtype: "success", Cost: agent.Cost(0.01)}},
		}
	})
	ctx := context.Background()
	old, err := f.registry.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	started := make(chan struct{})
	first := make(chan Result, 1)
	go func() {
		first <- f.coord.Execute(ctx, old, "one", SinkFunc(func(u Update) {
			if u.Kind == UpdateLifecycle {
				close(started)
			}
		}))
	}()
	<-started

	reset := make(chan *session.Session, 1)
	go func() {
		s, err := f.registry.Reset(ctx, "alice")
		assert.NoError(t, err)
		reset <- s
	}()
	queued := make(chan Result, 1)
	go func() {
		// Give Reset a head start in the FIFO.
		time.Sleep(20 * time.Millisecond)
		queued <- f.coord.Execute(ctx, old, "two", nil)
	}()

	time.Sleep(40 * time.Millisecond)
	close(gate)

	assert.True(t, (<-first).OK())
	fresh := <-reset
	assert.Equal(t, OutcomeNotFound, (<-queued).Outcome)

	assert.NotEqual(t, old.ID(), fresh.ID())
	assert.Zero(t, fresh.TaskCount())
	assert.True(t, f.dialer.Conns()[0].Closed())
}

func TestExecuteID(t *testing.T) {
	f := newFixture(t, success(0.01))
	ctx := context.Background()

	res := f.coord.ExecuteID(ctx, "no-such-session", "go", nil)
	assert.Equal(t, OutcomeNotFound, res.Outcome)

	sess, err := f.registry.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	res = f.coord.ExecuteID(ctx, sess.ID(), "go", nil)
	assert.True(t, res.OK())
}

func TestCancel_NoActiveExecution(t *testing.T) {
	f := newFixture(t, success(0.01))
	assert.False(t, f.coord.Cancel("nothing"))
}

func TestExecuteOwner_FollowsResetWhileQueued(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, func(prompt string) []agenttest.Step {
		if prompt != "one" {
			return []agenttest.Step{{Event: agent.Terminal{Subtype: "success", Cost: agent.Cost(0.02)}}}
		}
		return []agenttest.Step{
			{Event: agent.Lifecycle{Subtype: "init"}},
			{Wait: gate},
			{Event: agent.Terminal{Subtype: "success", Cost: agent.Cost(0.01)}},
		}
	})
	ctx := context.Background()
	old, err := f.registry.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	started := make(chan struct{})
	first := make(chan Result, 1)
	go func() {
		first <- f.coord.Execute(ctx, old, "one", SinkFunc(func(u Update) {
			if u.Kind == UpdateLifecycle {
				close(started)
			}
		}))
	}()
	<-started

	reset := make(chan *session.Session, 1)
	go func() {
		s, err := f.registry.Reset(ctx, "alice")
		assert.NoError(t, err)
		reset <- s
	}()

	rec := &recorder{}
	second := make(chan Result, 1)
	go func() {
		// Reset queues first; this execution then resolves the old session
		// and waits behind it.
		time.Sleep(20 * time.Millisecond)
		second <- f.coord.ExecuteOwner(ctx, "alice", "two", rec)
	}()

	time.Sleep(40 * time.Millisecond)
	close(gate)

	assert.True(t, (<-first).OK())
	fresh := <-reset
	res := <-second

	require.True(t, res.OK(), "outcome %s: %v", res.Outcome, res.Err)
	assert.Equal(t, fresh.ID(), res.SessionID)
	assert.Equal(t, 1, fresh.TaskCount())
	assert.Len(t, rec.terminals(), 1)
}

func TestNewCoordinator_PermissionModeIsFixed(t *testing.T) {
	store, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)
	reg := session.NewRegistry(store)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	dialer := agenttest.NewDialer(success(0))
	coord := NewCoordinator(reg, dialer, WithAgentOptions(agent.Options{PermissionMode: "bypassPermissions"}))

	res := coord.ExecuteOwner(context.Background(), "alice", "go", nil)
	require.True(t, res.OK())
	require.Len(t, dialer.Opened(), 1)
	assert.Equal(t, agent.PermissionDontAsk, dialer.Opened()[0].PermissionMode)
}
