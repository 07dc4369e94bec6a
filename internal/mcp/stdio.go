package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/aki/agentd/internal/core/logger"
)

// stdioToolWorkers bounds tool calls in flight on the stdio transport.
const stdioToolWorkers = 16

// stdioSession is the single client session of a stdio connection.
type stdioSession struct {
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool
}

var _ server.ClientSession = (*stdioSession)(nil)

func (s *stdioSession) SessionID() string { return "stdio" }

func (s *stdioSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

func (s *stdioSession) Initialize() { s.initialized.Store(true) }

func (s *stdioSession) Initialized() bool { return s.initialized.Load() }

// stdioTransport serves line-delimited JSON-RPC. Tool calls run concurrently
// so one owner's long run holds up neither other owners nor the cancel tool;
// every other message is handled in arrival order.
type stdioTransport struct {
	server  *server.MCPServer
	logger  logger.Logger
	workers int

	writeMu sync.Mutex
	out     io.Writer
}

func newStdioTransport(s *server.MCPServer, out io.Writer, log logger.Logger) *stdioTransport {
	return &stdioTransport{server: s, logger: log, workers: stdioToolWorkers, out: out}
}

// listen serves messages from in until EOF or until ctx ends, then waits for
// running tool calls. EOF is a clean shutdown.
func (t *stdioTransport) listen(ctx context.Context, in io.Reader) error {
	sess := &stdioSession{notifications: make(chan mcp.JSONRPCNotification, 100)}
	if err := t.server.RegisterSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to register stdio session: %w", err)
	}
	defer t.server.UnregisterSession(context.WithoutCancel(ctx), sess.SessionID())

	ctx, cancel := context.WithCancel(t.server.WithContext(ctx, sess))
	defer cancel()

	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		t.forwardNotifications(ctx, sess.notifications)
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go t.readLines(ctx, in, lines, readErr)

	calls := new(errgroup.Group)
	calls.SetLimit(t.workers)

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case line, ok := <-lines:
			if !ok {
				err = <-readErr
				break loop
			}
			t.dispatch(ctx, calls, line)
		}
	}

	_ = calls.Wait()
	cancel()
	<-notifyDone
	return err
}

func (t *stdioTransport) readLines(ctx context.Context, in io.Reader, lines chan<- string, readErr chan<- error) {
	defer close(lines)

	reader := bufio.NewReader(in)
	for {
		line, err := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			select {
			case lines <- line:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			readErr <- err
			return
		}
	}
}

func (t *stdioTransport) dispatch(ctx context.Context, calls *errgroup.Group, line string) {
	var envelope struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		t.write(parseError())
		return
	}

	handle := func() {
		if resp := t.server.HandleMessage(ctx, json.RawMessage(line)); resp != nil {
			t.write(resp)
		}
	}
	if envelope.Method == string(mcp.MethodToolsCall) {
		calls.Go(func() error {
			handle()
			return nil
		})
		return
	}
	handle()
}

func (t *stdioTransport) forwardNotifications(ctx context.Context, notifications <-chan mcp.JSONRPCNotification) {
	for {
		select {
		case n := <-notifications:
			t.write(n)
		case <-ctx.Done():
			return
		}
	}
}

func (t *stdioTransport) write(msg mcp.JSONRPCMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		t.logger.Error("failed to marshal message", "error", err)
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := fmt.Fprintf(t.out, "%s\n", data); err != nil {
		t.logger.Warn("failed to write message", "error", err)
	}
}

func parseError() mcp.JSONRPCError {
	resp := mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(nil),
	}
	resp.Error.Code = mcp.PARSE_ERROR
	resp.Error.Message = "Parse error"
	return resp
}
