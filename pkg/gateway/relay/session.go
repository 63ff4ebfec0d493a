package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/metrics"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay/protocol"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

// State tracks where a session is in its lifecycle. Transitions only move
// forward; Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingUpstream
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingUpstream:
		return "awaiting_upstream"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options carries everything one session needs. The zero values for the
// timeouts fall back to safe defaults; Tools and Upstream are required.
type Options struct {
	ID        string
	Principal *identity.Principal

	Upstream UpstreamConfig
	// Session is the configuration pushed upstream after session.created.
	// Tools and ToolChoice are filled in from the registry.
	Session protocol.SessionConfig

	Tools       *tools.Registry
	ToolTimeout time.Duration
	// MaxDuration caps a session's lifetime. Zero means no cap.
	MaxDuration time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Session relays frames between one browser connection and one upstream
// Realtime connection. Everything passes through verbatim except tool-call
// completions, which are intercepted and answered by the relay.
type Session struct {
	opts  Options
	log   *slog.Logger
	state atomic.Int32

	downstream *websocket.Conn
	downMu     sync.Mutex
	closed     chan struct{}
	closeOnce  sync.Once

	upstream *upstreamConn

	toolCalls chan protocol.FunctionCallDone
	toolWG    sync.WaitGroup
}

type downFrame struct {
	messageType int
	data        []byte
}

func NewSession(opts Options, downstream *websocket.Conn) (*Session, error) {
	if downstream == nil {
		return nil, fmt.Errorf("downstream connection is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 15 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", opts.ID)
	if opts.Principal != nil {
		log = log.With("user_id", opts.Principal.ID)
	}
	s := &Session{
		opts:       opts,
		log:        log,
		downstream: downstream,
		closed:     make(chan struct{}),
		toolCalls:  make(chan protocol.FunctionCallDone, 16),
	}
	s.state.Store(int32(StateConnecting))
	return s, nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run drives the session until either leg closes or ctx is canceled. It
// owns both connections and closes them before returning.
func (s *Session) Run(ctx context.Context) {
	started := time.Now()
	s.opts.Metrics.SessionStarted()
	status := "ok"
	defer func() {
		s.setState(StateClosed)
		s.opts.Metrics.SessionEnded(status, time.Since(started))
		s.log.Info("session ended", "status", status, "duration", time.Since(started).Round(time.Millisecond))
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The browser leg is read from the start so that close detection works
	// while the upstream is still being established. Frames that arrive
	// before the upstream is ready are dropped, not queued.
	downFrames := make(chan downFrame, 64)
	go s.readDownstream(downFrames)

	type bootstrapResult struct {
		conn *upstreamConn
		err  error
		code string
	}
	readyCh := make(chan bootstrapResult, 1)
	s.setState(StateAwaitingUpstream)
	go func() {
		conn, code, err := s.bootstrap(ctx)
		readyCh <- bootstrapResult{conn: conn, err: err, code: code}
	}()

	var deadline <-chan time.Time
	if s.opts.MaxDuration > 0 {
		timer := time.NewTimer(s.opts.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	var upFrames <-chan upstreamFrame
	bootstrapped := false
	defer func() {
		s.setState(StateClosing)
		// Cancel before draining so an in-flight tool handler sees the
		// teardown instead of running out its full timeout.
		cancel()
		s.closeDownstream()
		s.upstream.Close()
		s.drainTools()
		if !bootstrapped {
			// The dial may still land after we bail out.
			go func() {
				if res := <-readyCh; res.conn != nil {
					res.conn.Close()
				}
			}()
		}
	}()

	for {
		select {
		case res := <-readyCh:
			bootstrapped = true
			if res.err != nil {
				status = res.code
				s.opts.Metrics.Error(res.code)
				s.log.Warn("upstream bootstrap failed", "code", res.code, "error", res.err)
				s.sendError(res.code, res.err.Error())
				return
			}
			s.upstream = res.conn
			upFrames = res.conn.Frames()
			s.startToolWorker(ctx)
			s.setState(StateActive)
			s.log.Info("session active")

		case f, ok := <-downFrames:
			if !ok {
				s.log.Debug("downstream closed")
				return
			}
			if s.upstream == nil {
				s.opts.Metrics.FrameDropped()
				continue
			}
			if err := s.upstream.WriteRaw(f.messageType, f.data); err != nil {
				status = "upstream_write_error"
				s.log.Warn("upstream write failed", "error", err)
				return
			}
			s.opts.Metrics.FrameForwarded("upstream")

		case f, ok := <-upFrames:
			if !ok {
				status = "upstream_closed"
				s.log.Debug("upstream closed", "error", s.upstream.ReadErr())
				s.sendError(protocol.CodeUpstreamProtocolError, "upstream connection closed")
				return
			}
			if err := s.writeDownstream(f.messageType, f.data); err != nil {
				status = "downstream_write_error"
				s.log.Warn("downstream write failed", "error", err)
				return
			}
			s.opts.Metrics.FrameForwarded("downstream")
			if f.messageType == websocket.TextMessage {
				s.maybeInterceptToolCall(f.data)
			}

		case <-deadline:
			status = "max_duration"
			s.log.Info("session hit max duration")
			_ = s.Notify("session duration limit reached")
			return

		case <-ctx.Done():
			status = "canceled"
			return
		}
	}
}

// bootstrap dials the upstream and completes the Realtime handshake: the
// first frame must be session.created, it is forwarded to the browser, then
// the session configuration and tool manifest are pushed, and finally the
// browser gets the connected signal.
func (s *Session) bootstrap(ctx context.Context) (*upstreamConn, string, error) {
	conn, err := dialUpstream(ctx, s.opts.Upstream)
	if err != nil {
		return nil, protocol.CodeUpstreamConnectError, err
	}

	var first upstreamFrame
	select {
	case f, ok := <-conn.Frames():
		if !ok {
			conn.Close()
			return nil, protocol.CodeUpstreamProtocolError, fmt.Errorf("upstream closed before session.created: %w", conn.ReadErr())
		}
		first = f
	case <-ctx.Done():
		conn.Close()
		return nil, protocol.CodeUpstreamConnectError, ctx.Err()
	}
	if et := protocol.EventType(first.data); et != protocol.EventSessionCreated {
		conn.Close()
		return nil, protocol.CodeUpstreamProtocolError, fmt.Errorf("expected %s, got %q", protocol.EventSessionCreated, et)
	}
	if err := s.writeDownstream(first.messageType, first.data); err != nil {
		conn.Close()
		return nil, protocol.CodeUpstreamProtocolError, fmt.Errorf("forward session.created: %w", err)
	}
	s.opts.Metrics.FrameForwarded("downstream")

	cfg := s.opts.Session
	cfg.Tools = s.opts.Tools.Definitions()
	cfg.ToolChoice = "auto"
	if err := conn.WriteJSON(protocol.NewSessionUpdate(cfg)); err != nil {
		conn.Close()
		return nil, protocol.CodeUpstreamProtocolError, fmt.Errorf("send session.update: %w", err)
	}
	if err := s.writeDownstreamJSON(protocol.NewServerConnected(s.opts.ID)); err != nil {
		conn.Close()
		return nil, protocol.CodeUpstreamProtocolError, fmt.Errorf("send connected: %w", err)
	}
	return conn, "", nil
}

func (s *Session) maybeInterceptToolCall(data []byte) {
	if protocol.EventType(data) != protocol.EventFunctionCallArgsDone {
		return
	}
	call, ok := protocol.ParseFunctionCallDone(data)
	if !ok {
		s.log.Warn("malformed tool call event")
		return
	}
	select {
	case s.toolCalls <- call:
	default:
		// Queue full. Answer inline with an error rather than stall the
		// relay loop; the model still gets its mandatory result pair.
		s.log.Warn("tool queue full", "tool", call.Name)
		s.finishToolCall(call.CallID, call.Name, `{"error":"tool queue is full"}`, "dropped", 0)
	}
}

// startToolWorker runs tool calls one at a time in arrival order. Results
// go back upstream as a function_call_output plus a response.create.
func (s *Session) startToolWorker(ctx context.Context) {
	s.toolWG.Add(1)
	go func() {
		defer s.toolWG.Done()
		for {
			select {
			case call, ok := <-s.toolCalls:
				if !ok {
					return
				}
				s.runToolCall(ctx, call)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Session) runToolCall(ctx context.Context, call protocol.FunctionCallDone) {
	started := time.Now()
	toolCtx, cancel := context.WithTimeout(ctx, s.opts.ToolTimeout)
	defer cancel()

	result := s.opts.Tools.Dispatch(toolCtx, s.opts.Principal, tools.Invocation{
		CallID:    call.CallID,
		Name:      call.Name,
		Arguments: call.Arguments,
	})
	outcome := "ok"
	if isErrorResult(result) {
		outcome = "error"
	}
	s.finishToolCall(call.CallID, call.Name, result, outcome, time.Since(started))
}

func (s *Session) finishToolCall(callID, name, result, outcome string, elapsed time.Duration) {
	if err := s.upstream.SendToolOutput(callID, result); err != nil {
		s.log.Warn("tool result write failed", "tool", name, "error", err)
		s.opts.Metrics.ToolCall(name, "write_error", elapsed)
		return
	}
	s.opts.Metrics.ToolCall(name, outcome, elapsed)
	s.log.Info("tool call handled", "tool", name, "call_id", callID, "outcome", outcome,
		"duration", elapsed.Round(time.Millisecond))
}

func isErrorResult(result string) bool {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err != nil {
		return false
	}
	return probe.Error != nil
}

func (s *Session) readDownstream(out chan<- downFrame) {
	defer close(out)
	for {
		messageType, data, err := s.downstream.ReadMessage()
		if err != nil {
			return
		}
		// The send can block when the relay loop is stalled in a write;
		// teardown closes s.closed so the reader never leaks.
		select {
		case out <- downFrame{messageType: messageType, data: data}:
		case <-s.closed:
			return
		}
	}
}

func (s *Session) writeDownstream(messageType int, data []byte) error {
	s.downMu.Lock()
	defer s.downMu.Unlock()
	timeout := s.opts.Upstream.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_ = s.downstream.SetWriteDeadline(time.Now().Add(timeout))
	return s.downstream.WriteMessage(messageType, data)
}

func (s *Session) writeDownstreamJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return s.writeDownstream(websocket.TextMessage, data)
}

// Notify pushes an informational status frame to the browser. Used for
// drain notices during shutdown.
func (s *Session) Notify(message string) error {
	return s.writeDownstreamJSON(protocol.NewServerStatus(message))
}

func (s *Session) sendError(code, message string) {
	_ = s.writeDownstreamJSON(protocol.NewServerError(code, message, true))
}

func (s *Session) closeDownstream() {
	s.closeOnce.Do(func() { close(s.closed) })
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.downMu.Lock()
	_ = s.downstream.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.downstream.WriteMessage(websocket.CloseMessage, msg)
	s.downMu.Unlock()
	_ = s.downstream.Close()
}

// drainTools lets an in-flight tool call finish its write attempt, then
// discards anything still queued.
func (s *Session) drainTools() {
	close(s.toolCalls)
	s.toolWG.Wait()
}
