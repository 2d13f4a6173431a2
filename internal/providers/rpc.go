package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// rpcMessage is one newline-delimited JSON-RPC 2.0 frame. Requests,
// responses, and notifications share the shape; the set fields decide which
// it is.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (m *rpcMessage) isResponse() bool {
	return m.ID != nil && m.Method == "" && (m.Result != nil || m.Error != nil)
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rpc error %d", e.Code)
}

const rpcInternalError = -32603

// rpcResult carries a resolved response to a waiting caller.
type rpcResult struct {
	result json.RawMessage
	err    error
}

// rpcHooks lets an adapter observe the session's traffic. All callbacks run
// on the session's read goroutines.
type rpcHooks struct {
	// onNotification handles agent-sent methods (notifications and
	// server-to-client requests; id is non-nil for the latter).
	onNotification func(method string, id *int64, params json.RawMessage)

	// onRawLine handles stdout lines that are not JSON.
	onRawLine func(line string)

	// onStderrLine classifies a stderr line into a user-facing failure
	// message, or "" to ignore it.
	onStderrLine func(line string) string

	// onRequestFailure reports a failed response for a tracked generation
	// request.
	onRequestFailure func(requestID, message string)

	// onRequestResponse reports a successful response for a tracked
	// generation request (ACP agents finish a prompt this way).
	onRequestResponse func(requestID string)

	// onStreamClosed fires when the process's stdout ends.
	onStreamClosed func(activeRequestID string)
}

// rpcSession wraps one spawned agent process speaking newline-delimited
// JSON-RPC on stdio.
type rpcSession struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex
	nextID  atomic.Int64
	logger  *slog.Logger
	hooks   rpcHooks

	mu            sync.Mutex
	pending       map[int64]chan rpcResult
	requestMap    map[int64]string // rpc id -> engine request id
	activeRequest string
	startupErr    string

	// Provider session state shared by adapters.
	providerSessionID string
	initialized       bool

	killed atomic.Bool
}

// startRPCSession spawns argv in dir and begins the stdio pump goroutines.
func startRPCSession(ctx context.Context, argv []string, dir string, env []string, logger *slog.Logger, hooks rpcHooks) (*rpcSession, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty agent command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s := &rpcSession{
		cmd:        cmd,
		stdin:      stdin,
		logger:     logger,
		hooks:      hooks,
		pending:    map[int64]chan rpcResult{},
		requestMap: map[int64]string{},
	}

	go s.readStdout(stdout)
	go s.readStderr(stderr)
	go func() {
		// Reap the process so no zombie outlives the session.
		_ = cmd.Wait()
	}()

	return s, nil
}

func (s *rpcSession) readStdout(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			if s.hooks.onRawLine != nil {
				s.hooks.onRawLine(line)
			}
			continue
		}
		if msg.isResponse() {
			s.handleResponse(&msg)
			continue
		}
		if msg.Method != "" && s.hooks.onNotification != nil {
			s.hooks.onNotification(msg.Method, msg.ID, msg.Params)
		}
	}

	active := s.takeActiveRequest()
	if s.hooks.onStreamClosed != nil && !s.killed.Load() {
		s.hooks.onStreamClosed(active)
	}
}

func (s *rpcSession) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.logger.Debug("agent stderr", "line", line)
		if s.hooks.onStderrLine == nil {
			continue
		}
		message := s.hooks.onStderrLine(line)
		if message == "" {
			continue
		}
		if requestID := s.takeActiveRequest(); requestID != "" {
			if s.hooks.onRequestFailure != nil {
				s.hooks.onRequestFailure(requestID, message)
			}
		} else {
			s.setStartupError(message)
		}
	}
}

func (s *rpcSession) handleResponse(msg *rpcMessage) {
	id := *msg.ID

	s.mu.Lock()
	waiter := s.pending[id]
	delete(s.pending, id)
	requestID, tracked := s.requestMap[id]
	delete(s.requestMap, id)
	if tracked && s.activeRequest == requestID {
		if msg.Error != nil || s.hooks.onRequestResponse != nil {
			s.activeRequest = ""
		}
	}
	s.mu.Unlock()

	if waiter != nil {
		res := rpcResult{result: msg.Result}
		if msg.Error != nil {
			res.err = msg.Error
		}
		waiter <- res
	}

	if tracked {
		if msg.Error != nil {
			if s.hooks.onRequestFailure != nil {
				s.hooks.onRequestFailure(requestID, msg.Error.Error())
			}
		} else if s.hooks.onRequestResponse != nil {
			s.hooks.onRequestResponse(requestID)
		}
	}
}

// call sends a request and waits for its response.
func (s *rpcSession) call(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	waiter := make(chan rpcResult, 1)
	s.mu.Lock()
	s.pending[id] = waiter
	s.mu.Unlock()

	if err := s.writeFrame(rpcFrame(id, method, params)); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, err
	}

	select {
	case res := <-waiter:
		return res.result, res.err
	case <-time.After(timeout):
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, errors.New("RPC request timed out")
	}
}

// startTracked sends a request whose streamed outcome belongs to an engine
// generation request. The response is not awaited; completion arrives as
// events.
func (s *rpcSession) startTracked(method string, params any, requestID string) error {
	id := s.nextID.Add(1)
	s.mu.Lock()
	s.requestMap[id] = requestID
	s.activeRequest = requestID
	s.mu.Unlock()
	return s.writeFrame(rpcFrame(id, method, params))
}

// post sends a request without awaiting its response.
func (s *rpcSession) post(method string, params any) error {
	return s.writeFrame(rpcFrame(s.nextID.Add(1), method, params))
}

// respond answers a server-to-client request.
func (s *rpcSession) respond(id int64, result any, respErr *rpcError) error {
	frame := map[string]any{"jsonrpc": "2.0", "id": id}
	if respErr != nil {
		frame["error"] = respErr
	} else {
		frame["result"] = result
	}
	return s.writeFrame(frame)
}

func rpcFrame(id int64, method string, params any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
}

func (s *rpcSession) writeFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}

// writeRaw sends raw bytes to the agent's stdin (codex interactive prompts).
func (s *rpcSession) writeRaw(data []byte) {
	s.writeMu.Lock()
	_, _ = s.stdin.Write(data)
	s.writeMu.Unlock()
}

func (s *rpcSession) activeRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRequest
}

func (s *rpcSession) takeActiveRequest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	requestID := s.activeRequest
	s.activeRequest = ""
	return requestID
}

func (s *rpcSession) clearActiveRequest(requestID string) {
	s.mu.Lock()
	if s.activeRequest == requestID {
		s.activeRequest = ""
		for id, rid := range s.requestMap {
			if rid == requestID {
				delete(s.requestMap, id)
			}
		}
	}
	s.mu.Unlock()
}

func (s *rpcSession) setStartupError(message string) {
	s.mu.Lock()
	if s.startupErr == "" {
		s.startupErr = message
	}
	s.mu.Unlock()
}

func (s *rpcSession) startupError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startupErr
}

// kill terminates the agent process.
func (s *rpcSession) kill() {
	s.killed.Store(true)
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}
