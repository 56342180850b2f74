package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexuscli/agent/pkg/models"
)

// stdioRequest is one newline-delimited JSON request sent to the child
// process's stdin.
type stdioRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"` // "schema" or "execute"
	Params json.RawMessage `json:"params,omitempty"`
}

// stdioResponse is the matching reply read from stdout.
type stdioResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StdioTransport implements spec §4.d's stdin-mode: a long-lived child
// process consumes newline-delimited JSON requests and emits responses on
// stdout; stderr drains to the server's log. Grounded on the teacher's
// internal/mcp/transport_stdio.go pending-response-channel design.
type StdioTransport struct {
	cfg    models.McpServerConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	stderr io.ReadCloser

	writeMu sync.Mutex
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan stdioResponse

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewStdioTransport builds a stdio transport for cfg.
func NewStdioTransport(cfg models.McpServerConfig) *StdioTransport {
	return &StdioTransport{
		cfg:      cfg,
		logger:   slog.Default().With("mcp_server", cfg.Name, "transport", "stdio"),
		pending:  map[string]chan stdioResponse{},
		stopChan: make(chan struct{}),
	}
}

// Connect spawns the child process and starts its stdout/stderr readers.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.cfg.Command == "" {
		return fmt.Errorf("mcp server %q: command is required for stdio transport", t.cfg.Name)
	}

	t.cmd = exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	t.cmd.Env = os.Environ()

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	t.stdin = stdin
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)
	t.stderr = stderr

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("start mcp server %q: %w", t.cfg.Name, err)
	}
	t.logger.Info("started mcp server process", "command", t.cfg.Command, "pid", t.cmd.Process.Pid)

	t.wg.Add(2)
	go t.readLoop()
	go t.drainStderr()

	return nil
}

// Close stops the child process and its readers.
func (t *StdioTransport) Close() error {
	close(t.stopChan)
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	t.wg.Wait()
	return nil
}

func (t *StdioTransport) send(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := strconv.FormatInt(t.nextID.Add(1), 10)
	respChan := make(chan stdioResponse, 1)

	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(stdioRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	t.writeMu.Lock()
	_, writeErr := t.stdin.Write(append(payload, '\n'))
	t.writeMu.Unlock()
	if writeErr != nil {
		return nil, fmt.Errorf("mcp server %q: write request: %w", t.cfg.Name, writeErr)
	}

	timeout := time.Duration(t.cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	select {
	case resp := <-respChan:
		if resp.Error != "" {
			return nil, fmt.Errorf("mcp server %q: %s", t.cfg.Name, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("mcp server %q: request timed out after %v", t.cfg.Name, timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("mcp server %q: transport closed", t.cfg.Name)
	}
}

// FetchSchema requests the function catalog via the "schema" method.
func (t *StdioTransport) FetchSchema(ctx context.Context) ([]models.McpFunction, error) {
	result, err := t.send(ctx, "schema", nil)
	if err != nil {
		return nil, err
	}
	var functions []models.McpFunction
	if err := json.Unmarshal(result, &functions); err != nil {
		return nil, fmt.Errorf("mcp server %q: decode schema: %w", t.cfg.Name, err)
	}
	return functions, nil
}

// Execute invokes name via the "execute" method.
func (t *StdioTransport) Execute(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	params, err := json.Marshal(executeRequest{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("marshal execute params: %w", err)
	}
	return t.send(ctx, "execute", params)
}

func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	for t.stdout.Scan() {
		line := t.stdout.Text()
		if line == "" {
			continue
		}
		var resp stdioResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.logger.Debug("unparseable stdio line", "line", line)
			continue
		}
		t.pendingMu.Lock()
		ch, ok := t.pending[resp.ID]
		t.pendingMu.Unlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
	}
	if err := t.stdout.Err(); err != nil {
		t.logger.Error("stdout scanner error", "error", err)
	}
}

func (t *StdioTransport) drainStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
