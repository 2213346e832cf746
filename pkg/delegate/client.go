package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/convoserve/actionkernel/pkg/audit"
	"github.com/convoserve/actionkernel/pkg/catalog"
	"github.com/convoserve/actionkernel/pkg/contracts"
)

// HTTPTimeout bounds the remote call, connect through response.
const HTTPTimeout = 5 * time.Second

// runActionPath is the remote action-server endpoint.
const runActionPath = "/action/run"

// TransportError is a connection-level delegation failure: the request never
// produced an HTTP response. HTTP error statuses are not transport errors.
type TransportError struct {
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("action server unreachable (%s): %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Request is one remote delegation.
type Request struct {
	BotID         string
	ActionName    string
	ActionArgs    map[string]any
	IncomingEvent *contracts.Event
	Server        contracts.ActionServer
}

// wirePayload is the exact request envelope of the action-server protocol.
// The bearer token travels in the body, not an HTTP header.
type wirePayload struct {
	Token         string           `json:"token"`
	BotID         string           `json:"botId"`
	ActionName    string           `json:"actionName"`
	ActionArgs    map[string]any   `json:"actionArgs"`
	IncomingEvent *contracts.Event `json:"incomingEvent"`
}

type wireResponse struct {
	IncomingEvent *contracts.Event `json:"incomingEvent"`
}

// Client executes actions on remote action servers.
type Client struct {
	http   *http.Client
	minter *TokenMinter
	reg    *catalog.Registry
	tasks  audit.TaskRepository
	log    *slog.Logger
}

// NewClient creates a delegation client.
func NewClient(minter *TokenMinter, reg *catalog.Registry, tasks audit.TaskRepository, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		http:   &http.Client{Timeout: HTTPTimeout},
		minter: minter,
		reg:    reg,
		tasks:  tasks,
		log:    log.With("component", "delegate"),
	}
}

// Execute forwards the action to the remote server and returns the event the
// server handed back, with state.temp.responseStatusCode set to the observed
// HTTP status. Every attempt records exactly one audit task: any HTTP
// response, success or error status, records completed; only transport-level
// failures record failed. Callers inspect the status code explicitly.
func (c *Client) Execute(ctx context.Context, req Request) (*contracts.Event, error) {
	task := &audit.ExecutionTask{
		ID:             uuid.New().String(),
		EventID:        req.IncomingEvent.ID,
		ActionName:     req.ActionName,
		ActionArgs:     req.ActionArgs,
		ActionServerID: req.Server.ID,
		StartedAt:      time.Now().UTC(),
	}

	ws, err := c.reg.WorkspaceFor(ctx, req.BotID)
	if err != nil {
		c.finishTask(ctx, task, audit.StatusFailed, "EWORKSPACE", 0)
		return nil, err
	}

	token, err := c.minter.Mint(req.BotID, ws)
	if err != nil {
		c.finishTask(ctx, task, audit.StatusFailed, "ETOKEN", 0)
		return nil, err
	}

	payload, err := json.Marshal(wirePayload{
		Token:         token,
		BotID:         req.BotID,
		ActionName:    req.ActionName,
		ActionArgs:    req.ActionArgs,
		IncomingEvent: req.IncomingEvent,
	})
	if err != nil {
		c.finishTask(ctx, task, audit.StatusFailed, "ESERIALIZE", 0)
		return nil, fmt.Errorf("serialize delegation payload: %w", err)
	}

	url := strings.TrimSuffix(req.Server.BaseURL, "/") + runActionPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		c.finishTask(ctx, task, audit.StatusFailed, "EREQUEST", 0)
		return nil, fmt.Errorf("build delegation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		code := transportCode(err)
		c.finishTask(ctx, task, audit.StatusFailed, code, 0)
		return nil, &TransportError{Code: code, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	// Any HTTP status is a valid response envelope; the remote call
	// happened, which is all the audit layer distinguishes.
	c.finishTask(ctx, task, audit.StatusCompleted, "", resp.StatusCode)

	ev := req.IncomingEvent
	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		c.log.Warn("action server response did not decode, keeping original event",
			"bot", req.BotID, "action", req.ActionName, "status", resp.StatusCode, "error", err)
	} else if wire.IncomingEvent != nil {
		ev = wire.IncomingEvent
	}

	ev.EnsureState()
	ev.State.Temp["responseStatusCode"] = resp.StatusCode
	return ev, nil
}

// finishTask stamps the terminal state and records the task. Audit writes
// are fire-and-forget; a failed write never blocks execution.
func (c *Client) finishTask(ctx context.Context, task *audit.ExecutionTask, status audit.Status, reason string, httpStatus int) {
	task.EndedAt = time.Now().UTC()
	task.Status = status
	task.FailureReason = reason
	task.ResponseStatus = httpStatus
	if err := c.tasks.CreateTask(ctx, task); err != nil {
		c.log.Warn("could not record execution task", "task", task.ID, "error", err)
	}
}

// transportCode classifies a connection-level failure into the reason code
// recorded on the audit task.
func transportCode(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "ETIMEDOUT"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "ECONNREFUSED"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "ECONNRESET"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "ENOTFOUND"
	}
	return "ECONN"
}
