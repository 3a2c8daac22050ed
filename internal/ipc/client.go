package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/natsbus"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

// RemoteError is a failure reported by the engine. It unwraps to a
// hiveerr.Error of the same kind so errors.Is and hiveerr.KindOf work on it.
type RemoteError struct {
	Kind    hiveerr.Kind
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return &hiveerr.Error{Kind: e.Kind} }

type Client struct {
	nc      *natsbus.Client
	timeout time.Duration
}

func NewClient(nc *natsbus.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{nc: nc, timeout: timeout}
}

// Call sends an operator command and decodes the reply data into out.
func (c *Client) Call(op string, req, out any) error {
	return c.call(natsbus.TopicControl(op), req, out)
}

// CallAgent sends a call on behalf of agentID.
func (c *Client) CallAgent(agentID, op string, req, out any) error {
	return c.call(natsbus.TopicAgent(agentID, op), req, out)
}

func (c *Client) call(subject string, req, out any) error {
	var body []byte
	if req != nil {
		var err error
		body, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	msg, err := c.nc.Request(subject, body, c.timeout)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		return &RemoteError{Kind: hiveerr.ParseKind(resp.Kind), Message: resp.Error}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// Engine drives a local worker pool against a remote hive. It satisfies
// workers.Engine.
type Engine struct {
	c *Client
}

func NewEngine(c *Client) *Engine { return &Engine{c: c} }

func (e *Engine) RequestWork(agentID string) (*task.Task, error) {
	var t *task.Task
	if err := e.c.CallAgent(agentID, OpRequestWork, nil, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) ReportOutcome(taskID, agentID string, outcome task.Outcome, detail, result string) (task.Task, error) {
	var t task.Task
	err := e.c.CallAgent(agentID, OpReport, ReportRequest{
		TaskID:  taskID,
		Outcome: outcome,
		Detail:  detail,
		Result:  result,
	}, &t)
	return t, err
}

func (e *Engine) ReportProgress(taskID, agentID string, percent float64, note string) error {
	return e.c.CallAgent(agentID, OpProgress, ProgressRequest{TaskID: taskID, Percent: percent, Note: note}, nil)
}

func (e *Engine) Heartbeat(agentID string) error {
	return e.c.CallAgent(agentID, OpHeartbeat, nil, nil)
}

func (e *Engine) GetAgent(id string) (registry.Agent, error) {
	var a registry.Agent
	err := e.c.CallAgent(id, OpWhoAmI, nil, &a)
	return a, err
}
