// Package workers runs in-process agents that pull work from the engine
// and report outcomes back, the same way a remote agent would.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

// Engine is the agent-side surface of the hive.
type Engine interface {
	RequestWork(agentID string) (*task.Task, error)
	ReportOutcome(taskID, agentID string, outcome task.Outcome, detail, result string) (task.Task, error)
	ReportProgress(taskID, agentID string, percent float64, note string) error
	Heartbeat(agentID string) error
	GetAgent(id string) (registry.Agent, error)
}

// Executor performs the work of one attempt. A nil error reports success.
type Executor interface {
	Execute(ctx context.Context, a registry.Agent, t task.Task, progress func(percent float64, note string)) (string, error)
}

type Options struct {
	PollInterval time.Duration
	MaxBackoff   time.Duration
	Heartbeat    time.Duration
}

type Pool struct {
	engine Engine
	exec   Executor
	opts   Options

	mu      sync.Mutex
	workers map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(engine Engine, exec Executor, opts Options) *Pool {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxBackoff < opts.PollInterval {
		opts.MaxBackoff = opts.PollInterval
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	return &Pool{
		engine:  engine,
		exec:    exec,
		opts:    opts,
		workers: make(map[string]context.CancelFunc),
	}
}

// Start launches a worker loop for agentID. Starting an agent that already
// has a worker is a no-op.
func (p *Pool) Start(ctx context.Context, agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[agentID]; ok {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	p.workers[agentID] = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.forget(agentID)
		p.loop(wctx, agentID)
	}()
}

// Stop cancels the worker for agentID. An attempt in progress is abandoned
// and left to the supervisor.
func (p *Pool) Stop(agentID string) {
	p.mu.Lock()
	cancel, ok := p.workers[agentID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Running returns the agents that have a live worker.
func (p *Pool) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.workers))
	for id := range p.workers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) forget(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.workers[agentID]; ok {
		cancel()
		delete(p.workers, agentID)
	}
}

func (p *Pool) loop(ctx context.Context, agentID string) {
	slog.Info("worker started", "agent", agentID)
	defer slog.Info("worker stopped", "agent", agentID)

	wait := p.opts.PollInterval
	for {
		t, err := p.engine.RequestWork(agentID)
		switch {
		case errors.Is(err, hiveerr.ErrNotFound):
			return
		case err != nil:
			if a, gerr := p.engine.GetAgent(agentID); gerr == nil && a.State == registry.Removed {
				return
			}
			slog.Debug("request work rejected", "agent", agentID, "error", err)
			wait = min(wait*2, p.opts.MaxBackoff)
		case t == nil:
			wait = min(wait*2, p.opts.MaxBackoff)
		default:
			p.run(ctx, agentID, *t)
			wait = p.opts.PollInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *Pool) run(ctx context.Context, agentID string, t task.Task) {
	a, err := p.engine.GetAgent(agentID)
	if err != nil {
		slog.Warn("worker lost its agent", "agent", agentID, "task", t.ID, "error", err)
		return
	}

	actx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		ticker := time.NewTicker(p.opts.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-actx.Done():
				return
			case <-ticker.C:
				if err := p.engine.Heartbeat(agentID); err != nil {
					slog.Warn("heartbeat failed", "agent", agentID, "error", err)
				}
			}
		}
	}()

	progress := func(percent float64, note string) {
		if err := p.engine.ReportProgress(t.ID, agentID, percent, note); err != nil {
			slog.Debug("progress rejected", "agent", agentID, "task", t.ID, "error", err)
		}
	}
	result, execErr := p.exec.Execute(actx, a, t, progress)
	cancel()
	<-hbDone

	if ctx.Err() != nil {
		// Shutting down. The supervisor ends the attempt when it times out.
		return
	}
	outcome, detail := task.Success, ""
	if execErr != nil {
		outcome, detail = task.Failure, execErr.Error()
	}
	if _, err := p.engine.ReportOutcome(t.ID, agentID, outcome, detail, result); err != nil {
		slog.Warn("report outcome rejected", "agent", agentID, "task", t.ID, "error", err)
	}
}
