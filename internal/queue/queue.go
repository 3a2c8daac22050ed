// Package queue is the priority ordered work queue agents pull from.
//
// Lock order is queue then task. The queue lock is held across matching and
// the Pending to Assigned transition, so a task is handed to at most one
// agent at a time.
package queue

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hiveerr"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
)

type Options struct {
	MinEnergy      float64
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	DefaultTimeout time.Duration
	Now            func() time.Time
}

type Queue struct {
	mu      sync.Mutex
	tasks   map[string]*task.Record
	pending []*entry
	queued  map[string]*entry
	seqs    map[string]uint64
	seq     uint64

	sink task.Sink
	opts Options
}

type entry struct {
	rec      *task.Record
	priority task.Priority
	created  time.Time
	seq      uint64
}

func (e *entry) before(o *entry) bool {
	if e.priority != o.priority {
		return e.priority > o.priority
	}
	if !e.created.Equal(o.created) {
		return e.created.Before(o.created)
	}
	return e.seq < o.seq
}

func New(bus events.Publisher, recorder task.Recorder, opts Options) *Queue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	return &Queue{
		tasks:  make(map[string]*task.Record),
		queued: make(map[string]*entry),
		seqs:   make(map[string]uint64),
		sink:   task.Sink{Bus: bus, Recorder: recorder, Now: opts.Now},
		opts:   opts,
	}
}

// Sink returns the commit sink shared with the supervisor.
func (q *Queue) Sink() task.Sink { return q.sink }

// Enqueue validates def and inserts a new Pending task.
func (q *Queue) Enqueue(def task.Definition) (task.Task, error) {
	def.RequiredCapabilities = capability.NormalizeRequirements(def.RequiredCapabilities)
	if err := def.Validate(); err != nil {
		return task.Task{}, hiveerr.New(hiveerr.Validation, "enqueue", "%v", err)
	}
	rec := task.New(uuid.New().String(), def, q.opts.DefaultTimeout, q.opts.Now())

	q.mu.Lock()
	defer q.mu.Unlock()
	rec.Lock()
	defer rec.Unlock()

	q.tasks[rec.ID()] = rec
	q.seq++
	q.seqs[rec.ID()] = q.seq
	q.insert(rec)
	snap := q.sink.Commit(rec, events.TaskCreated, nil)
	slog.Info("task enqueued", "task", snap.ID, "priority", snap.Priority, "requires", capability.Names(snap.RequiredCapabilities))
	return snap, nil
}

// insert runs under q.mu and the record lock.
func (q *Queue) insert(rec *task.Record) {
	if _, ok := q.queued[rec.ID()]; ok {
		return
	}
	t := rec.Locked()
	e := &entry{rec: rec, priority: t.Priority, created: t.CreatedAt, seq: q.seqs[rec.ID()]}
	i := sort.Search(len(q.pending), func(i int) bool { return e.before(q.pending[i]) })
	q.pending = append(q.pending, nil)
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = e
	q.queued[rec.ID()] = e
}

// remove runs under q.mu.
func (q *Queue) remove(id string) {
	e, ok := q.queued[id]
	if !ok {
		return
	}
	delete(q.queued, id)
	for i, p := range q.pending {
		if p == e {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Pull hands the highest priority eligible Pending task to agent and marks it
// Assigned. It returns nil when nothing is eligible; callers retry later.
func (q *Queue) Pull(agent registry.Agent) *task.Record {
	if agent.State != registry.Idle || agent.Energy < q.opts.MinEnergy {
		return nil
	}
	now := q.opts.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < len(q.pending); i++ {
		e := q.pending[i]
		e.rec.Lock()
		t := e.rec.Locked()
		if t.Status != task.Pending {
			e.rec.Unlock()
			q.remove(e.rec.ID())
			i--
			continue
		}
		if now.Before(t.NotBefore) || !capability.Satisfies(agent.Capabilities, t.RequiredCapabilities) {
			e.rec.Unlock()
			continue
		}
		t.Status = task.Assigned
		t.AssignedAgent = agent.ID
		t.NotBefore = time.Time{}
		q.sink.Commit(e.rec, events.TaskAssigned, nil)
		e.rec.Unlock()
		q.remove(e.rec.ID())
		return e.rec
	}
	return nil
}

// Release undoes an assignment that never started, returning the task to
// Pending at its original position.
func (q *Queue) Release(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.tasks[id]
	if !ok {
		return hiveerr.New(hiveerr.NotFound, "release task", "task %s not found", id)
	}
	rec.Lock()
	defer rec.Unlock()
	t := rec.Locked()
	if t.Status != task.Assigned {
		return hiveerr.New(hiveerr.Conflict, "release task", "task %s is %s", id, t.Status)
	}
	t.Status = task.Pending
	t.AssignedAgent = ""
	q.insert(rec)
	q.sink.Commit(rec, "", nil)
	return nil
}

// Requeue makes a Pending task eligible again after delay. The supervisor
// sets the status before calling.
func (q *Queue) Requeue(id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.tasks[id]
	if !ok {
		return hiveerr.New(hiveerr.NotFound, "requeue", "task %s not found", id)
	}
	rec.Lock()
	defer rec.Unlock()
	t := rec.Locked()
	if t.Status != task.Pending {
		return hiveerr.New(hiveerr.Conflict, "requeue", "task %s is %s", id, t.Status)
	}
	if delay > 0 {
		t.NotBefore = q.opts.Now().Add(delay)
		q.sink.Commit(rec, "", nil)
	}
	q.insert(rec)
	return nil
}

// Prune forgets terminal tasks last updated before cutoff and returns how
// many were dropped.
func (q *Queue) Prune(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, rec := range q.tasks {
		rec.Lock()
		t := rec.Locked()
		old := t.Status.Terminal() && t.UpdatedAt.Before(cutoff)
		rec.Unlock()
		if !old {
			continue
		}
		q.remove(id)
		delete(q.tasks, id)
		delete(q.seqs, id)
		n++
	}
	return n
}

// Backoff returns the delay before the next attempt after attempt n ended.
// A zero BackoffMax leaves the delay uncapped; it saturates instead of
// overflowing.
func (q *Queue) Backoff(n int) time.Duration {
	base := q.opts.BackoffBase
	if base <= 0 || n < 1 {
		return 0
	}
	limit := q.opts.BackoffMax
	if limit <= 0 {
		limit = math.MaxInt64
	}
	d := base
	for i := 1; i < n && d < limit; i++ {
		if d > limit/2 {
			d = limit
			break
		}
		d *= 2
	}
	return min(d, limit)
}

// Cancel removes a Pending task from the queue or marks an in-flight one
// Cancelled. In-flight execution is not interrupted.
func (q *Queue) Cancel(id, reason string) (task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.tasks[id]
	if !ok {
		return task.Task{}, hiveerr.New(hiveerr.NotFound, "cancel task", "task %s not found", id)
	}
	rec.Lock()
	defer rec.Unlock()
	t := rec.Locked()
	if t.Status.Terminal() {
		return task.Task{}, hiveerr.New(hiveerr.Conflict, "cancel task", "task %s is already %s", id, t.Status)
	}
	if t.Status == task.Pending {
		q.remove(id)
	}
	t.Status = task.Cancelled
	t.CancelReason = reason
	snap := q.sink.Commit(rec, events.TaskCancelled, nil)
	slog.Info("task cancelled", "task", id, "reason", reason)
	return snap, nil
}

// Record returns the live record for the supervisor.
func (q *Queue) Record(id string) (*task.Record, error) {
	q.mu.Lock()
	rec, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return nil, hiveerr.New(hiveerr.NotFound, "task", "task %s not found", id)
	}
	return rec, nil
}

func (q *Queue) Get(id string) (task.Task, error) {
	rec, err := q.Record(id)
	if err != nil {
		return task.Task{}, err
	}
	return rec.Snapshot(), nil
}

func (q *Queue) records() []*task.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.Record, 0, len(q.tasks))
	for _, rec := range q.tasks {
		out = append(out, rec)
	}
	return out
}

// List returns matching tasks, highest priority first and oldest first
// within a priority.
func (q *Queue) List(f task.Filter) []task.Task {
	var out []task.Task
	for _, rec := range q.records() {
		t := rec.Snapshot()
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats counts tasks per status.
type Stats struct {
	Pending   int `json:"pending"`
	Assigned  int `json:"assigned"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Queued    int `json:"queued"`
}

func (q *Queue) Stats() Stats {
	var s Stats
	for _, rec := range q.records() {
		rec.Lock()
		switch rec.Locked().Status {
		case task.Pending:
			s.Pending++
		case task.Assigned:
			s.Assigned++
		case task.Running:
			s.Running++
		case task.Completed:
			s.Completed++
		case task.Failed:
			s.Failed++
		case task.Cancelled:
			s.Cancelled++
		}
		rec.Unlock()
	}
	q.mu.Lock()
	s.Queued = len(q.pending)
	q.mu.Unlock()
	return s
}

// Restore loads persisted tasks at startup. Pending and Assigned tasks go
// back on the queue; Running tasks are returned so the supervisor can end
// their interrupted attempt.
func (q *Queue) Restore(tasks []task.Task) []*task.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	var running []*task.Record
	for _, t := range tasks {
		rec := task.FromSnapshot(t)
		q.tasks[rec.ID()] = rec
		q.seq++
		q.seqs[rec.ID()] = q.seq

		rec.Lock()
		lt := rec.Locked()
		switch lt.Status {
		case task.Assigned:
			lt.Status = task.Pending
			lt.AssignedAgent = ""
			q.sink.Commit(rec, "", nil)
			q.insert(rec)
		case task.Pending:
			q.insert(rec)
		case task.Running:
			running = append(running, rec)
		}
		rec.Unlock()
	}
	return running
}

// Ping checks that every queued entry is still Pending.
func (q *Queue) Ping() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) != len(q.queued) {
		return hiveerr.New(hiveerr.Fatal, "queue", "index size %d != %d", len(q.pending), len(q.queued))
	}
	for _, e := range q.pending {
		e.rec.Lock()
		st := e.rec.Locked().Status
		e.rec.Unlock()
		if st != task.Pending {
			return hiveerr.New(hiveerr.Fatal, "queue", "queued task %s is %s", e.rec.ID(), st)
		}
	}
	return nil
}
