package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/do-ops885/ai-orchestrator-hub/internal/capability"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hive"
	"github.com/do-ops885/ai-orchestrator-hub/internal/ipc"
	"github.com/do-ops885/ai-orchestrator-hub/internal/natsbus"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/store"
	"github.com/do-ops885/ai-orchestrator-hub/internal/task"
	"github.com/do-ops885/ai-orchestrator-hub/internal/workers"
)

type cli struct {
	client *ipc.Client
	nc     *natsbus.Client
	out    io.Writer
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseCapabilities reads "go:0.8,sql:0.5". A missing level means 0.5.
func parseCapabilities(s string) ([]capability.Capability, error) {
	var caps []capability.Capability
	for _, part := range splitList(s) {
		name, level, err := splitLevel(part, 0.5)
		if err != nil {
			return nil, err
		}
		caps = append(caps, capability.Capability{Name: name, Proficiency: level})
	}
	return caps, nil
}

// parseRequirements reads "go:0.6,sql". A missing level means any proficiency.
func parseRequirements(s string) ([]capability.Requirement, error) {
	var reqs []capability.Requirement
	for _, part := range splitList(s) {
		name, level, err := splitLevel(part, 0)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, capability.Requirement{Name: name, MinProficiency: level})
	}
	return reqs, nil
}

func splitLevel(part string, def float64) (string, float64, error) {
	name, raw, ok := strings.Cut(part, ":")
	if !ok {
		return name, def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid proficiency %q for %s", raw, name)
	}
	return name, v, nil
}

func taskDefinition(args map[string]string) (task.Definition, error) {
	def := task.Definition{Description: args["description"], Kind: args["kind"]}
	var err error
	if v := args["priority"]; v != "" {
		if def.Priority, err = task.ParsePriority(v); err != nil {
			return def, err
		}
	}
	if def.RequiredCapabilities, err = parseRequirements(args["caps"]); err != nil {
		return def, err
	}
	if v := args["timeout"]; v != "" {
		if def.Timeout, err = time.ParseDuration(v); err != nil {
			return def, fmt.Errorf("invalid timeout: %w", err)
		}
	}
	if v := args["retries"]; v != "" {
		if def.MaxRetries, err = strconv.Atoi(v); err != nil {
			return def, fmt.Errorf("invalid retries: %w", err)
		}
	}
	return def, nil
}

func requireID(args map[string]string) (string, error) {
	if args["id"] == "" {
		return "", fmt.Errorf("--id is required")
	}
	return args["id"], nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) run(ctx context.Context, command string, rest []string) error {
	args := parseArgs(rest)

	switch command {
	case "agents":
		req := ipc.ListAgentsRequest{Capability: args["capability"], IncludeRemoved: args["removed"] == "true"}
		for _, s := range splitList(args["state"]) {
			st, err := registry.ParseState(s)
			if err != nil {
				return err
			}
			req.States = append(req.States, st)
		}
		for _, s := range splitList(args["kind"]) {
			k, err := registry.ParseKind(s)
			if err != nil {
				return err
			}
			req.Kinds = append(req.Kinds, k)
		}
		if v := args["limit"]; v != "" {
			req.Limit, _ = strconv.Atoi(v)
		}
		var page hive.Page[registry.Agent]
		if err := c.client.Call(ipc.OpListAgents, req, &page); err != nil {
			return err
		}
		if len(page.Items) == 0 {
			fmt.Fprintln(c.out, "No agents found.")
			return nil
		}
		w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATE\tENERGY\tPERF\tDONE")
		for _, a := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%.2f\t%d\n", a.ID, a.Name, a.Kind, a.State, a.Energy, a.PerformanceScore, a.TasksCompleted)
		}
		return w.Flush()

	case "agent", "agent-pause", "agent-resume":
		id, err := requireID(args)
		if err != nil {
			return err
		}
		op := map[string]string{"agent": ipc.OpGetAgent, "agent-pause": ipc.OpPauseAgent, "agent-resume": ipc.OpResumeAgent}[command]
		var a registry.Agent
		if err := c.client.Call(op, ipc.IDRequest{ID: id}, &a); err != nil {
			return err
		}
		return c.printJSON(a)

	case "agent-create":
		if args["name"] == "" {
			return fmt.Errorf("--name is required")
		}
		kind, err := registry.ParseKind(args["kind"])
		if err != nil {
			return err
		}
		caps, err := parseCapabilities(args["caps"])
		if err != nil {
			return err
		}
		var a registry.Agent
		err = c.client.Call(ipc.OpCreateAgent, registry.Definition{
			Name:           args["name"],
			Kind:           kind,
			Specialization: args["specialization"],
			Capabilities:   caps,
		}, &a)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Agent created: %s\n", a.ID)
		return nil

	case "agent-remove":
		id, err := requireID(args)
		if err != nil {
			return err
		}
		if err := c.client.Call(ipc.OpRemoveAgent, ipc.RemoveAgentRequest{ID: id, Force: args["force"] == "true"}, nil); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Agent removed.")
		return nil

	case "tasks":
		req := ipc.ListTasksRequest{Agent: args["agent"], Capability: args["capability"], Kind: args["kind"], ScheduleID: args["schedule"]}
		for _, s := range splitList(args["status"]) {
			st, err := task.ParseStatus(s)
			if err != nil {
				return err
			}
			req.Statuses = append(req.Statuses, st)
		}
		if v := args["limit"]; v != "" {
			req.Limit, _ = strconv.Atoi(v)
		}
		var page hive.Page[task.Task]
		if err := c.client.Call(ipc.OpListTasks, req, &page); err != nil {
			return err
		}
		if len(page.Items) == 0 {
			fmt.Fprintln(c.out, "No tasks found.")
			return nil
		}
		w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tAGENT\tATTEMPTS\tDESCRIPTION")
		for _, t := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", t.ID, t.Status, t.Priority, t.AssignedAgent, len(t.Attempts), t.Description)
		}
		return w.Flush()

	case "task":
		id, err := requireID(args)
		if err != nil {
			return err
		}
		var t task.Task
		if err := c.client.Call(ipc.OpGetTask, ipc.IDRequest{ID: id}, &t); err != nil {
			return err
		}
		return c.printJSON(t)

	case "submit":
		if args["description"] == "" || args["caps"] == "" {
			return fmt.Errorf("--description and --caps are required")
		}
		def, err := taskDefinition(args)
		if err != nil {
			return err
		}
		var t task.Task
		if err := c.client.Call(ipc.OpCreateTask, def, &t); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Task created: %s\n", t.ID)
		return nil

	case "cancel":
		id, err := requireID(args)
		if err != nil {
			return err
		}
		var t task.Task
		if err := c.client.Call(ipc.OpCancelTask, ipc.CancelTaskRequest{ID: id, Reason: args["reason"]}, &t); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Task %s: %s\n", t.ID, t.Status)
		return nil

	case "candidates":
		id, err := requireID(args)
		if err != nil {
			return err
		}
		var cands []hive.Candidate
		if err := c.client.Call(ipc.OpCandidates, ipc.IDRequest{ID: id}, &cands); err != nil {
			return err
		}
		if len(cands) == 0 {
			fmt.Fprintln(c.out, "No capable agents.")
			return nil
		}
		w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tNAME\tSTATE\tFITNESS")
		for _, cand := range cands {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\n", cand.AgentID, cand.Name, cand.State, cand.Fitness)
		}
		return w.Flush()

	case "schedules":
		var list []store.Schedule
		if err := c.client.Call(ipc.OpListSchedules, nil, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(c.out, "No schedules found.")
			return nil
		}
		w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tNEXT RUN\tSCHEDULE")
		for _, s := range list {
			next := "-"
			if s.NextRunAt != nil {
				next = s.NextRunAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Status, next, s.Schedule)
		}
		return w.Flush()

	case "schedule-create":
		if args["name"] == "" || args["schedule"] == "" || args["description"] == "" || args["caps"] == "" {
			return fmt.Errorf("--name, --schedule, --description and --caps are required")
		}
		def, err := taskDefinition(args)
		if err != nil {
			return err
		}
		var s store.Schedule
		err = c.client.Call(ipc.OpCreateSchedule, ipc.CreateScheduleRequest{
			Name:     args["name"],
			Schedule: args["schedule"],
			Template: def,
		}, &s)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Schedule created: %s\n", s.ID)
		return nil

	case "schedule-pause", "schedule-resume", "schedule-delete":
		id, err := requireID(args)
		if err != nil {
			return err
		}
		op := map[string]string{
			"schedule-pause":  ipc.OpPauseSchedule,
			"schedule-resume": ipc.OpResumeSchedule,
			"schedule-delete": ipc.OpDeleteSchedule,
		}[command]
		if err := c.client.Call(op, ipc.IDRequest{ID: id}, nil); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "OK")
		return nil

	case "snapshot", "stats":
		var v json.RawMessage
		op := ipc.OpSnapshot
		if command == "stats" {
			op = ipc.OpStats
		}
		if err := c.client.Call(op, nil, &v); err != nil {
			return err
		}
		return c.printJSON(v)

	case "events":
		limit := 20
		if v := args["limit"]; v != "" {
			limit, _ = strconv.Atoi(v)
		}
		msgs, err := natsbus.Recent(c.nc, limit, time.Second)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintf(c.out, "%s  %-24s agent=%s task=%s %s\n",
				m.Timestamp.Local().Format(time.DateTime), m.Type, m.AgentID, m.TaskID, m.Data)
		}
		return nil

	case "work":
		ids := splitList(args["agents"])
		if len(ids) == 0 {
			return fmt.Errorf("--agents is required")
		}
		workTime := 500 * time.Millisecond
		if v := args["work-time"]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid work-time: %w", err)
			}
			workTime = d
		}
		pool := workers.NewPool(ipc.NewEngine(c.client), workers.NewSimulatedExecutor(workTime, uint64(time.Now().UnixNano())), workers.Options{})
		for _, id := range ids {
			pool.Start(ctx, id)
		}
		fmt.Fprintf(c.out, "Working as %d agents, interrupt to stop.\n", len(ids))
		<-ctx.Done()
		pool.Wait()
		return nil
	}

	return fmt.Errorf("unknown command: %s", command)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  hivectl agents [--state idle,active] [--kind worker] [--capability go] [--limit N]")
	fmt.Fprintln(os.Stderr, `  hivectl agent-create --name "..." [--kind worker] [--specialization "..."] [--caps go:0.8,sql:0.5]`)
	fmt.Fprintln(os.Stderr, "  hivectl agent|agent-pause|agent-resume --id ID")
	fmt.Fprintln(os.Stderr, "  hivectl agent-remove --id ID [--force true]")
	fmt.Fprintln(os.Stderr, "  hivectl tasks [--status pending,running] [--agent ID] [--limit N]")
	fmt.Fprintln(os.Stderr, `  hivectl submit --description "..." --caps go:0.6 [--priority high] [--timeout 5m] [--retries 3]`)
	fmt.Fprintln(os.Stderr, `  hivectl task|candidates --id ID`)
	fmt.Fprintln(os.Stderr, `  hivectl cancel --id ID [--reason "..."]`)
	fmt.Fprintln(os.Stderr, "  hivectl schedules")
	fmt.Fprintln(os.Stderr, `  hivectl schedule-create --name "..." --schedule "every 1h" --description "..." --caps go:0.6 [--priority high]`)
	fmt.Fprintln(os.Stderr, "  hivectl schedule-pause|schedule-resume|schedule-delete --id ID")
	fmt.Fprintln(os.Stderr, "  hivectl snapshot|stats")
	fmt.Fprintln(os.Stderr, "  hivectl events [--limit N]")
	fmt.Fprintln(os.Stderr, "  hivectl work --agents ID,ID [--work-time 500ms]")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	nc, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		fatal("%v", err)
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{client: ipc.NewClient(nc, 10*time.Second), nc: nc, out: os.Stdout}
	if err := c.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fatal("%v", err)
	}
}
