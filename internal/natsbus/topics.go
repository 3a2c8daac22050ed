package natsbus

import (
	"fmt"
	"strings"

	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
)

// Topic patterns for NATS pub/sub communication.

func TopicEventsAgent(agentID string) string {
	return fmt.Sprintf("events.agent.%s", agentID)
}

func TopicEventsTask(taskID string) string {
	return fmt.Sprintf("events.task.%s", taskID)
}

// TopicControl is the request subject of an operator command.
func TopicControl(op string) string {
	return fmt.Sprintf("hive.ctl.%s", op)
}

// TopicAgent is the request subject an agent uses to talk to the engine.
func TopicAgent(agentID, op string) string {
	return fmt.Sprintf("hive.agent.%s.%s", agentID, op)
}

const (
	TopicEventsAll    = "events.>"
	TopicEventsTasks  = "events.task.*"
	TopicEventsAgents = "events.agent.*"
	TopicEventsSwarm  = "events.swarm"
	TopicControlAll   = "hive.ctl.*"
	TopicAgentAll     = "hive.agent.*.*"

	// EventStream keeps recent events for late readers.
	EventStream = "HIVE_EVENTS"
)

// EventSubject picks the subject an engine event is published on. Task
// events go to the task, agent and learning events to the agent, the rest
// to the swarm.
func EventSubject(ev events.Event) string {
	switch {
	case strings.HasPrefix(string(ev.Type), "task_") && ev.TaskID != "":
		return TopicEventsTask(ev.TaskID)
	case ev.Type == events.SwarmSnapshot:
		return TopicEventsSwarm
	case ev.AgentID != "":
		return TopicEventsAgent(ev.AgentID)
	default:
		return TopicEventsSwarm
	}
}

// ParseAgentTopic splits hive.agent.<id>.<op>.
func ParseAgentTopic(subject string) (agentID, op string, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "hive" || parts[1] != "agent" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
