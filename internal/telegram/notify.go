package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
	"github.com/do-ops885/ai-orchestrator-hub/internal/swarm"
)

// SendFunc delivers text to one chat.
type SendFunc func(ctx context.Context, chatID int64, text string) error

// sendRate keeps alerts under the Bot API limit of 30 messages per second.
const sendRate = 20

// Notifier forwards resource alerts to a fixed set of chats. Repeats of the
// same alert within the cooldown are suppressed.
type Notifier struct {
	send     SendFunc
	cooldown time.Duration
	now      func() time.Time
	limiter  *rate.Limiter

	mu      sync.Mutex
	chatIDs []int64
	last    map[string]time.Time
}

func NewNotifier(send SendFunc, chatIDs []int64, cooldown time.Duration) *Notifier {
	return &Notifier{
		send:     send,
		cooldown: cooldown,
		now:      time.Now,
		limiter:  rate.NewLimiter(sendRate, sendRate),
		chatIDs:  append([]int64(nil), chatIDs...),
		last:     make(map[string]time.Time),
	}
}

// UpdateChatIDs replaces the recipients.
func (n *Notifier) UpdateChatIDs(ids []int64) {
	n.mu.Lock()
	n.chatIDs = append([]int64(nil), ids...)
	n.mu.Unlock()
}

// Allowed reports whether chatID is a recipient.
func (n *Notifier) Allowed(chatID int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.chatIDs, chatID)
}

// Run forwards alerts until ctx is done or the bus closes.
func (n *Notifier) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(events.SubscribeOptions{Types: []events.Type{events.ResourceAlert}})
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			alert, ok := ev.Payload.(events.Alert)
			if !ok {
				continue
			}
			n.Notify(ctx, alert)
		}
	}
}

// Notify sends alert to every chat unless it was sent within the cooldown.
// It returns the number of chats that received it.
func (n *Notifier) Notify(ctx context.Context, alert events.Alert) int {
	key := alert.Resource + "/" + alert.Level + "/" + alert.AgentID

	n.mu.Lock()
	now := n.now()
	if at, ok := n.last[key]; ok && n.cooldown > 0 && now.Sub(at) < n.cooldown {
		n.mu.Unlock()
		return 0
	}
	n.last[key] = now
	ids := append([]int64(nil), n.chatIDs...)
	n.mu.Unlock()

	text := formatAlert(alert)
	sent := 0
	for _, id := range ids {
		if err := n.limiter.Wait(ctx); err != nil {
			return sent
		}
		if err := n.send(ctx, id, text); err != nil {
			slog.Error("failed to send telegram alert", "chat", id, "resource", alert.Resource, "error", err)
			continue
		}
		sent++
	}
	return sent
}

func formatAlert(a events.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(a.Level), a.Resource)
	if a.AgentID != "" {
		fmt.Fprintf(&b, " (agent %s)", a.AgentID)
	}
	if a.Message != "" {
		b.WriteString("\n")
		b.WriteString(a.Message)
	}
	if a.Threshold != 0 {
		fmt.Fprintf(&b, "\nvalue %.2f, threshold %.2f", a.Value, a.Threshold)
	}
	return b.String()
}

func formatSnapshot(s swarm.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Health: %s", s.Health)
	if s.HealthReason != "" {
		fmt.Fprintf(&b, " (%s)", s.HealthReason)
	}
	fmt.Fprintf(&b, "\nAgents: %d total, %d active, %d idle, %d paused, %d failed",
		s.TotalAgents, s.ActiveAgents, s.IdleAgents, s.PausedAgents, s.FailedAgents)
	fmt.Fprintf(&b, "\nTasks: %d pending, %d running, %d completed, %d failed, %d cancelled",
		s.PendingTasks, s.RunningTasks, s.CompletedCount, s.FailedCount, s.CancelledCount)
	fmt.Fprintf(&b, "\nPerformance %.2f, energy %.1f, cohesion %.2f",
		s.AveragePerformance, s.AverageEnergy, s.Cohesion)
	return b.String()
}
