package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/do-ops885/ai-orchestrator-hub/internal/events"
)

// Message is the wire form of an engine event.
type Message struct {
	Type      events.Type     `json:"type"`
	AgentID   string          `json:"agent_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Bridge forwards in-process events to NATS subjects.
type Bridge struct {
	client *Client
	bus    *events.Bus
	buffer int

	forwarded atomic.Uint64
	failed    atomic.Uint64
}

func NewBridge(client *Client, bus *events.Bus, buffer int) *Bridge {
	return &Bridge{client: client, bus: bus, buffer: buffer}
}

// EnsureStream creates or updates the stream that retains recent events.
func (b *Bridge) EnsureStream(maxAge time.Duration, maxMsgs int64) error {
	js, err := b.client.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}
	cfg := &nats.StreamConfig{
		Name:     EventStream,
		Subjects: []string{TopicEventsAll},
		Storage:  nats.FileStorage,
		Discard:  nats.DiscardOld,
		MaxAge:   maxAge,
		MaxMsgs:  maxMsgs,
	}
	if _, err := js.StreamInfo(EventStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("stream info: %w", err)
		}
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("add stream: %w", err)
		}
		return nil
	}
	if _, err := js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// Run forwards events until ctx is cancelled or the bus is closed.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.bus.Subscribe(events.SubscribeOptions{Buffer: b.buffer})
	defer sub.Close()

	slog.Info("event bridge started")
	var dropped uint64
	for {
		select {
		case <-ctx.Done():
			slog.Info("event bridge stopped")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				slog.Info("event bridge stopped", "reason", "bus closed")
				return
			}
			if err := b.forward(ev); err != nil {
				b.failed.Add(1)
				slog.Warn("forward event failed", "type", ev.Type, "error", err)
			}
			if d := sub.Dropped(); d > dropped {
				slog.Warn("event bridge dropped events", "count", d-dropped)
				dropped = d
			}
		}
	}
}

func (b *Bridge) forward(ev events.Event) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(EventSubject(ev), data); err != nil {
		return err
	}
	b.forwarded.Add(1)
	return nil
}

// Forwarded returns the number of events published to NATS.
func (b *Bridge) Forwarded() uint64 { return b.forwarded.Load() }

// Failed returns the number of events that could not be published.
func (b *Bridge) Failed() uint64 { return b.failed.Load() }

// Encode converts an engine event to its wire form.
func Encode(ev events.Event) (Message, error) {
	msg := Message{Type: ev.Type, AgentID: ev.AgentID, TaskID: ev.TaskID, Timestamp: ev.Timestamp}
	if ev.Payload != nil {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal payload: %w", err)
		}
		msg.Data = data
	}
	return msg, nil
}

// Recent returns up to limit of the latest retained events, oldest first.
func Recent(client *Client, limit int, timeout time.Duration) ([]Message, error) {
	js, err := client.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	info, err := js.StreamInfo(EventStream)
	if err != nil {
		return nil, fmt.Errorf("stream info: %w", err)
	}
	last := info.State.LastSeq
	if info.State.Msgs == 0 || limit <= 0 {
		return nil, nil
	}
	start := info.State.FirstSeq
	if last >= uint64(limit) && last-uint64(limit)+1 > start {
		start = last - uint64(limit) + 1
	}

	sub, err := js.SubscribeSync(TopicEventsAll, nats.OrderedConsumer(), nats.StartSequence(start))
	if err != nil {
		return nil, fmt.Errorf("subscribe stream: %w", err)
	}
	defer sub.Unsubscribe()

	var out []Message
	for len(out) < limit {
		m, err := sub.NextMsg(timeout)
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				break
			}
			return out, fmt.Errorf("next event: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Warn("skip undecodable event", "subject", m.Subject, "error", err)
		} else {
			out = append(out, msg)
		}
		meta, err := m.Metadata()
		if err == nil && meta.Sequence.Stream >= last {
			break
		}
	}
	return out, nil
}
