package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// mirrorChannel is the redis pub/sub channel feed events travel on.
const mirrorChannel = "recall.events"

// Broadcaster is the fanout surface handed to the serve layer: the
// plain Feed in standalone mode, a Mirror in managed mode.
type Broadcaster interface {
	Broadcast(Event)
}

// envelope carries an event between instances. Origin lets an
// instance drop its own publishes when they echo back.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Mirror replicates feed events across serve instances through redis
// pub/sub, so every machine in a managed deployment sees the same
// live feed.
type Mirror struct {
	feed   *Feed
	client *redis.Client
	id     string
	cancel context.CancelFunc
}

// NewMirror connects a feed to a redis instance.
func NewMirror(feed *Feed, addr string) *Mirror {
	return &Mirror{
		feed:   feed,
		client: redis.NewClient(&redis.Options{Addr: addr}),
		id:     uuid.NewString(),
	}
}

// Start verifies the connection and begins pumping remote events into
// the local feed.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	sub := m.client.Subscribe(runCtx, mirrorChannel)
	go m.pump(runCtx, sub)

	slog.Info("bus: redis mirror started", "channel", mirrorChannel, "instance", m.id)
	return nil
}

func (m *Mirror) pump(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Debug("bus: dropping undecodable mirror payload", "error", err)
				continue
			}
			if env.Origin == m.id {
				continue
			}
			m.feed.Broadcast(env.Event)
		}
	}
}

// Broadcast delivers locally and publishes for the other instances.
func (m *Mirror) Broadcast(ev Event) {
	m.feed.Broadcast(ev)

	data, err := json.Marshal(envelope{Origin: m.id, Event: ev})
	if err != nil {
		slog.Debug("bus: mirror marshal failed", "event", ev.Name, "error", err)
		return
	}
	if err := m.client.Publish(context.Background(), mirrorChannel, data).Err(); err != nil {
		slog.Warn("bus: mirror publish failed", "event", ev.Name, "error", err)
	}
}

// Stop halts the pump and closes the redis client.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if err := m.client.Close(); err != nil {
		slog.Debug("bus: redis close", "error", err)
	}
}
