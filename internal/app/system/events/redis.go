package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel instances share.
const DefaultChannel = "stratavault:events"

const (
	// relayBuffer is how many events may wait to be forwarded to Redis.
	relayBuffer = 256
	// relayTimeout bounds one Redis publish.
	relayTimeout = 2 * time.Second
)

// envelope tags an event with the instance that produced it so the origin
// does not deliver it twice.
type envelope struct {
	Origin string          `json:"origin"`
	Scope  string          `json:"scope"`
	Name   string          `json:"name"`
	Event  json.RawMessage `json:"event"`
}

// RedisBroker publishes events to every instance through Redis pub/sub and
// feeds events from other instances into the local hub.
type RedisBroker struct {
	client  *redis.Client
	channel string
	hub     *Hub
	origin  string
	out     chan outgoing
	log     *zap.Logger
}

type outgoing struct {
	name string
	msg  []byte
}

// NewRedisBroker creates a broker. Call Run to start receiving.
func NewRedisBroker(client *redis.Client, channel string, hub *Hub, log *zap.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroker{
		client:  client,
		channel: channel,
		hub:     hub,
		origin:  uuid.NewString(),
		out:     make(chan outgoing, relayBuffer),
		log:     log,
	}
}

// Publish delivers locally and queues the event for other instances. It never
// waits on Redis; when the queue is full, or Redis fails, remote subscribers
// only lose this hint.
func (b *RedisBroker) Publish(_ context.Context, scope, name string, payload any) {
	data, err := json.Marshal(Event{Scope: scope, Name: name, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		b.log.Warn("encode event failed", zap.String("event", name), zap.Error(err))
		return
	}
	b.hub.metrics.Event(name)
	b.hub.deliver(scope, name, data)

	msg, err := json.Marshal(envelope{Origin: b.origin, Scope: scope, Name: name, Event: data})
	if err != nil {
		return
	}
	select {
	case b.out <- outgoing{name: name, msg: msg}:
	default:
		b.log.Warn("redis relay backlog full, event not forwarded", zap.String("event", name))
	}
}

// forward drains the publish queue into Redis until ctx is done.
func (b *RedisBroker) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-b.out:
			pctx, cancel := context.WithTimeout(ctx, relayTimeout)
			err := b.client.Publish(pctx, b.channel, o.msg).Err()
			cancel()
			if err != nil {
				b.log.Warn("redis publish failed", zap.String("event", o.name), zap.Error(err))
			}
		}
	}
}

// Run subscribes to the channel, relays remote events into the hub and
// forwards queued local events until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.log.Info("live events relayed through redis", zap.String("channel", b.channel))

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.forward(fctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(m.Payload)
		}
	}
}

func (b *RedisBroker) handle(raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.log.Debug("ignoring malformed event", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.hub.deliver(env.Scope, env.Name, env.Event)
}
