package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/borrowbox/borrowbox/internal/cache"
	"github.com/borrowbox/borrowbox/internal/monitoring"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Bridge routes room publishes through a shared Redis channel so that every
// process in the deployment delivers the event to its own subscribers. A
// circuit breaker guards the Redis publish; while it is open events fall
// back to local-only fan-out, which degrades multi-process delivery but
// keeps the room live for subscribers on this process.
type Bridge struct {
	broker  *Broker
	redis   *cache.Redis
	channel string
	breaker *gobreaker.CircuitBreaker
}

// NewBridge attaches a pub/sub bridge to the broker. All subsequent
// Publish calls on the broker are routed through the Redis channel.
func NewBridge(b *Broker, redis *cache.Redis, channel string) *Bridge {
	bridge := &Bridge{
		broker:  b,
		redis:   redis,
		channel: channel,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "broker-bridge",
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Info().
					Str("circuit_breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		}),
	}
	b.publish = bridge.publish
	return bridge
}

// publish sends the event through Redis, falling back to local fan-out when
// the publish fails or the breaker is open. Local delivery happens via the
// subscription loop on success, so the event is never delivered twice.
func (br *Bridge) publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("room_id", event.RoomID).Msg("Failed to encode room event")
		br.broker.deliverLocal(event)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = br.breaker.Execute(func() (interface{}, error) {
		return nil, br.redis.Client.Publish(ctx, br.channel, payload).Err()
	})
	if err != nil {
		log.Warn().Err(err).Str("room_id", event.RoomID).Msg("Bridge publish failed, delivering locally")
		monitoring.BrokerEventBridged("fallback")
		br.broker.deliverLocal(event)
		return
	}

	monitoring.BrokerEventBridged("published")
}

// Run subscribes to the bridge channel and delivers incoming events to this
// process's subscribers. It blocks until ctx is cancelled.
func (br *Bridge) Run(ctx context.Context) {
	pubsub := br.redis.Client.Subscribe(ctx, br.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Msg("Dropping malformed bridge event")
				continue
			}
			br.broker.deliverLocal(event)
		}
	}
}
