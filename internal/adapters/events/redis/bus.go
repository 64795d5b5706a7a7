package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/ports"
)

const (
	DecisionChannel = "taskmesh:decisions"
	AlertChannel    = "taskmesh:alerts"
)

// Bus publishes finalized decisions and fleet alerts over Redis pub/sub.
// The websocket hub and the MQTT publisher are its consumers.
type Bus struct {
	client *redis.Client
}

func NewBus(url string) (*Bus, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return &Bus{client: client}, client, nil
}

var _ ports.EventBus = (*Bus)(nil)

func (b *Bus) PublishDecision(ctx context.Context, d *domain.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, DecisionChannel, data).Err()
}

func (b *Bus) PublishAgentAlert(ctx context.Context, alert domain.AgentAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, AlertChannel, data).Err()
}

func (b *Bus) SubscribeDecisions(ctx context.Context) (<-chan domain.Decision, error) {
	pubsub := b.client.Subscribe(ctx, DecisionChannel)
	ch := make(chan domain.Decision)

	go func() {
		defer pubsub.Close()
		defer close(ch)
		for msg := range pubsub.Channel() {
			var d domain.Decision
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				continue
			}
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (b *Bus) SubscribeAgentAlerts(ctx context.Context) (<-chan domain.AgentAlert, error) {
	pubsub := b.client.Subscribe(ctx, AlertChannel)
	ch := make(chan domain.AgentAlert)

	go func() {
		defer pubsub.Close()
		defer close(ch)
		for msg := range pubsub.Channel() {
			var alert domain.AgentAlert
			if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
				continue
			}
			select {
			case ch <- alert:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
