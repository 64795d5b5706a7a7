package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"taskmesh.route/internal/core/logger"
	"taskmesh.route/internal/core/ports"
)

// Publisher relays the decision and alert streams to an MQTT broker so IoT
// dashboards can subscribe without speaking Redis.
type Publisher struct {
	client mqtt.Client
	bus    ports.EventBus
	prefix string
}

func NewPublisher(bus ports.EventBus, brokerURL string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("taskmesh-route-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	logger.Info("connected to MQTT broker", "broker", brokerURL)
	return &Publisher{
		client: client,
		bus:    bus,
		prefix: "taskmesh",
	}, nil
}

// Start launches the consumers.
func (p *Publisher) Start(ctx context.Context) {
	go p.consumeDecisions(ctx)
	go p.consumeAlerts(ctx)
}

func (p *Publisher) consumeDecisions(ctx context.Context) {
	ch, err := p.bus.SubscribeDecisions(ctx)
	if err != nil {
		logger.Error("mqtt publisher failed to subscribe to decisions", "error", err)
		return
	}

	logger.Info("mqtt decision consumer started")

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			payload, _ := json.Marshal(d)
			// Topic: taskmesh/decisions/{task_id}
			topic := fmt.Sprintf("%s/decisions/%s", p.prefix, d.TaskID)
			p.client.Publish(topic, 0, false, payload)
		}
	}
}

func (p *Publisher) consumeAlerts(ctx context.Context) {
	ch, err := p.bus.SubscribeAgentAlerts(ctx)
	if err != nil {
		logger.Error("mqtt publisher failed to subscribe to alerts", "error", err)
		return
	}

	logger.Info("mqtt alert consumer started")

	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-ch:
			if !ok {
				return
			}
			event := map[string]interface{}{
				"type":    "agent_alert",
				"payload": alert,
			}
			data, _ := json.Marshal(event)
			topic := fmt.Sprintf("%s/alerts", p.prefix)
			p.client.Publish(topic, 0, false, data)
		}
	}
}
