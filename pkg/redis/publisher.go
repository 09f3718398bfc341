package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/truly-network/eventlistener/pkg/events"
	"github.com/truly-network/eventlistener/pkg/ingest"
)

// Publisher announces stored records on the network's event.stored channel.
type Publisher struct {
	client    *Client
	networkID uint64
	channel   string
}

func NewPublisher(client *Client, networkID uint64) *Publisher {
	return &Publisher{client: client, networkID: networkID, channel: events.GetStoredChannel(networkID)}
}

var _ ingest.Notifier = (*Publisher)(nil)

// Channel returns the Pub/Sub channel notifications are published to.
func (p *Publisher) Channel() string { return p.channel }

func (p *Publisher) Notify(ctx context.Context, table string, rec events.Record) error {
	payload, err := json.Marshal(events.NewStoredNotification(p.networkID, table, rec))
	if err != nil {
		return fmt.Errorf("encode stored notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}
