// internal/bus/nats.go
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-transcoder/pkg/schema"
)

type Client struct{ nc *nats.Conn }

func Connect(url string, opts ...nats.Option) (*Client, error) {
	opts = append([]nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// SubscribeJSON decodes every message on subject into a fresh T.
// Undecodable messages are passed to handler with a non-nil error.
func SubscribeJSON[T any](c *Client, subject string, handler func(ctx context.Context, v T, err error)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var v T
		err := json.Unmarshal(msg.Data, &v)
		handler(ctx, v, err)
	})
}

// JobPublisher announces finished jobs on a subject.
type JobPublisher struct {
	client  *Client
	subject string
}

func NewJobPublisher(c *Client, subject string) *JobPublisher {
	return &JobPublisher{client: c, subject: subject}
}

func (p *JobPublisher) Subject() string { return p.subject }

func (p *JobPublisher) Publish(ctx context.Context, rec schema.JobCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.client.PublishJSON(p.subject, rec); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}
