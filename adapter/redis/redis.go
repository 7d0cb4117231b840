// Package redis publishes run-completion events over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/ferret/adapter"
)

// Defaults applied by New when the config leaves a field unset.
const (
	DefaultChannel = "ferret:run_completed"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Config configures the Redis pub/sub adapter. URL is required,
// redis://[:password@]host:port[/db].
type Config struct {
	URL     string
	Channel string
	Timeout time.Duration
	Retries int
}

// Adapter publishes run completion events via Redis PUBLISH. Downstream
// consumers subscribe to the channel; there is no delivery guarantee
// beyond what pub/sub offers, the store remains the source of truth.
type Adapter struct {
	client  *goredis.Client
	channel string
	timeout time.Duration
	retries int
}

// New creates a Redis pub/sub adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("redis adapter: retries must be >= 0, got %d", cfg.Retries)
	}

	a := &Adapter{
		client:  goredis.NewClient(opts),
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
	}
	if a.channel == "" {
		a.channel = DefaultChannel
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a, nil
}

// Publish sends the event as JSON on the configured channel, retrying
// connection errors with backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis adapter: marshal event: %w", err)
	}
	return adapter.Retry(ctx, 1+a.retries, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.client.Publish(publishCtx, a.channel, body).Err()
	})
}

// Close releases the client's connections.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
