package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// PubSub is the part of a Redis client used for live fan-out
type PubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Stream is the part of a JetStream context used for durable delivery
type Stream interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// PublisherStats is a snapshot of the publish counters
type PublisherStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

// Publisher sends events to Pub/Sub and the stream. Either sink may be nil.
type Publisher struct {
	pubsub  PubSub
	stream  Stream
	log     *slog.Logger
	timeout time.Duration

	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher creates a Publisher
func NewPublisher(pubsub PubSub, stream Stream, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{pubsub: pubsub, stream: stream, log: log, timeout: 5 * time.Second}
}

// Stats returns the current counters
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{Published: p.published.Load(), Failed: p.failed.Load()}
}

// Publish delivers each event to every configured sink. Failures are logged
// and joined into the returned error; one failing sink does not stop the other.
func (p *Publisher) Publish(ctx context.Context, evs ...models.AuctionEvent) error {
	// Outcomes are already committed; a cancelled request must not drop them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	var errs []error
	for _, ev := range evs {
		data, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal event: %w", err))
			continue
		}
		if err := p.send(ctx, ev, data); err != nil {
			p.failed.Inc()
			p.log.Warn("Failed to publish auction event", "event_type", ev.Type, "auction_id", ev.AuctionID, "err", err)
			errs = append(errs, err)
			continue
		}
		p.published.Inc()
		p.log.Debug("Published auction event", "event_type", ev.Type, "auction_id", ev.AuctionID, "event_id", ev.EventID)
	}
	return errors.Join(errs...)
}

func (p *Publisher) send(ctx context.Context, ev models.AuctionEvent, data []byte) error {
	var errs []error
	if p.pubsub != nil {
		if err := p.pubsub.Publish(ctx, Channel(ev.AuctionID), data).Err(); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish to redis: %w", err))
		}
	}
	if p.stream != nil {
		if _, err := p.stream.Publish(ctx, Subject(ev.AuctionID), data); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish to JetStream: %w", err))
		}
	}
	return errors.Join(errs...)
}

// EnsureStream creates or updates the durable event stream
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Committed auction outcomes for the notification dispatcher",
		Subjects:    []string{SubjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream: %w", err)
	}
	return nil
}

// DialRedis connects to Redis and verifies the connection
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}
