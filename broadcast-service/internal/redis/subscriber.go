package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Nombah501/LiteAuction-sub001/internal/events"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Subscriber wraps Redis Pub/Sub functionality
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    *slog.Logger
}

// NewSubscriber creates a new Redis Pub/Sub subscriber over a connected client
func NewSubscriber(client *redis.Client, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{client: client, log: log}
}

// SubscribeToAuctions subscribes to the events of every auction
// Pattern: "auction_events:*"
func (s *Subscriber) SubscribeToAuctions(ctx context.Context) error {
	s.pubsub = s.client.PSubscribe(ctx, events.ChannelPattern)
	// Wait for the confirmation so a bad connection fails here
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.ChannelPattern, err)
	}
	return nil
}

// Listen forwards messages until ctx is done.
// This is a blocking operation - run in a goroutine
func (s *Subscriber) Listen(ctx context.Context, messageChan chan<- *Message) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription closed")
			}
			parsed, err := parseMessage(msg.Channel, msg.Payload)
			if err != nil {
				s.log.Warn("Dropping malformed event", "channel", msg.Channel, "err", err)
				continue
			}
			select {
			case messageChan <- parsed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Message represents a parsed Pub/Sub message
type Message struct {
	AuctionID uuid.UUID
	Payload   []byte // Raw JSON payload
	Event     models.AuctionEvent
}

func parseMessage(channel, payload string) (*Message, error) {
	auctionID, err := events.AuctionIDFromChannel(channel)
	if err != nil {
		return nil, err
	}
	var ev models.AuctionEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if ev.AuctionID != auctionID {
		return nil, fmt.Errorf("event for auction %s on channel of %s", ev.AuctionID, auctionID)
	}
	return &Message{AuctionID: auctionID, Payload: []byte(payload), Event: ev}, nil
}

// Close closes the subscription
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
