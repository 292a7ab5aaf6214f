package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nombah501/LiteAuction-sub001/internal/events"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

func TestParseMessage(t *testing.T) {
	id := uuid.New()
	ev := models.AuctionEvent{EventID: "e1", Type: models.EventBidAccepted, AuctionID: id, Amount: 55, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	msg, err := parseMessage(events.Channel(id), string(payload))
	require.NoError(t, err)
	assert.Equal(t, id, msg.AuctionID)
	assert.Equal(t, payload, msg.Payload)
	assert.Equal(t, int64(55), msg.Event.Amount)

	tests := []struct {
		name    string
		channel string
		payload string
	}{
		{"foreign channel", "bid_events:" + id.String(), string(payload)},
		{"bad json", events.Channel(id), "{"},
		{"mismatched auction", events.Channel(uuid.New()), string(payload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseMessage(tt.channel, tt.payload)
			assert.Error(t, err)
		})
	}
}

func TestListenRequiresSubscription(t *testing.T) {
	s := NewSubscriber(nil, nil)
	err := s.Listen(context.Background(), make(chan *Message))
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}
