package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types carried on the auction event channels
const (
	EventBidAccepted       = "bid.accepted"
	EventAuctionFinalized  = "auction.finalized"
	EventFraudSignalOpened = "fraud.signal_opened"
	EventAuctionUpdated    = "auction.updated"
)

// AuctionEvent represents an event that gets published after a commit.
// This is sent to:
// 1. Redis Pub/Sub (for real-time WebSocket broadcast)
// 2. NATS JetStream (for the notification dispatcher)
type AuctionEvent struct {
	EventID          string        `json:"event_id"`
	Type             string        `json:"type"`
	AuctionID        uuid.UUID     `json:"auction_id"`
	Status           AuctionStatus `json:"status,omitempty"`
	BidID            *uuid.UUID    `json:"bid_id,omitempty"`
	BidderID         *int64        `json:"bidder_id,omitempty"`
	Amount           int64         `json:"amount,omitempty"`
	PreviousLeaderID *int64        `json:"previous_leader_id,omitempty"`
	SellerID         *int64        `json:"seller_id,omitempty"`
	WinnerID         *int64        `json:"winner_id,omitempty"`
	FraudSignalID    *int64        `json:"fraud_signal_id,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}
