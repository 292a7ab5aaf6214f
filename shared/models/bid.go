package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid represents a single bid on an auction
type Bid struct {
	ID            uuid.UUID `json:"id"`
	AuctionID     uuid.UUID `json:"auction_id"`
	BidderID      int64     `json:"bidder_id"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
	IsRemoved     bool      `json:"is_removed"`
	RemovedReason *string   `json:"removed_reason,omitempty"`
	RemovedBy     *int64    `json:"removed_by,omitempty"`
}

// BidMultipliers are the allowed raise multiples of the minimum step
var BidMultipliers = []int{1, 3, 5}

// ValidMultiplier reports whether m is one of BidMultipliers
func ValidMultiplier(m int) bool {
	for _, v := range BidMultipliers {
		if v == m {
			return true
		}
	}
	return false
}

// BidRequest represents the incoming bid request from API
type BidRequest struct {
	BidderID   int64 `json:"bidder_id"`
	Multiplier int   `json:"multiplier"`
}

// BlacklistEntry is a ban on a user. Only moderators write these.
type BlacklistEntry struct {
	UserID    int64      `json:"user_id"`
	Reason    string     `json:"reason"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ActiveAt reports whether the ban is in force at now
func (e BlacklistEntry) ActiveAt(now time.Time) bool {
	return e.IsActive && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

// BidTrail is the chronological bid amounts of one completed auction
type BidTrail struct {
	AuctionID  uuid.UUID
	StartPrice int64
	Amounts    []int64
}
