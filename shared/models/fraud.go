package models

import (
	"time"

	"github.com/google/uuid"
)

// FraudSignalStatus is the moderation state of a fraud signal
type FraudSignalStatus string

// FraudSignalStatus constants
const (
	FraudSignalOpen      FraudSignalStatus = "OPEN"
	FraudSignalConfirmed FraudSignalStatus = "CONFIRMED"
	FraudSignalDismissed FraudSignalStatus = "DISMISSED"
)

// Resolution reports whether s is a status a moderator may resolve to
func (s FraudSignalStatus) Resolution() bool {
	return s == FraudSignalConfirmed || s == FraudSignalDismissed
}

// FraudReason is one heuristic's contribution to a signal
type FraudReason struct {
	Code    string `json:"code"`
	Verdict string `json:"verdict"`
	Score   int    `json:"score"`
	Detail  string `json:"detail,omitempty"`
}

// FraudSignal is opened when a bid's composite risk score crosses the alert threshold
type FraudSignal struct {
	ID             int64             `json:"id"`
	AuctionID      uuid.UUID         `json:"auction_id"`
	BidID          uuid.UUID         `json:"bid_id"`
	BidderID       int64             `json:"bidder_id"`
	Score          int               `json:"score"`
	Reasons        []FraudReason     `json:"reasons"`
	Status         FraudSignalStatus `json:"status"`
	ResolvedBy     *int64            `json:"resolved_by,omitempty"`
	ResolutionNote string            `json:"resolution_note,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}

// FraudSignalFilter narrows a fraud signal listing
type FraudSignalFilter struct {
	AuctionID *uuid.UUID
	Status    *FraudSignalStatus
	Limit     int
	Offset    int
}
