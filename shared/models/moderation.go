package models

import (
	"time"

	"github.com/google/uuid"
)

// ModerationAction names a moderator action recorded in the audit log
type ModerationAction string

// ModerationAction constants
const (
	ModerationFreezeAuction   ModerationAction = "FREEZE_AUCTION"
	ModerationUnfreezeAuction ModerationAction = "UNFREEZE_AUCTION"
	ModerationEndAuction      ModerationAction = "END_AUCTION"
	ModerationRemoveBid       ModerationAction = "REMOVE_BID"
)

// ModerationLog is one audit row, written in the transaction of the action it records
type ModerationLog struct {
	ID           int64            `json:"id"`
	ActorID      int64            `json:"actor_id"`
	Action       ModerationAction `json:"action"`
	Reason       string           `json:"reason"`
	AuctionID    *uuid.UUID       `json:"auction_id,omitempty"`
	BidID        *uuid.UUID       `json:"bid_id,omitempty"`
	TargetUserID *int64           `json:"target_user_id,omitempty"`
	Payload      map[string]any   `json:"payload,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
