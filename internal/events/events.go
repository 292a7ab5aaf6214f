// Package events fans committed auction outcomes out to Redis Pub/Sub for
// live displays and to a NATS JetStream stream for the notification
// dispatcher. Publication always happens after the transaction commits and
// never changes the outcome it reports.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nombah501/LiteAuction-sub001/internal/bidding"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Channel and stream naming
const (
	ChannelPrefix  = "auction_events:"
	ChannelPattern = ChannelPrefix + "*"
	SubjectPrefix  = "auction.events."
	StreamName     = "AUCTION_EVENTS"
)

// Channel returns the Redis Pub/Sub channel of an auction
func Channel(auctionID uuid.UUID) string {
	return ChannelPrefix + auctionID.String()
}

// Subject returns the JetStream subject of an auction
func Subject(auctionID uuid.UUID) string {
	return SubjectPrefix + auctionID.String()
}

// AuctionIDFromChannel extracts the auction id from a Pub/Sub channel name
func AuctionIDFromChannel(channel string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("channel %q is not an auction channel", channel)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid auction id in channel %q: %w", channel, err)
	}
	return id, nil
}

func newEvent(typ string, auctionID uuid.UUID, now time.Time) models.AuctionEvent {
	return models.AuctionEvent{
		EventID:   uuid.New().String(),
		Type:      typ,
		AuctionID: auctionID,
		Timestamp: now.UTC(),
	}
}

// FromOutcome builds the events of one processed bid. Rejections that did
// not change the public view produce nothing.
func FromOutcome(in bidding.BidIntent, out bidding.Outcome, now time.Time) []models.AuctionEvent {
	var evs []models.AuctionEvent

	if out.Success {
		ev := newEvent(models.EventBidAccepted, in.AuctionID, now)
		bidder := in.BidderID
		ev.Status = out.Status
		ev.BidID = out.CreatedBidID
		ev.BidderID = &bidder
		ev.Amount = out.SettledAmount
		ev.PreviousLeaderID = out.PreviousLeaderID
		evs = append(evs, ev)
	}

	switch {
	case out.AuctionFinished:
		ev := newEvent(models.EventAuctionFinalized, in.AuctionID, now)
		ev.Status = out.Status
		ev.SellerID = out.SellerID
		ev.WinnerID = out.WinnerID
		evs = append(evs, ev)
	case !out.Success && out.ShouldRefreshDisplay:
		evs = append(evs, newEvent(models.EventAuctionUpdated, in.AuctionID, now))
	}

	if out.FraudSignalID != nil {
		ev := newEvent(models.EventFraudSignalOpened, in.AuctionID, now)
		bidder := in.BidderID
		ev.BidID = out.CreatedBidID
		ev.BidderID = &bidder
		ev.FraudSignalID = out.FraudSignalID
		evs = append(evs, ev)
	}
	return evs
}

// FromFinalize builds the event of an auction ended by the sweep
func FromFinalize(res bidding.FinalizeResult, now time.Time) models.AuctionEvent {
	ev := newEvent(models.EventAuctionFinalized, res.AuctionID, now)
	seller := res.SellerID
	ev.Status = res.Status
	ev.SellerID = &seller
	ev.WinnerID = res.WinnerID
	return ev
}

// FromModeration builds the event of a moderator action
func FromModeration(res *bidding.ModerationResult, now time.Time) models.AuctionEvent {
	typ := models.EventAuctionUpdated
	if res.Finalized {
		typ = models.EventAuctionFinalized
	}
	ev := newEvent(typ, res.AuctionID, now)
	seller := res.SellerID
	ev.Status = res.Status
	ev.SellerID = &seller
	ev.WinnerID = res.WinnerID
	ev.BidderID = res.TargetBidderID
	return ev
}

// FromAuction builds an update event for a lifecycle change such as publish
func FromAuction(a *models.Auction, now time.Time) models.AuctionEvent {
	ev := newEvent(models.EventAuctionUpdated, a.ID, now)
	seller := a.SellerID
	ev.Status = a.Status
	ev.SellerID = &seller
	return ev
}
