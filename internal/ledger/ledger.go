// Package ledger derives the price and leader of an auction from its bids.
//
// Bids for one auction are totally ordered by amount descending, then by
// creation time ascending. Removed bids never take part.
package ledger

import (
	"sort"

	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Less orders a before b when a ranks higher
func Less(a, b models.Bid) bool {
	if a.Amount != b.Amount {
		return a.Amount > b.Amount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	// Stable tie-break for bids created within the same clock tick.
	return a.ID.String() < b.ID.String()
}

// Ranked returns the non-removed bids in ranking order. The input is not modified.
func Ranked(bids []models.Bid) []models.Bid {
	out := make([]models.Bid, 0, len(bids))
	for _, b := range bids {
		if !b.IsRemoved {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// TopN returns at most n ranked bids
func TopN(bids []models.Bid, n int) []models.Bid {
	ranked := Ranked(bids)
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Leader returns the highest non-removed bid, if any
func Leader(bids []models.Bid) (models.Bid, bool) {
	var (
		top   models.Bid
		found bool
	)
	for _, b := range bids {
		if b.IsRemoved {
			continue
		}
		if !found || Less(b, top) {
			top = b
			found = true
		}
	}
	return top, found
}

// CurrentPrice is the leader's amount, or the start price when nobody has bid
func CurrentPrice(a *models.Auction, top []models.Bid) int64 {
	if len(top) == 0 {
		return a.StartPrice
	}
	return top[0].Amount
}

// MinimumNextBid is the smallest raise accepted at the current price
func MinimumNextBid(a *models.Auction, top []models.Bid) int64 {
	return CurrentPrice(a, top) + a.MinStep
}

// LeaderID returns the bidder holding the first of the ranked bids
func LeaderID(top []models.Bid) *int64 {
	if len(top) == 0 {
		return nil
	}
	id := top[0].BidderID
	return &id
}

// View is the display snapshot of one auction
type View struct {
	Auction        *models.Auction `json:"auction"`
	TopBids        []models.Bid    `json:"top_bids"`
	CurrentPrice   int64           `json:"current_price"`
	MinimumNextBid int64           `json:"minimum_next_bid"`
	LeaderID       *int64          `json:"leader_id,omitempty"`
}

// DisplayedBids is the number of bids shown on an auction view
const DisplayedBids = 3

// BuildView assembles a View from the auction and its ranked top bids
func BuildView(a *models.Auction, top []models.Bid) View {
	if len(top) > DisplayedBids {
		top = top[:DisplayedBids]
	}
	if top == nil {
		top = []models.Bid{}
	}
	return View{
		Auction:        a,
		TopBids:        top,
		CurrentPrice:   CurrentPrice(a, top),
		MinimumNextBid: MinimumNextBid(a, top),
		LeaderID:       LeaderID(top),
	}
}

// Increments returns the positive step between consecutive amounts, starting from base.
// Amounts must be in chronological order.
func Increments(base int64, amounts []int64) []int64 {
	out := make([]int64, 0, len(amounts))
	prev := base
	for _, amount := range amounts {
		if d := amount - prev; d > 0 {
			out = append(out, d)
		}
		prev = amount
	}
	return out
}

// Bidders counts bids per bidder
func Bidders(bids []models.Bid) map[int64]int {
	counts := make(map[int64]int)
	for _, b := range bids {
		counts[b.BidderID]++
	}
	return counts
}
