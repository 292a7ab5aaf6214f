package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func bid(bidder int64, amount int64, at time.Duration) models.Bid {
	return models.Bid{
		ID:        uuid.New(),
		BidderID:  bidder,
		Amount:    amount,
		CreatedAt: t0.Add(at),
	}
}

func TestRankedOrdersByAmountThenTime(t *testing.T) {
	a := bid(1, 60, 0)
	b := bid(2, 70, time.Second)
	c := bid(3, 70, 2*time.Second)
	removed := bid(4, 90, 3*time.Second)
	removed.IsRemoved = true

	ranked := Ranked([]models.Bid{a, c, removed, b})
	require.Len(t, ranked, 3)
	require.Equal(t, b.ID, ranked[0].ID, "equal amounts go to the earliest bid")
	require.Equal(t, c.ID, ranked[1].ID)
	require.Equal(t, a.ID, ranked[2].ID)
}

func TestLeaderSkipsRemoved(t *testing.T) {
	top := bid(1, 100, 0)
	top.IsRemoved = true
	second := bid(2, 80, time.Second)

	leader, ok := Leader([]models.Bid{top, second})
	require.True(t, ok)
	require.Equal(t, int64(2), leader.BidderID)

	_, ok = Leader([]models.Bid{top})
	require.False(t, ok)
}

func TestCurrentPrice(t *testing.T) {
	auction := &models.Auction{StartPrice: 50, MinStep: 5}

	require.Equal(t, int64(50), CurrentPrice(auction, nil))
	require.Equal(t, int64(55), MinimumNextBid(auction, nil))

	top := TopN([]models.Bid{bid(1, 55, 0), bid(2, 80, time.Second)}, 1)
	require.Equal(t, int64(80), CurrentPrice(auction, top))
	require.Equal(t, int64(85), MinimumNextBid(auction, top))
	require.Equal(t, int64(2), *LeaderID(top))
}

func TestBuildViewLimitsTopBids(t *testing.T) {
	auction := &models.Auction{StartPrice: 10, MinStep: 1}
	bids := []models.Bid{
		bid(1, 11, 0), bid(2, 12, time.Second), bid(3, 13, 2*time.Second), bid(4, 14, 3*time.Second),
	}

	view := BuildView(auction, Ranked(bids))
	require.Len(t, view.TopBids, DisplayedBids)
	require.Equal(t, int64(14), view.CurrentPrice)
	require.Equal(t, int64(15), view.MinimumNextBid)

	empty := BuildView(auction, nil)
	require.NotNil(t, empty.TopBids)
	require.Nil(t, empty.LeaderID)
	require.Equal(t, int64(10), empty.CurrentPrice)
}

func TestIncrements(t *testing.T) {
	require.Equal(t, []int64{5, 25, 20}, Increments(50, []int64{55, 80, 80, 100}))
	require.Empty(t, Increments(50, nil))
}

func TestBidders(t *testing.T) {
	counts := Bidders([]models.Bid{bid(1, 1, 0), bid(2, 2, 0), bid(1, 3, 0)})
	require.Equal(t, map[int64]int{1: 2, 2: 1}, counts)
}
