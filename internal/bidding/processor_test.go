package bidding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

func TestBuyoutScenario(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, ptr(int64(100)))
	const alice, bob = int64(2), int64(3)

	out := h.bid(a.ID, alice, 1)
	require.True(t, out.Success)
	assert.Equal(t, int64(55), out.SettledAmount)
	assert.Nil(t, out.PreviousLeaderID)
	assert.False(t, out.AuctionFinished)
	require.NotNil(t, out.CreatedBidID)

	h.clock.Advance(10 * time.Second)
	out = h.bid(a.ID, bob, 5)
	require.True(t, out.Success)
	assert.Equal(t, int64(80), out.SettledAmount)
	assert.Equal(t, ptr(alice), out.PreviousLeaderID)

	h.clock.Advance(10 * time.Second)
	out = h.bid(a.ID, alice, 5)
	require.True(t, out.Success)
	assert.Equal(t, int64(100), out.SettledAmount)
	assert.True(t, out.AuctionFinished)
	assert.Equal(t, models.AuctionStatusBoughtOut, out.Status)
	assert.Equal(t, ptr(alice), out.WinnerID)
	assert.Equal(t, ptr(seller), out.SellerID)
	assert.Equal(t, ptr(bob), out.PreviousLeaderID)

	got := h.auction(a.ID)
	assert.Equal(t, models.AuctionStatusBoughtOut, got.Status)
	assert.Equal(t, ptr(alice), got.WinnerID)
	assert.Equal(t, h.clock.Now(), *got.EndsAt)

	out = h.bid(a.ID, bob, 1)
	requireRejection(t, out, KindNotActive)
	assert.True(t, out.ShouldRefreshDisplay)
}

func TestRaiseSettlesFromStartPrice(t *testing.T) {
	tests := []struct {
		name       string
		multiplier int
		buyout     *int64
		want       int64
		finished   bool
	}{
		{name: "x1", multiplier: 1, want: 55},
		{name: "x3", multiplier: 3, want: 65},
		{name: "x5", multiplier: 5, want: 75},
		{name: "x3 clamped to buyout", multiplier: 3, buyout: ptr(int64(60)), want: 60, finished: true},
		{name: "x5 exactly buyout", multiplier: 5, buyout: ptr(int64(75)), want: 75, finished: true},
		{name: "x1 under buyout", multiplier: 1, buyout: ptr(int64(75)), want: 55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			a := h.active(50, 5, tt.buyout)
			out := h.bid(a.ID, 2, tt.multiplier)
			require.True(t, out.Success)
			assert.Equal(t, tt.want, out.SettledAmount)
			assert.Equal(t, tt.finished, out.AuctionFinished)
		})
	}
}

func TestBidRejections(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, nil)
	ctx := context.Background()

	requireRejection(t, h.bid(uuid.New(), 2, 1), KindNotFound)
	requireRejection(t, h.bid(a.ID, seller, 1), KindSelfBid)
	requireRejection(t, h.bid(a.ID, 2, 2), KindInvalidMultiplier)
	requireRejection(t, h.buyout(a.ID, 2), KindBuyoutDisabled)

	h.store.Ban(models.BlacklistEntry{UserID: 9, Reason: "fraud", IsActive: true})
	requireRejection(t, h.bid(a.ID, 9, 1), KindBlacklisted)

	draft := h.draft(50, 5, nil)
	out := h.bid(draft.ID, 2, 1)
	requireRejection(t, out, KindNotActive)
	assert.True(t, out.ShouldRefreshDisplay)

	assert.Empty(t, h.topBids(a.ID))
	assert.Equal(t, int64(6), h.proc.Stats().Rejected)

	_, err := h.proc.ProcessBid(ctx, BidIntent{AuctionID: a.ID, BidderID: 2, Multiplier: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.proc.Stats().Accepted)
}

func TestAlreadyLeading(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, nil)

	require.True(t, h.bid(a.ID, 2, 1).Success)
	h.clock.Advance(time.Minute)
	out := h.bid(a.ID, 2, 3)
	requireRejection(t, out, KindAlreadyLeading)
	assert.Equal(t, "already leading", out.Rejection.Message)
	assert.False(t, out.ShouldRefreshDisplay)
	assert.Len(t, h.topBids(a.ID), 1)
}

func TestDuplicateBidSuppressed(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, ptr(int64(100)))

	// An earlier tie at the buyout price leaves bidder 3 leading and the
	// auction still open, so a buyout by bidder 2 repeats its own amount.
	h.insertRaw(models.Bid{AuctionID: a.ID, BidderID: 3, Amount: 100, CreatedAt: t0.Add(-10 * time.Second)})
	h.insertRaw(models.Bid{AuctionID: a.ID, BidderID: 2, Amount: 100, CreatedAt: t0.Add(-5 * time.Second)})

	out := h.buyout(a.ID, 2)
	requireRejection(t, out, KindDuplicate)
	assert.Len(t, h.topBids(a.ID), 2)
	assert.Equal(t, models.AuctionStatusActive, h.auction(a.ID).Status)

	h.clock.Advance(time.Minute)
	out = h.buyout(a.ID, 2)
	require.True(t, out.Success)
	assert.Equal(t, ptr(int64(2)), out.WinnerID)
}

func TestLateBidFinalizesFirst(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, nil)
	require.True(t, h.bid(a.ID, 2, 1).Success)

	h.clock.Set(a.EndsAt.Add(time.Second))
	out := h.bid(a.ID, 3, 1)
	requireRejection(t, out, KindAlreadyEnded)
	assert.True(t, out.AuctionFinished)
	assert.True(t, out.ShouldRefreshDisplay)
	assert.Equal(t, models.AuctionStatusEnded, out.Status)
	assert.Equal(t, ptr(int64(2)), out.WinnerID)
	assert.Equal(t, ptr(seller), out.SellerID)

	got := h.auction(a.ID)
	assert.Equal(t, models.AuctionStatusEnded, got.Status)
	assert.Equal(t, *a.EndsAt, *got.EndsAt)
	assert.Len(t, h.topBids(a.ID), 1)
}

func TestAntiSniperExtendsUpToMax(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, nil)
	endsAt := *a.EndsAt

	// Far from the deadline nothing moves.
	out := h.bid(a.ID, 2, 1)
	require.True(t, out.Success)
	assert.False(t, out.Extended)
	assert.Equal(t, endsAt, *out.EndsAt)

	bidders := []int64{3, 2, 3, 2}
	for i, bidder := range bidders {
		h.clock.Set(endsAt.Add(-90 * time.Second))
		out = h.bid(a.ID, bidder, 1)
		require.True(t, out.Success)
		if i < 3 {
			require.True(t, out.Extended, "bid %d", i)
			endsAt = endsAt.Add(3 * time.Minute)
		} else {
			assert.False(t, out.Extended)
		}
		assert.Equal(t, endsAt, *out.EndsAt)
	}

	got := h.auction(a.ID)
	assert.Equal(t, 3, got.ExtensionsUsed)
	assert.Equal(t, endsAt, *got.EndsAt)
	assert.Equal(t, int64(3), h.proc.Stats().Extensions)
}

func TestConcurrentBidsSerialize(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, nil)

	const bidders = 12
	var wg sync.WaitGroup
	outcomes := make([]Outcome, bidders)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.proc.ProcessBid(context.Background(), BidIntent{AuctionID: a.ID, BidderID: int64(10 + i), Multiplier: 1})
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, out := range outcomes {
		require.True(t, out.Success)
		assert.False(t, seen[out.SettledAmount], "amount %d settled twice", out.SettledAmount)
		seen[out.SettledAmount] = true
	}

	top := h.topBids(a.ID)
	require.Len(t, top, bidders)
	assert.Equal(t, int64(50+5*bidders), top[0].Amount)
	view, err := h.mgr.View(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, top[0].Amount, view.CurrentPrice)
	assert.Equal(t, ptr(top[0].BidderID), view.LeaderID)
}

func TestFraudSignalNeverBlocksBids(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, nil)

	var signal *int64
	for i := 0; i < 12; i++ {
		h.clock.Advance(2 * time.Second)
		out := h.bid(a.ID, int64(2+i%2), 1)
		require.True(t, out.Success, "bid %d", i)
		if out.FraudSignalID != nil && signal == nil {
			signal = out.FraudSignalID
		}
	}
	require.NotNil(t, signal)

	signals, err := h.mgr.ListFraudSignals(context.Background(), models.FraudSignalFilter{AuctionID: &a.ID})
	require.NoError(t, err)
	require.NotEmpty(t, signals)
	assert.Equal(t, *signal, signals[len(signals)-1].ID)
	assert.GreaterOrEqual(t, signals[0].Score, 60)
	assert.Len(t, h.topBids(a.ID), 12)
}
