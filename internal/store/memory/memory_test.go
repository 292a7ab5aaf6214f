package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAuction(t *testing.T, s *Store, status models.AuctionStatus) *models.Auction {
	t.Helper()
	ends := t0.Add(time.Hour)
	a := &models.Auction{
		ID:            uuid.New(),
		SellerID:      1,
		Description:   "lot",
		StartPrice:    50,
		MinStep:       5,
		Duration:      models.Duration6h,
		MaxExtensions: 3,
		StartsAt:      &t0,
		EndsAt:        &ends,
		Status:        status,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
	require.NoError(t, s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateAuction(context.Background(), a)
	}))
	return a
}

func insertBid(t *testing.T, s *Store, auctionID uuid.UUID, bidder, amount int64, at time.Time) models.Bid {
	t.Helper()
	b := models.Bid{AuctionID: auctionID, BidderID: bidder, Amount: amount, CreatedAt: at}
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockAuction(ctx, auctionID); err != nil {
			return err
		}
		return tx.InsertBid(ctx, &b)
	}))
	return b
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	s := New(time.Second)
	a := seedAuction(t, s, models.AuctionStatusActive)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockAuction(ctx, a.ID)
		require.NoError(t, err)
		locked.Status = models.AuctionStatusEnded
		require.NoError(t, tx.UpdateAuction(ctx, locked))
		require.NoError(t, tx.InsertBid(ctx, &models.Bid{AuctionID: a.ID, BidderID: 2, Amount: 55, CreatedAt: t0}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.GetAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusActive, got.Status)
		top, err := tx.TopBids(ctx, a.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, top)
		return nil
	}))
}

func TestStagedWritesVisibleInsideTx(t *testing.T) {
	s := New(time.Second)
	a := seedAuction(t, s, models.AuctionStatusActive)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockAuction(ctx, a.ID)
		require.NoError(t, err)
		b := models.Bid{AuctionID: a.ID, BidderID: 2, Amount: 55, CreatedAt: t0}
		require.NoError(t, tx.InsertBid(ctx, &b))
		assert.NotEqual(t, uuid.Nil, b.ID)

		n, err := tx.CountBidsSince(ctx, a.ID, t0.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		dup, err := tx.HasRecentDuplicate(ctx, a.ID, 2, 55, t0.Add(-15*time.Second))
		require.NoError(t, err)
		assert.True(t, dup)
		return nil
	}))
}

func TestWritesRequireLock(t *testing.T) {
	s := New(time.Second)
	a := seedAuction(t, s, models.AuctionStatusActive)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertBid(ctx, &models.Bid{AuctionID: a.ID, BidderID: 2, Amount: 55, CreatedAt: t0})
	})
	require.Error(t, err)
}

func TestLockTimeoutIsTransient(t *testing.T) {
	s := New(50 * time.Millisecond)
	a := seedAuction(t, s, models.AuctionStatusActive)
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.InTx(ctx, func(tx store.Tx) error {
			_, err := tx.LockAuction(ctx, a.ID)
			close(held)
			<-done
			return err
		})
	}()
	<-held

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockAuction(ctx, a.ID)
		return err
	})
	close(done)
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
}

func TestLockSerializesPerAuction(t *testing.T) {
	s := New(5 * time.Second)
	a := seedAuction(t, s, models.AuctionStatusActive)
	other := seedAuction(t, s, models.AuctionStatusActive)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(bidder int64) {
			defer wg.Done()
			err := s.InTx(ctx, func(tx store.Tx) error {
				if _, err := tx.LockAuction(ctx, a.ID); err != nil {
					return err
				}
				top, err := tx.TopBids(ctx, a.ID, 1)
				if err != nil {
					return err
				}
				amount := a.StartPrice
				if len(top) > 0 {
					amount = top[0].Amount
				}
				return tx.InsertBid(ctx, &models.Bid{AuctionID: a.ID, BidderID: bidder, Amount: amount + 5, CreatedAt: t0})
			})
			assert.NoError(t, err)
		}(int64(i + 2))
	}

	// A different auction is not blocked by the traffic above.
	insertBid(t, s, other.ID, 9, 55, t0)
	wg.Wait()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		top, err := tx.TopBids(ctx, a.ID, 100)
		require.NoError(t, err)
		require.Len(t, top, 20)
		seen := make(map[int64]bool)
		for _, b := range top {
			assert.False(t, seen[b.Amount], "amount %d bid twice", b.Amount)
			seen[b.Amount] = true
		}
		assert.Equal(t, a.StartPrice+20*5, top[0].Amount)
		return nil
	}))
}

func TestBidHistoryQueries(t *testing.T) {
	s := New(time.Second)
	a := seedAuction(t, s, models.AuctionStatusActive)
	ctx := context.Background()

	first := insertBid(t, s, a.ID, 2, 55, t0)
	insertBid(t, s, a.ID, 3, 60, t0.Add(time.Second))
	last := insertBid(t, s, a.ID, 2, 75, t0.Add(2*time.Second))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		recent, err := tx.RecentBids(ctx, a.ID, t0, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, int64(75), recent[0].Amount)
		assert.Equal(t, int64(60), recent[1].Amount)

		prev, ok, err := tx.PreviousBidAmount(ctx, a.ID, last.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(60), prev)

		amounts, err := tx.BidAmountsSince(ctx, a.ID, t0, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{55, 60, 75}, amounts)

		n, err := tx.CountBidderBidsSince(ctx, a.ID, 2, t0)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		if _, err := tx.LockAuction(ctx, a.ID); err != nil {
			return err
		}
		removed, err := tx.GetBid(ctx, first.ID)
		require.NoError(t, err)
		removed.IsRemoved = true
		require.NoError(t, tx.UpdateBidRemoval(ctx, removed))

		n, err = tx.CountBidderBidsSince(ctx, a.ID, 2, t0)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	}))
}

func TestCompletedBidTrails(t *testing.T) {
	s := New(time.Second)
	ctx := context.Background()
	current := seedAuction(t, s, models.AuctionStatusActive)
	ended := seedAuction(t, s, models.AuctionStatusActive)
	insertBid(t, s, ended.ID, 2, 55, t0)
	insertBid(t, s, ended.ID, 3, 70, t0.Add(time.Second))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, ended.ID)
		require.NoError(t, err)
		a.Status = models.AuctionStatusEnded
		return tx.UpdateAuction(ctx, a)
	}))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		trails, err := tx.CompletedBidTrails(ctx, current.ID, 25, 100, 30)
		require.NoError(t, err)
		require.Len(t, trails, 1)
		assert.Equal(t, ended.ID, trails[0].AuctionID)
		assert.Equal(t, []int64{55, 70}, trails[0].Amounts)

		trails, err = tx.CompletedBidTrails(ctx, current.ID, 200, 400, 30)
		require.NoError(t, err)
		assert.Empty(t, trails)
		return nil
	}))
}

func TestFraudSignalsAndDueAuctions(t *testing.T) {
	s := New(time.Second)
	ctx := context.Background()
	a := seedAuction(t, s, models.AuctionStatusActive)
	b := insertBid(t, s, a.ID, 2, 55, t0)

	var id int64
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		sig := models.FraudSignal{AuctionID: a.ID, BidID: b.ID, BidderID: 2, Score: 70, Status: models.FraudSignalOpen, CreatedAt: t0}
		require.NoError(t, tx.InsertFraudSignal(ctx, &sig))
		id = sig.ID
		open, err := tx.HasOpenFraudSignal(ctx, a.ID, 2, t0.Add(-10*time.Minute))
		require.NoError(t, err)
		assert.True(t, open)
		return nil
	}))
	assert.Equal(t, int64(1), id)

	open := models.FraudSignalOpen
	list, err := s.ListFraudSignals(ctx, models.FraudSignalFilter{AuctionID: &a.ID, Status: &open, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)

	due, err := s.DueAuctionIDs(ctx, t0.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, due)

	due, err = s.DueAuctionIDs(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestBlacklist(t *testing.T) {
	s := New(time.Second)
	ctx := context.Background()
	expired := t0.Add(-time.Minute)
	s.Ban(models.BlacklistEntry{UserID: 7, Reason: "spam", IsActive: true})
	s.Ban(models.BlacklistEntry{UserID: 8, Reason: "old", IsActive: true, ExpiresAt: &expired})

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		banned, err := tx.IsBlacklisted(ctx, 7, t0)
		require.NoError(t, err)
		assert.True(t, banned)
		banned, err = tx.IsBlacklisted(ctx, 8, t0)
		require.NoError(t, err)
		assert.False(t, banned)
		return nil
	}))
}

func TestModerationLogCommitsWithAction(t *testing.T) {
	s := New(time.Second)
	a := seedAuction(t, s, models.AuctionStatusActive)
	other := seedAuction(t, s, models.AuctionStatusActive)
	ctx := context.Background()
	entry := func(id uuid.UUID, action models.ModerationAction) *models.ModerationLog {
		return &models.ModerationLog{ActorID: 9, Action: action, Reason: "r", AuctionID: &id, CreatedAt: t0}
	}

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertModerationLog(ctx, entry(a.ID, models.ModerationFreezeAuction))
	})
	require.Error(t, err, "writing a log row requires the auction lock")

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockAuction(ctx, a.ID)
		require.NoError(t, err)
		require.NoError(t, tx.InsertModerationLog(ctx, entry(a.ID, models.ModerationFreezeAuction)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		for _, id := range []uuid.UUID{a.ID, other.ID} {
			if _, err := tx.LockAuction(ctx, id); err != nil {
				return err
			}
		}
		l := entry(a.ID, models.ModerationEndAuction)
		require.NoError(t, tx.InsertModerationLog(ctx, l))
		assert.NotZero(t, l.ID)
		return tx.InsertModerationLog(ctx, entry(other.ID, models.ModerationFreezeAuction))
	}))

	logs, err := s.ListModerationLogs(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ModerationEndAuction, logs[0].Action)
	assert.Equal(t, int64(9), logs[0].ActorID)
}
