package bidding

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/internal/store/memory"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// failingStore fails every transaction that locks one auction
type failingStore struct {
	store.Store
	failOn uuid.UUID
}

type failingTx struct {
	store.Tx
	failOn uuid.UUID
}

func (s *failingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: s.failOn})
	})
}

func (t *failingTx) LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	if id == t.failOn {
		return nil, errors.New("connection reset")
	}
	return t.Tx.LockAuction(ctx, id)
}

func TestSweepFinalizesExpired(t *testing.T) {
	h := newHarness(t)
	withBids := h.active(50, 5, nil)
	empty := h.active(50, 5, nil)
	h.clock.Advance(time.Hour)
	later := h.active(50, 5, nil)

	require.True(t, h.bid(withBids.ID, 2, 1).Success)
	require.True(t, h.bid(withBids.ID, 3, 3).Success)

	h.clock.Set(withBids.EndsAt.Add(time.Minute))
	results, err := h.fin.SweepDue(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[uuid.UUID]FinalizeResult{}
	for _, r := range results {
		byID[r.AuctionID] = r
	}
	assert.Equal(t, ptr(int64(3)), byID[withBids.ID].WinnerID)
	assert.Equal(t, seller, byID[withBids.ID].SellerID)
	assert.Nil(t, byID[empty.ID].WinnerID)

	got := h.auction(withBids.ID)
	assert.Equal(t, models.AuctionStatusEnded, got.Status)
	assert.Equal(t, *withBids.EndsAt, *got.EndsAt)
	assert.Equal(t, models.AuctionStatusActive, h.auction(later.ID).Status)

	// A second sweep finds nothing and changes nothing.
	n, err := h.fin.FinalizeDueAuctions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	again := h.auction(withBids.ID)
	assert.Equal(t, got.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, got.WinnerID, again.WinnerID)
	assert.Equal(t, int64(2), h.fin.Stats().Finalized)
}

func TestFinalizeLockedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, nil)
	require.True(t, h.bid(a.ID, 2, 1).Success)
	ctx := context.Background()

	finalize := func() *FinalizeResult {
		var res *FinalizeResult
		require.NoError(t, h.store.InTx(ctx, func(tx store.Tx) error {
			locked, err := tx.LockAuction(ctx, a.ID)
			if err != nil {
				return err
			}
			res, err = h.fin.FinalizeLocked(ctx, tx, locked, models.AuctionStatusEnded, nil, h.clock.Now())
			return err
		}))
		return res
	}

	first := finalize()
	require.NotNil(t, first)
	assert.Equal(t, ptr(int64(2)), first.WinnerID)
	assert.Equal(t, h.clock.Now(), first.EndsAt)
	state := h.auction(a.ID)

	h.clock.Advance(time.Minute)
	assert.Nil(t, finalize())
	assert.Equal(t, state, h.auction(a.ID))
}

func TestSweepContinuesPastFailure(t *testing.T) {
	st := memory.New(time.Second)
	base := newHarnessWith(t, st)
	broken := base.active(50, 5, nil)
	healthy := base.active(50, 5, nil)

	h := newHarnessWith(t, st, func(s store.Store) store.Store {
		return &failingStore{Store: s, failOn: broken.ID}
	})
	h.clock.Set(broken.EndsAt.Add(time.Minute))

	results, err := h.fin.SweepDue(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, healthy.ID, results[0].AuctionID)
	assert.Equal(t, int64(1), h.fin.Stats().Failed)
	assert.Equal(t, models.AuctionStatusActive, h.auction(broken.ID).Status)
}

func TestSweepSkipsAuctionExtendedMeanwhile(t *testing.T) {
	h := newHarness(t)
	a := h.active(50, 5, nil)
	require.True(t, h.bid(a.ID, 2, 1).Success)
	h.clock.Set(a.EndsAt.Add(-time.Minute))
	require.True(t, h.bid(a.ID, 3, 1).Success)

	// The original deadline passed, the extended one did not.
	h.clock.Set(a.EndsAt.Add(time.Second))
	n, err := h.fin.FinalizeDueAuctions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, models.AuctionStatusActive, h.auction(a.ID).Status)
}

func TestWinnerLoggedAsValue(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	fin := NewFinalizer(h.store, 10, log, h.clock.Now)
	mgr := NewManager(h.store, fin, 3, log, h.clock.Now)

	won := h.active(50, 5, nil)
	require.True(t, h.bid(won.ID, 2, 1).Success)
	h.active(50, 5, nil)

	h.clock.Advance(7 * time.Hour)
	results, err := fin.SweepDue(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, buf.String(), "winner_id=2")
	assert.Contains(t, buf.String(), "winner_id=<nil>")
	assert.NotContains(t, buf.String(), "winner_id=0x")

	buf.Reset()
	_, err = mgr.RemoveBid(context.Background(), h.topBids(won.ID)[0].ID, 9, "")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "winner_id=<nil>")
}
