package bidding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Nombah501/LiteAuction-sub001/internal/antisniper"
	"github.com/Nombah501/LiteAuction-sub001/internal/fraud"
	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/internal/store/memory"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

const seller int64 = 1

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	t      *testing.T
	store  *memory.Store
	clock  *fakeClock
	scorer *fraud.Scorer
	fin    *Finalizer
	proc   *Processor
	mgr    *Manager
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, memory.New(time.Second))
}

func newHarnessWith(t *testing.T, st *memory.Store, wrap ...func(store.Store) store.Store) *harness {
	clock := &fakeClock{now: t0}
	var s store.Store = st
	for _, w := range wrap {
		s = w(s)
	}
	ext := antisniper.New(antisniper.DefaultConfig())
	scorer := fraud.NewScorer(fraud.DefaultConfig(), nil)
	fin := NewFinalizer(s, 10, nil, clock.Now)
	return &harness{
		t:      t,
		store:  st,
		clock:  clock,
		scorer: scorer,
		fin:    fin,
		proc:   NewProcessor(s, fin, ext, scorer, Options{DuplicateWindow: 15 * time.Second, Now: clock.Now}),
		mgr:    NewManager(s, fin, ext.Config().MaxExtensions, nil, clock.Now),
	}
}

func (h *harness) draft(start, step int64, buyout *int64) *models.Auction {
	h.t.Helper()
	a, err := h.mgr.CreateDraft(context.Background(), DraftParams{
		SellerID:    seller,
		Description: "vintage camera",
		StartPrice:  start,
		BuyoutPrice: buyout,
		MinStep:     step,
		Duration:    models.Duration6h,
	})
	require.NoError(h.t, err)
	return a
}

func (h *harness) active(start, step int64, buyout *int64) *models.Auction {
	h.t.Helper()
	a := h.draft(start, step, buyout)
	a, err := h.mgr.Publish(context.Background(), a.ID)
	require.NoError(h.t, err)
	return a
}

func (h *harness) bid(id uuid.UUID, bidder int64, multiplier int) Outcome {
	h.t.Helper()
	out, err := h.proc.ProcessBid(context.Background(), BidIntent{AuctionID: id, BidderID: bidder, Multiplier: multiplier})
	require.NoError(h.t, err)
	return out
}

func (h *harness) buyout(id uuid.UUID, bidder int64) Outcome {
	h.t.Helper()
	out, err := h.proc.ProcessBid(context.Background(), BidIntent{AuctionID: id, BidderID: bidder, Buyout: true})
	require.NoError(h.t, err)
	return out
}

func (h *harness) auction(id uuid.UUID) *models.Auction {
	h.t.Helper()
	view, err := h.mgr.View(context.Background(), id)
	require.NoError(h.t, err)
	return view.Auction
}

func (h *harness) topBids(id uuid.UUID) []models.Bid {
	h.t.Helper()
	var top []models.Bid
	ctx := context.Background()
	require.NoError(h.t, h.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		top, err = tx.TopBids(ctx, id, 100)
		return err
	}))
	return top
}

// insertRaw writes a bid directly, bypassing the processor
func (h *harness) insertRaw(b models.Bid) models.Bid {
	h.t.Helper()
	ctx := context.Background()
	require.NoError(h.t, h.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockAuction(ctx, b.AuctionID); err != nil {
			return err
		}
		return tx.InsertBid(ctx, &b)
	}))
	return b
}

func ptr[T any](v T) *T {
	return &v
}

func requireRejection(t *testing.T, out Outcome, kind Kind) {
	t.Helper()
	require.False(t, out.Success)
	require.NotNil(t, out.Rejection)
	require.Equal(t, kind, out.Rejection.Kind, out.Rejection.Message)
}

func requireRejectionErr(t *testing.T, err error, kind Kind) {
	t.Helper()
	rej, ok := AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	require.Equal(t, kind, rej.Kind, rej.Message)
}
