package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nombah501/LiteAuction-sub001/internal/antisniper"
	"github.com/Nombah501/LiteAuction-sub001/internal/bidding"
	"github.com/Nombah501/LiteAuction-sub001/internal/fraud"
	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// openTestDB connects to POSTGRES_URL; tests using it are skipped without one.
func openTestDB(t *testing.T) *PostgresClient {
	t.Helper()
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("POSTGRES_URL not set")
	}
	c, err := NewPostgresClient(url, 300*time.Millisecond, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.InitSchema(context.Background()))
	return c
}

// brokenStatement runs SQL that fails and aborts the surrounding transaction
type brokenStatement struct{}

func (brokenStatement) Rule() string { return "BROKEN_STATEMENT" }

func (brokenStatement) Evaluate(ctx context.Context, h store.BidHistory, in fraud.Input) (fraud.Finding, error) {
	_, err := h.(*tx).tx.ExecContext(ctx, "SELECT 1 / 0")
	return fraud.Finding{}, err
}

func TestBidScenario(t *testing.T) {
	c := openTestDB(t)
	ctx := context.Background()

	cfg := fraud.DefaultConfig()
	scorer := fraud.NewScorer(cfg, nil, brokenStatement{}, fraud.RapidBidding{Config: cfg.Rapid})
	ext := antisniper.New(antisniper.DefaultConfig())
	fin := bidding.NewFinalizer(c, 10, nil, nil)
	proc := bidding.NewProcessor(c, fin, ext, scorer, bidding.Options{})
	mgr := bidding.NewManager(c, fin, ext.Config().MaxExtensions, nil, nil)

	a, err := mgr.CreateDraft(ctx, bidding.DraftParams{
		SellerID:    1,
		Description: "film camera",
		PhotoIDs:    []string{"p1", "p2"},
		StartPrice:  50,
		MinStep:     5,
		Duration:    models.Duration6h,
	})
	require.NoError(t, err)
	_, err = mgr.Publish(ctx, a.ID)
	require.NoError(t, err)

	first, err := proc.ProcessBid(ctx, bidding.BidIntent{AuctionID: a.ID, BidderID: 2, Multiplier: 1})
	require.NoError(t, err)
	require.True(t, first.Success, "%+v", first.Rejection)
	second, err := proc.ProcessBid(ctx, bidding.BidIntent{AuctionID: a.ID, BidderID: 3, Multiplier: 3})
	require.NoError(t, err)
	require.True(t, second.Success, "%+v", second.Rejection)

	self, err := proc.ProcessBid(ctx, bidding.BidIntent{AuctionID: a.ID, BidderID: 1, Multiplier: 1})
	require.NoError(t, err)
	require.NotNil(t, self.Rejection)
	assert.Equal(t, bidding.KindSelfBid, self.Rejection.Kind)

	// The failing rule rolled back to its savepoint and the bids committed.
	assert.Equal(t, int64(2), scorer.Stats().HeuristicErrors)
	view, err := mgr.View(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), view.CurrentPrice)
	assert.Equal(t, int64(75), view.MinimumNextBid)
	require.Len(t, view.TopBids, 2)
	assert.Equal(t, int64(3), view.TopBids[0].BidderID)
	assert.Equal(t, []string{"p1", "p2"}, view.Auction.PhotoIDs)

	ended, err := mgr.ForceEnd(ctx, a.ID, 9, "dispute")
	require.NoError(t, err)
	require.NotNil(t, ended.WinnerID)
	assert.Equal(t, int64(3), *ended.WinnerID)

	removed, err := mgr.RemoveBid(ctx, *first.CreatedBidID, 9, "shill")
	require.NoError(t, err)
	assert.False(t, removed.Finalized)
	assert.Equal(t, int64(3), *removed.WinnerID)

	logs, err := mgr.ModerationLog(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ModerationEndAuction, logs[0].Action)
	assert.Equal(t, models.ModerationRemoveBid, logs[1].Action)
	assert.Equal(t, first.CreatedBidID, logs[1].BidID)
	assert.Equal(t, map[string]any{"amount": float64(55)}, logs[1].Payload)
}

func TestIsolateKeepsTransactionUsable(t *testing.T) {
	c := openTestDB(t)
	ctx := context.Background()

	err := c.InTx(ctx, func(stx store.Tx) error {
		inner := errors.New("rule failed")
		got := stx.Isolate(ctx, func() error {
			if _, err := stx.(*tx).tx.ExecContext(ctx, "SELECT 1 / 0"); err == nil {
				return errors.New("division by zero succeeded")
			}
			return inner
		})
		require.ErrorIs(t, got, inner)

		_, err := stx.CountBidsSince(ctx, uuid.New(), time.Time{})
		return err
	})
	require.NoError(t, err)
}

func TestLockTimeoutIsTransient(t *testing.T) {
	c := openTestDB(t)
	ctx := context.Background()
	a := &models.Auction{
		ID: uuid.New(), SellerID: 1, Description: "lot", StartPrice: 10, MinStep: 1,
		Duration: models.Duration6h, MaxExtensions: 3, Status: models.AuctionStatusDraft,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, c.InTx(ctx, func(tx store.Tx) error { return tx.CreateAuction(ctx, a) }))

	locked := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- c.InTx(ctx, func(tx store.Tx) error {
			if _, err := tx.LockAuction(ctx, a.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	select {
	case <-locked:
	case err := <-holder:
		t.Fatalf("holder failed to lock: %v", err)
	}

	err := c.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockAuction(ctx, a.ID)
		return err
	})
	close(release)
	require.NoError(t, <-holder)
	assert.True(t, store.IsTransient(err), "got %v", err)

	_, err = c.DueAuctionIDs(ctx, time.Now(), 1)
	assert.NoError(t, err)
}
