package bidding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/Nombah501/LiteAuction-sub001/internal/ledger"
	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// DefaultSweepBatch bounds the number of auctions one sweep finalizes
const DefaultSweepBatch = 100

// FinalizeResult carries the identities the notification dispatcher needs
type FinalizeResult struct {
	AuctionID uuid.UUID            `json:"auction_id"`
	Status    models.AuctionStatus `json:"status"`
	SellerID  int64                `json:"seller_id"`
	WinnerID  *int64               `json:"winner_id,omitempty"`
	EndsAt    time.Time            `json:"ends_at"`
}

// FinalizerStats is a snapshot of the sweep counters
type FinalizerStats struct {
	// Finalized counts auctions ended by the sweep.
	Finalized int64 `json:"finalized"`
	Failed    int64 `json:"failed"`
	Sweeps    int64 `json:"sweeps"`
}

// Finalizer moves auctions to a terminal state
type Finalizer struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
	batch int

	finalized atomic.Int64
	failed    atomic.Int64
	sweeps    atomic.Int64
}

// NewFinalizer creates a Finalizer
func NewFinalizer(st store.Store, batch int, log *slog.Logger, now func() time.Time) *Finalizer {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Finalizer{store: st, log: log, now: now, batch: batch}
}

// Stats returns the current counters
func (f *Finalizer) Stats() FinalizerStats {
	return FinalizerStats{
		Finalized: f.finalized.Load(),
		Failed:    f.failed.Load(),
		Sweeps:    f.sweeps.Load(),
	}
}

// FinalizeLocked ends a under a lock the caller already holds.
// Only ACTIVE and FROZEN auctions finalize; for any other status it returns
// nil without writing. Without an explicit winner the current leader wins.
func (f *Finalizer) FinalizeLocked(ctx context.Context, tx store.Tx, a *models.Auction, status models.AuctionStatus, winner *int64, now time.Time) (*FinalizeResult, error) {
	if a.Status != models.AuctionStatusActive && a.Status != models.AuctionStatusFrozen {
		return nil, nil
	}
	if !status.Finished() {
		return nil, fmt.Errorf("cannot finalize auction %s to %s", a.ID, status)
	}

	if winner == nil {
		top, err := tx.TopBids(ctx, a.ID, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to read leader: %w", err)
		}
		winner = ledger.LeaderID(top)
	}

	a.Status = status
	a.WinnerID = winner
	if a.EndsAt == nil || a.EndsAt.After(now) {
		endsAt := now
		a.EndsAt = &endsAt
	}
	a.UpdatedAt = now
	if err := tx.UpdateAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to finalize auction: %w", err)
	}

	return &FinalizeResult{
		AuctionID: a.ID,
		Status:    a.Status,
		SellerID:  a.SellerID,
		WinnerID:  a.WinnerID,
		EndsAt:    *a.EndsAt,
	}, nil
}

// SweepDue finalizes ACTIVE auctions whose deadline passed, each in its own
// transaction. A failure on one auction is logged and the sweep moves on.
func (f *Finalizer) SweepDue(ctx context.Context) ([]FinalizeResult, error) {
	f.sweeps.Inc()
	ids, err := f.store.DueAuctionIDs(ctx, f.now(), f.batch)
	if err != nil {
		return nil, fmt.Errorf("failed to list due auctions: %w", err)
	}

	results := make([]FinalizeResult, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		var res *FinalizeResult
		err := f.store.InTx(ctx, func(tx store.Tx) error {
			a, err := tx.LockAuction(ctx, id)
			if err != nil {
				return err
			}
			now := f.now()
			// A bid may have extended or ended it since the listing.
			if a.Status != models.AuctionStatusActive || !a.Expired(now) {
				return nil
			}
			res, err = f.FinalizeLocked(ctx, tx, a, models.AuctionStatusEnded, nil, now)
			return err
		})
		if err != nil {
			f.failed.Inc()
			f.log.Error("Failed to finalize auction", "auction_id", id, "err", err)
			continue
		}
		if res != nil {
			f.finalized.Inc()
			f.log.Info("Auction finalized", "auction_id", res.AuctionID, "status", res.Status, "winner_id", logUserID(res.WinnerID))
			results = append(results, *res)
		}
	}
	return results, nil
}

// FinalizeDueAuctions runs one sweep and returns how many auctions it finalized
func (f *Finalizer) FinalizeDueAuctions(ctx context.Context) (int, error) {
	results, err := f.SweepDue(ctx)
	return len(results), err
}

// logUserID renders an optional user id as a log value
func logUserID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
