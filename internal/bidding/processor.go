// Package bidding is the transactional core of the auction: the bid
// processor, the finalizer, moderator actions and the auction lifecycle.
//
// Every operation that changes an auction runs in one store transaction
// holding that auction's exclusive lock, so bids on one auction are applied
// strictly one after another and no auction ever has two leaders. Nothing in
// here performs network I/O; publishing outcomes is the caller's job once
// the call has returned.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/Nombah501/LiteAuction-sub001/internal/antisniper"
	"github.com/Nombah501/LiteAuction-sub001/internal/fraud"
	"github.com/Nombah501/LiteAuction-sub001/internal/ledger"
	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// DefaultDuplicateWindow is the trailing window for double-submit suppression
const DefaultDuplicateWindow = 15 * time.Second

// BidIntent is one request to raise or buy out an auction
type BidIntent struct {
	AuctionID  uuid.UUID
	BidderID   int64
	Multiplier int
	Buyout     bool
}

// Outcome describes what ProcessBid did
type Outcome struct {
	Success       bool  `json:"success"`
	SettledAmount int64 `json:"settled_amount,omitempty"`
	// ShouldRefreshDisplay is set when the public view of the auction changed.
	ShouldRefreshDisplay bool                 `json:"should_refresh_display"`
	PreviousLeaderID     *int64               `json:"previous_leader_id,omitempty"`
	WinnerID             *int64               `json:"winner_id,omitempty"`
	SellerID             *int64               `json:"seller_id,omitempty"`
	AuctionFinished      bool                 `json:"auction_finished"`
	CreatedBidID         *uuid.UUID           `json:"created_bid_id,omitempty"`
	FraudSignalID        *int64               `json:"fraud_signal_id,omitempty"`
	Status               models.AuctionStatus `json:"status,omitempty"`
	EndsAt               *time.Time           `json:"ends_at,omitempty"`
	Extended             bool                 `json:"extended,omitempty"`
	Rejection            *Rejection           `json:"rejection,omitempty"`
}

func rejected(refresh bool, kind Kind, format string, args ...any) Outcome {
	return Outcome{ShouldRefreshDisplay: refresh, Rejection: reject(kind, format, args...)}
}

// ProcessorStats is a snapshot of the bid counters
type ProcessorStats struct {
	Accepted   int64 `json:"accepted"`
	Rejected   int64 `json:"rejected"`
	Extensions int64 `json:"extensions"`
	BoughtOut  int64 `json:"bought_out"`
	LateEnded  int64 `json:"late_ended"`
}

// Options configures a Processor
type Options struct {
	DuplicateWindow time.Duration
	Logger          *slog.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Processor validates and applies bids
type Processor struct {
	store     store.Store
	finalizer *Finalizer
	extender  *antisniper.Extender
	scorer    *fraud.Scorer
	dupWindow time.Duration
	log       *slog.Logger
	now       func() time.Time

	accepted   atomic.Int64
	rejected   atomic.Int64
	extensions atomic.Int64
	boughtOut  atomic.Int64
	lateEnded  atomic.Int64
}

// NewProcessor creates a Processor. scorer may be nil to skip fraud scoring.
func NewProcessor(st store.Store, finalizer *Finalizer, extender *antisniper.Extender, scorer *fraud.Scorer, opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = DefaultDuplicateWindow
	}
	return &Processor{
		store:     st,
		finalizer: finalizer,
		extender:  extender,
		scorer:    scorer,
		dupWindow: opts.DuplicateWindow,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

// Stats returns the current counters
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		Accepted:   p.accepted.Load(),
		Rejected:   p.rejected.Load(),
		Extensions: p.extensions.Load(),
		BoughtOut:  p.boughtOut.Load(),
		LateEnded:  p.lateEnded.Load(),
	}
}

// ProcessBid applies one bid intent atomically. Rule failures come back as
// an Outcome carrying a Rejection; the error is reserved for store failures
// (see store.IsTransient), in which case nothing was committed.
func (p *Processor) ProcessBid(ctx context.Context, in BidIntent) (Outcome, error) {
	var out Outcome
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = p.processLocked(ctx, tx, in)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	log := p.log.With("auction_id", in.AuctionID, "bidder_id", in.BidderID)
	switch {
	case out.Success:
		p.accepted.Inc()
		if out.Extended {
			p.extensions.Inc()
		}
		if out.AuctionFinished {
			p.boughtOut.Inc()
		}
		log.Info("Bid accepted", "amount", out.SettledAmount, "status", out.Status, "extended", out.Extended)
	case out.Rejection != nil:
		p.rejected.Inc()
		if out.AuctionFinished {
			p.lateEnded.Inc()
		}
		log.Debug("Bid rejected", "kind", out.Rejection.Kind, "reason", out.Rejection.Message)
	}
	return out, nil
}

func (p *Processor) processLocked(ctx context.Context, tx store.Tx, in BidIntent) (Outcome, error) {
	a, err := tx.LockAuction(ctx, in.AuctionID)
	if errors.Is(err, store.ErrNotFound) {
		return rejected(false, KindNotFound, "auction not found"), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	now := p.now()

	if a.Status != models.AuctionStatusActive {
		out := rejected(true, KindNotActive, "auction is not active")
		out.Status = a.Status
		return out, nil
	}

	if a.Expired(now) {
		res, err := p.finalizer.FinalizeLocked(ctx, tx, a, models.AuctionStatusEnded, nil, now)
		if err != nil {
			return Outcome{}, err
		}
		out := rejected(true, KindAlreadyEnded, "auction already ended")
		out.AuctionFinished = true
		out.Status = a.Status
		out.EndsAt = a.EndsAt
		if res != nil {
			seller := res.SellerID
			out.SellerID = &seller
			out.WinnerID = res.WinnerID
		}
		return out, nil
	}

	if a.SellerID == in.BidderID {
		return rejected(false, KindSelfBid, "seller cannot bid on own auction"), nil
	}

	banned, err := tx.IsBlacklisted(ctx, in.BidderID, now)
	if err != nil {
		return Outcome{}, err
	}
	if banned {
		return rejected(false, KindBlacklisted, "bidder is blocked"), nil
	}

	top, err := tx.TopBids(ctx, a.ID, 1)
	if err != nil {
		return Outcome{}, err
	}
	leader := ledger.LeaderID(top)
	if leader != nil && *leader == in.BidderID {
		return rejected(false, KindAlreadyLeading, "already leading"), nil
	}

	amount, buyout, rej := settle(a, top, in)
	if rej != nil {
		return Outcome{Rejection: rej}, nil
	}

	dup, err := tx.HasRecentDuplicate(ctx, a.ID, in.BidderID, amount, now.Add(-p.dupWindow))
	if err != nil {
		return Outcome{}, err
	}
	if dup {
		return rejected(false, KindDuplicate, "this bid was already submitted"), nil
	}

	bid := models.Bid{
		ID:        uuid.New(),
		AuctionID: a.ID,
		BidderID:  in.BidderID,
		Amount:    amount,
		CreatedAt: now,
	}
	if err := tx.InsertBid(ctx, &bid); err != nil {
		return Outcome{}, fmt.Errorf("failed to insert bid: %w", err)
	}

	out := Outcome{
		Success:              true,
		SettledAmount:        amount,
		ShouldRefreshDisplay: true,
		PreviousLeaderID:     leader,
		CreatedBidID:         &bid.ID,
	}
	if p.scorer != nil {
		out.FraudSignalID, _ = p.scorer.ScoreBid(ctx, tx, fraud.Input{Auction: a, Bid: bid, Now: now})
	}

	if buyout {
		res, err := p.finalizer.FinalizeLocked(ctx, tx, a, models.AuctionStatusBoughtOut, &in.BidderID, now)
		if err != nil {
			return Outcome{}, err
		}
		out.AuctionFinished = true
		if res != nil {
			seller := res.SellerID
			out.SellerID = &seller
			out.WinnerID = res.WinnerID
		}
	} else {
		out.Extended = p.extender.Apply(now, a)
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return Outcome{}, fmt.Errorf("failed to update auction: %w", err)
		}
	}
	out.Status = a.Status
	out.EndsAt = a.EndsAt
	return out, nil
}

// settle computes the amount of a bid. A raise that reaches the buyout
// price is capped to it and treated as a buyout.
func settle(a *models.Auction, top []models.Bid, in BidIntent) (int64, bool, *Rejection) {
	if in.Buyout {
		if !a.HasBuyout() {
			return 0, false, reject(KindBuyoutDisabled, "buyout is disabled for this auction")
		}
		return *a.BuyoutPrice, true, nil
	}
	if !models.ValidMultiplier(in.Multiplier) {
		return 0, false, reject(KindInvalidMultiplier, "multiplier must be one of %v", models.BidMultipliers)
	}
	amount := ledger.CurrentPrice(a, top) + a.MinStep*int64(in.Multiplier)
	if a.HasBuyout() && amount >= *a.BuyoutPrice {
		return *a.BuyoutPrice, true, nil
	}
	return amount, false, nil
}
