package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Nombah501/LiteAuction-sub001/internal/bidding"
	"github.com/Nombah501/LiteAuction-sub001/internal/events"
	"github.com/Nombah501/LiteAuction-sub001/internal/fraud"
	"github.com/Nombah501/LiteAuction-sub001/internal/ledger"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Gate is the per-(auction, bidder) cooldown checked before a bid
type Gate interface {
	Acquire(ctx context.Context, auctionID uuid.UUID, bidderID int64) (bool, time.Duration, error)
}

// EventSink receives events after a commit
type EventSink interface {
	Publish(ctx context.Context, evs ...models.AuctionEvent) error
}

// CooldownError is returned when a bidder retries inside the cooldown
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("bid cooldown active, retry in %s", e.RetryAfter)
}

// Stats aggregates the counters served on /stats
type Stats struct {
	Bids      bidding.ProcessorStats `json:"bids"`
	Fraud     fraud.Stats            `json:"fraud"`
	Finalizer bidding.FinalizerStats `json:"finalizer"`
}

// BiddingService handles the gateway workflow around the bid engine:
// 1. Cooldown pre-filter (Redis)
// 2. Locked bid transaction (Processor)
// 3. Post-commit event publication (Redis Pub/Sub + JetStream)
type BiddingService struct {
	processor *bidding.Processor
	manager   *bidding.Manager
	finalizer *bidding.Finalizer
	scorer    *fraud.Scorer
	gate      Gate
	events    EventSink
	log       *slog.Logger
	now       func() time.Time
}

// Options are the optional collaborators of a BiddingService
type Options struct {
	// Gate may be nil to disable the cooldown.
	Gate Gate
	// Events may be nil to skip publication.
	Events EventSink
	Logger *slog.Logger
	Now    func() time.Time
}

// NewBiddingService creates a new bidding service
func NewBiddingService(processor *bidding.Processor, manager *bidding.Manager, finalizer *bidding.Finalizer, scorer *fraud.Scorer, opts Options) *BiddingService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BiddingService{
		processor: processor,
		manager:   manager,
		finalizer: finalizer,
		scorer:    scorer,
		gate:      opts.Gate,
		events:    opts.Events,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

// PlaceBid runs one bid intent end to end
func (s *BiddingService) PlaceBid(ctx context.Context, in bidding.BidIntent) (bidding.Outcome, error) {
	if s.gate != nil {
		allowed, wait, err := s.gate.Acquire(ctx, in.AuctionID, in.BidderID)
		switch {
		case err != nil:
			// The cooldown is a pre-filter; the database stays authoritative.
			s.log.Warn("Cooldown check failed, letting bid through", "auction_id", in.AuctionID, "bidder_id", in.BidderID, "err", err)
		case !allowed:
			return bidding.Outcome{}, &CooldownError{RetryAfter: wait}
		}
	}

	out, err := s.processor.ProcessBid(ctx, in)
	if err != nil {
		return bidding.Outcome{}, fmt.Errorf("failed to process bid: %w", err)
	}
	s.publish(ctx, events.FromOutcome(in, out, s.now())...)
	return out, nil
}

// CreateDraft stores a new draft auction
func (s *BiddingService) CreateDraft(ctx context.Context, params bidding.DraftParams) (*models.Auction, error) {
	return s.manager.CreateDraft(ctx, params)
}

// Publish opens a draft for bidding
func (s *BiddingService) Publish(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := s.manager.Publish(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.FromAuction(a, s.now()))
	return a, nil
}

// Cancel withdraws a draft
func (s *BiddingService) Cancel(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return s.manager.Cancel(ctx, id)
}

// View returns the display snapshot of an auction
func (s *BiddingService) View(ctx context.Context, id uuid.UUID) (ledger.View, error) {
	return s.manager.View(ctx, id)
}

// Freeze suspends bidding
func (s *BiddingService) Freeze(ctx context.Context, id uuid.UUID, actorID int64, reason string) (*bidding.ModerationResult, error) {
	return s.moderated(ctx)(s.manager.Freeze(ctx, id, actorID, reason))
}

// Unfreeze resumes bidding
func (s *BiddingService) Unfreeze(ctx context.Context, id uuid.UUID, actorID int64, reason string) (*bidding.ModerationResult, error) {
	return s.moderated(ctx)(s.manager.Unfreeze(ctx, id, actorID, reason))
}

// ForceEnd ends an auction now
func (s *BiddingService) ForceEnd(ctx context.Context, id uuid.UUID, actorID int64, reason string) (*bidding.ModerationResult, error) {
	return s.moderated(ctx)(s.manager.ForceEnd(ctx, id, actorID, reason))
}

// RemoveBid soft-deletes a bid
func (s *BiddingService) RemoveBid(ctx context.Context, bidID uuid.UUID, actorID int64, reason string) (*bidding.ModerationResult, error) {
	return s.moderated(ctx)(s.manager.RemoveBid(ctx, bidID, actorID, reason))
}

// ModerationLog returns the audit trail of an auction
func (s *BiddingService) ModerationLog(ctx context.Context, auctionID uuid.UUID) ([]models.ModerationLog, error) {
	return s.manager.ModerationLog(ctx, auctionID)
}

// ResolveFraudSignal closes an open fraud signal
func (s *BiddingService) ResolveFraudSignal(ctx context.Context, signalID, resolverID int64, status models.FraudSignalStatus, note string) (*models.FraudSignal, error) {
	return s.manager.ResolveFraudSignal(ctx, signalID, resolverID, status, note)
}

// ListFraudSignals pages through fraud signals
func (s *BiddingService) ListFraudSignals(ctx context.Context, filter models.FraudSignalFilter) ([]models.FraudSignal, error) {
	return s.manager.ListFraudSignals(ctx, filter)
}

// Stats returns the engine counters
func (s *BiddingService) Stats() Stats {
	return Stats{
		Bids:      s.processor.Stats(),
		Fraud:     s.scorer.Stats(),
		Finalizer: s.finalizer.Stats(),
	}
}

// moderated publishes the result of a successful moderator action
func (s *BiddingService) moderated(ctx context.Context) func(*bidding.ModerationResult, error) (*bidding.ModerationResult, error) {
	return func(res *bidding.ModerationResult, err error) (*bidding.ModerationResult, error) {
		if err != nil {
			return nil, err
		}
		s.publish(ctx, events.FromModeration(res, s.now()))
		return res, nil
	}
}

func (s *BiddingService) publish(ctx context.Context, evs ...models.AuctionEvent) {
	if s.events == nil || len(evs) == 0 {
		return
	}
	if err := s.events.Publish(ctx, evs...); err != nil {
		s.log.Warn("Failed to publish events", "count", len(evs), "err", err)
	}
}
