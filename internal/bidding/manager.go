package bidding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nombah501/LiteAuction-sub001/internal/ledger"
	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Fraud signal listing bounds
const (
	DefaultSignalPage = 50
	MaxSignalPage     = 200
)

// DraftParams are the seller inputs of a new auction
type DraftParams struct {
	SellerID          int64           `json:"seller_id"`
	Description       string          `json:"description"`
	PhotoIDs          []string        `json:"photo_ids"`
	StartPrice        int64           `json:"start_price"`
	BuyoutPrice       *int64          `json:"buyout_price,omitempty"`
	MinStep           int64           `json:"min_step"`
	Duration          models.Duration `json:"duration_hours"`
	AntiSniperEnabled *bool           `json:"anti_sniper_enabled,omitempty"`
}

// ModerationResult reports the state of an auction after a moderator action
type ModerationResult struct {
	AuctionID uuid.UUID            `json:"auction_id"`
	Status    models.AuctionStatus `json:"status"`
	SellerID  int64                `json:"seller_id"`
	WinnerID  *int64               `json:"winner_id,omitempty"`
	// TargetBidderID is the author of a removed bid.
	TargetBidderID *int64     `json:"target_bidder_id,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	// Finalized is set when the action decided the outcome: a forced end,
	// or a bid removal that changed the winner of a finished auction.
	Finalized bool `json:"finalized"`
}

func moderationResult(a *models.Auction) *ModerationResult {
	return &ModerationResult{
		AuctionID: a.ID,
		Status:    a.Status,
		SellerID:  a.SellerID,
		WinnerID:  a.WinnerID,
		EndsAt:    a.EndsAt,
	}
}

// Manager runs the auction lifecycle and moderator actions.
// Errors are *Rejection for rule failures, store errors otherwise.
type Manager struct {
	store         store.Store
	finalizer     *Finalizer
	maxExtensions int
	log           *slog.Logger
	now           func() time.Time
}

// NewManager creates a Manager. maxExtensions is stamped on new drafts.
func NewManager(st store.Store, finalizer *Finalizer, maxExtensions int, log *slog.Logger, now func() time.Time) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: st, finalizer: finalizer, maxExtensions: maxExtensions, log: log, now: now}
}

// CreateDraft stores a new DRAFT auction
func (m *Manager) CreateDraft(ctx context.Context, params DraftParams) (*models.Auction, error) {
	now := m.now()
	a := &models.Auction{
		ID:                uuid.New(),
		SellerID:          params.SellerID,
		Description:       strings.TrimSpace(params.Description),
		PhotoIDs:          models.NormalizePhotoIDs(params.PhotoIDs),
		StartPrice:        params.StartPrice,
		BuyoutPrice:       params.BuyoutPrice,
		MinStep:           params.MinStep,
		Duration:          params.Duration,
		AntiSniperEnabled: true,
		MaxExtensions:     m.maxExtensions,
		Status:            models.AuctionStatusDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if params.AntiSniperEnabled != nil {
		a.AntiSniperEnabled = *params.AntiSniperEnabled
	}
	if err := a.Validate(); err != nil {
		return nil, reject(KindInvalidInput, "%s", err.Error())
	}

	err := m.store.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateAuction(ctx, a)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	m.log.Info("Auction draft created", "auction_id", a.ID, "seller_id", a.SellerID)
	return a, nil
}

// transition locks an auction and applies fn to it
func (m *Manager) transition(ctx context.Context, id uuid.UUID, fn func(tx store.Tx, a *models.Auction, now time.Time) error) (*models.Auction, error) {
	var out *models.Auction
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return notFound(err, "auction not found")
		}
		if err := fn(tx, a, m.now()); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) setStatus(ctx context.Context, tx store.Tx, a *models.Auction, next models.AuctionStatus, now time.Time) error {
	if !a.Status.CanTransition(next) {
		return reject(KindInvalidTransition, "auction is %s, cannot move to %s", a.Status, next)
	}
	a.Status = next
	a.UpdatedAt = now
	return tx.UpdateAuction(ctx, a)
}

// Publish moves a DRAFT auction to ACTIVE; the deadline is rounded up to a full hour
func (m *Manager) Publish(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := m.transition(ctx, id, func(tx store.Tx, a *models.Auction, now time.Time) error {
		if a.Status != models.AuctionStatusDraft {
			return reject(KindInvalidTransition, "only a draft can be published, auction is %s", a.Status)
		}
		startsAt := now
		endsAt := models.CeilToNextHour(now.Add(a.Duration.Hours()))
		a.StartsAt = &startsAt
		a.EndsAt = &endsAt
		return m.setStatus(ctx, tx, a, models.AuctionStatusActive, now)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("Auction published", "auction_id", a.ID, "ends_at", a.EndsAt)
	return a, nil
}

// Cancel moves a DRAFT auction to CANCELLED
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return m.transition(ctx, id, func(tx store.Tx, a *models.Auction, now time.Time) error {
		return m.setStatus(ctx, tx, a, models.AuctionStatusCancelled, now)
	})
}

// View returns the display snapshot of an auction
func (m *Manager) View(ctx context.Context, id uuid.UUID) (ledger.View, error) {
	var view ledger.View
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAuction(ctx, id)
		if err != nil {
			return notFound(err, "auction not found")
		}
		top, err := tx.TopBids(ctx, id, ledger.DisplayedBids)
		if err != nil {
			return err
		}
		view = ledger.BuildView(a, top)
		return nil
	})
	return view, err
}

// Freeze suspends bidding on an ACTIVE auction
func (m *Manager) Freeze(ctx context.Context, id uuid.UUID, actorID int64, reason string) (*ModerationResult, error) {
	a, err := m.transition(ctx, id, func(tx store.Tx, a *models.Auction, now time.Time) error {
		if a.Status != models.AuctionStatusActive {
			return reject(KindInvalidTransition, "only an active auction can be frozen")
		}
		if err := m.setStatus(ctx, tx, a, models.AuctionStatusFrozen, now); err != nil {
			return err
		}
		return recordAction(ctx, tx, moderationEntry(models.ModerationFreezeAuction, a.ID, actorID, reason, now))
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("Auction frozen", "auction_id", id, "actor_id", actorID)
	return moderationResult(a), nil
}

// Unfreeze resumes bidding on a FROZEN auction
func (m *Manager) Unfreeze(ctx context.Context, id uuid.UUID, actorID int64, reason string) (*ModerationResult, error) {
	a, err := m.transition(ctx, id, func(tx store.Tx, a *models.Auction, now time.Time) error {
		if a.Status != models.AuctionStatusFrozen {
			return reject(KindInvalidTransition, "only a frozen auction can be unfrozen")
		}
		if err := m.setStatus(ctx, tx, a, models.AuctionStatusActive, now); err != nil {
			return err
		}
		return recordAction(ctx, tx, moderationEntry(models.ModerationUnfreezeAuction, a.ID, actorID, reason, now))
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("Auction unfrozen", "auction_id", id, "actor_id", actorID)
	return moderationResult(a), nil
}

// ForceEnd ends an ACTIVE or FROZEN auction now; the current leader wins
func (m *Manager) ForceEnd(ctx context.Context, id uuid.UUID, actorID int64, reason string) (*ModerationResult, error) {
	a, err := m.transition(ctx, id, func(tx store.Tx, a *models.Auction, now time.Time) error {
		if a.Status != models.AuctionStatusActive && a.Status != models.AuctionStatusFrozen {
			return reject(KindInvalidTransition, "only an active or frozen auction can be ended")
		}
		endsAt := now
		a.EndsAt = &endsAt
		if _, err := m.finalizer.FinalizeLocked(ctx, tx, a, models.AuctionStatusEnded, nil, now); err != nil {
			return err
		}
		return recordAction(ctx, tx, moderationEntry(models.ModerationEndAuction, a.ID, actorID, reason, now))
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("Auction ended by moderator", "auction_id", id, "actor_id", actorID, "winner_id", logUserID(a.WinnerID))
	res := moderationResult(a)
	res.Finalized = true
	return res, nil
}

// RemoveBid soft-deletes a bid. On a finished auction the winner is
// recomputed from the remaining bids.
func (m *Manager) RemoveBid(ctx context.Context, bidID uuid.UUID, actorID int64, reason string) (*ModerationResult, error) {
	var res *ModerationResult
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		bid, err := tx.GetBid(ctx, bidID)
		if err != nil {
			return notFound(err, "bid not found")
		}
		a, err := tx.LockAuction(ctx, bid.AuctionID)
		if err != nil {
			return notFound(err, "auction of the bid not found")
		}
		// Re-read under the lock; a concurrent removal may have won.
		if bid, err = tx.GetBid(ctx, bidID); err != nil {
			return notFound(err, "bid not found")
		}
		if bid.IsRemoved {
			return reject(KindInvalidTransition, "bid already removed")
		}

		now := m.now()
		reason = strings.TrimSpace(reason)
		bid.IsRemoved = true
		bid.RemovedBy = &actorID
		if reason != "" {
			bid.RemovedReason = &reason
		}
		if err := tx.UpdateBidRemoval(ctx, bid); err != nil {
			return fmt.Errorf("failed to remove bid: %w", err)
		}

		winnerChanged := false
		if a.Status.Finished() {
			top, err := tx.TopBids(ctx, a.ID, 1)
			if err != nil {
				return err
			}
			winner := ledger.LeaderID(top)
			winnerChanged = !sameUser(a.WinnerID, winner)
			a.WinnerID = winner
		}
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return fmt.Errorf("failed to update auction: %w", err)
		}

		entry := moderationEntry(models.ModerationRemoveBid, a.ID, actorID, reason, now)
		target := bid.BidderID
		entry.BidID = &bid.ID
		entry.TargetUserID = &target
		entry.Payload = map[string]any{"amount": bid.Amount}
		if err := recordAction(ctx, tx, entry); err != nil {
			return err
		}

		res = moderationResult(a)
		res.TargetBidderID = &target
		res.Finalized = winnerChanged
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("Bid removed", "bid_id", bidID, "auction_id", res.AuctionID, "actor_id", actorID, "winner_id", logUserID(res.WinnerID))
	return res, nil
}

// ModerationLog returns the audit trail of an auction, oldest first
func (m *Manager) ModerationLog(ctx context.Context, auctionID uuid.UUID) ([]models.ModerationLog, error) {
	return m.store.ListModerationLogs(ctx, auctionID)
}

func moderationEntry(action models.ModerationAction, auctionID uuid.UUID, actorID int64, reason string, now time.Time) *models.ModerationLog {
	return &models.ModerationLog{
		ActorID:   actorID,
		Action:    action,
		Reason:    strings.TrimSpace(reason),
		AuctionID: &auctionID,
		CreatedAt: now,
	}
}

func recordAction(ctx context.Context, tx store.Tx, entry *models.ModerationLog) error {
	if err := tx.InsertModerationLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to record %s: %w", entry.Action, err)
	}
	return nil
}

func sameUser(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ResolveFraudSignal closes an OPEN signal as CONFIRMED or DISMISSED
func (m *Manager) ResolveFraudSignal(ctx context.Context, signalID, resolverID int64, status models.FraudSignalStatus, note string) (*models.FraudSignal, error) {
	if !status.Resolution() {
		return nil, reject(KindInvalidInput, "resolution must be %s or %s", models.FraudSignalConfirmed, models.FraudSignalDismissed)
	}
	var out *models.FraudSignal
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		sig, err := tx.GetFraudSignal(ctx, signalID)
		if err != nil {
			return notFound(err, "fraud signal not found")
		}
		if _, err := tx.LockAuction(ctx, sig.AuctionID); err != nil {
			return notFound(err, "auction of the signal not found")
		}
		if sig, err = tx.GetFraudSignal(ctx, signalID); err != nil {
			return notFound(err, "fraud signal not found")
		}
		if sig.Status != models.FraudSignalOpen {
			return reject(KindInvalidTransition, "fraud signal is already %s", sig.Status)
		}

		now := m.now()
		sig.Status = status
		sig.ResolvedBy = &resolverID
		sig.ResolutionNote = strings.TrimSpace(note)
		sig.ResolvedAt = &now
		if err := tx.UpdateFraudSignal(ctx, sig); err != nil {
			return fmt.Errorf("failed to resolve fraud signal: %w", err)
		}
		out = sig
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("Fraud signal resolved", "signal_id", signalID, "status", status, "resolver_id", resolverID)
	return out, nil
}

// ListFraudSignals returns signals newest first
func (m *Manager) ListFraudSignals(ctx context.Context, filter models.FraudSignalFilter) ([]models.FraudSignal, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultSignalPage
	}
	filter.Limit = min(filter.Limit, MaxSignalPage)
	filter.Offset = max(filter.Offset, 0)
	return m.store.ListFraudSignals(ctx, filter)
}
