package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Nombah501/LiteAuction-sub001/internal/ledger"
	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

type tx struct {
	s    *Store
	held map[uuid.UUID]chan struct{}

	auctions      map[uuid.UUID]*models.Auction
	newBids       []models.Bid
	bidUpdates    map[uuid.UUID]models.Bid
	newSignals    []models.FraudSignal
	signalUpdates map[int64]models.FraudSignal
	newLogs       []models.ModerationLog
}

var _ store.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:             s,
		held:          make(map[uuid.UUID]chan struct{}),
		auctions:      make(map[uuid.UUID]*models.Auction),
		bidUpdates:    make(map[uuid.UUID]models.Bid),
		signalUpdates: make(map[int64]models.FraudSignal),
	}
}

func (t *tx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range t.auctions {
		s.auctions[id] = a
	}
	for _, b := range t.newBids {
		s.bidIndex[b.ID] = len(s.bids)
		s.bids = append(s.bids, b)
	}
	for id, b := range t.bidUpdates {
		if i, ok := s.bidIndex[id]; ok {
			s.bids[i] = b
		}
	}
	for _, sig := range t.newSignals {
		s.signals = append(s.signals, sig)
	}
	s.modLogs = append(s.modLogs, t.newLogs...)
	for id, sig := range t.signalUpdates {
		for i := range s.signals {
			if s.signals[i].ID == id {
				s.signals[i] = sig
			}
		}
	}
}

func (t *tx) acquire(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	ch := t.s.lockFor(id)
	timer := time.NewTimer(t.s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		t.held[id] = ch
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for auction %s: %w", store.ErrTransient, id, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: lock timeout on auction %s", store.ErrTransient, id)
	}
}

func (t *tx) CreateAuction(ctx context.Context, a *models.Auction) error {
	if err := t.acquire(ctx, a.ID); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, exists := t.s.auctions[a.ID]
	t.s.mu.RUnlock()
	if _, staged := t.auctions[a.ID]; exists || staged {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	t.auctions[a.ID] = a.Clone()
	return nil
}

func (t *tx) LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	if err := t.acquire(ctx, id); err != nil {
		return nil, err
	}
	return t.GetAuction(ctx, id)
}

func (t *tx) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	if a, ok := t.auctions[id]; ok {
		return a.Clone(), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
	}
	return a.Clone(), nil
}

func (t *tx) UpdateAuction(ctx context.Context, a *models.Auction) error {
	if _, ok := t.held[a.ID]; !ok {
		return fmt.Errorf("update of auction %s without holding its lock", a.ID)
	}
	if _, err := t.GetAuction(ctx, a.ID); err != nil {
		return err
	}
	t.auctions[a.ID] = a.Clone()
	return nil
}

func (t *tx) IsBlacklisted(ctx context.Context, userID int64, now time.Time) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	entry, ok := t.s.bans[userID]
	return ok && entry.ActiveAt(now), nil
}

// bidsOf returns the live view of an auction's bids: committed rows with
// staged updates applied, then bids inserted in this transaction.
func (t *tx) bidsOf(auctionID uuid.UUID) []models.Bid {
	t.s.mu.RLock()
	out := make([]models.Bid, 0)
	for _, b := range t.s.bids {
		if b.AuctionID != auctionID {
			continue
		}
		if u, ok := t.bidUpdates[b.ID]; ok {
			b = u
		}
		out = append(out, b)
	}
	t.s.mu.RUnlock()

	for _, b := range t.newBids {
		if b.AuctionID == auctionID {
			if u, ok := t.bidUpdates[b.ID]; ok {
				b = u
			}
			out = append(out, b)
		}
	}
	return out
}

func (t *tx) liveBidsSince(auctionID uuid.UUID, since time.Time) []models.Bid {
	out := make([]models.Bid, 0)
	for _, b := range t.bidsOf(auctionID) {
		if !b.IsRemoved && !b.CreatedAt.Before(since) {
			out = append(out, b)
		}
	}
	return out
}

func (t *tx) TopBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	return ledger.TopN(t.bidsOf(auctionID), limit), nil
}

func (t *tx) HasRecentDuplicate(ctx context.Context, auctionID uuid.UUID, bidderID, amount int64, since time.Time) (bool, error) {
	for _, b := range t.liveBidsSince(auctionID, since) {
		if b.BidderID == bidderID && b.Amount == amount {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertBid(ctx context.Context, b *models.Bid) error {
	if _, ok := t.held[b.AuctionID]; !ok {
		return fmt.Errorf("insert into auction %s without holding its lock", b.AuctionID)
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	t.newBids = append(t.newBids, *b)
	return nil
}

func (t *tx) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	if u, ok := t.bidUpdates[id]; ok {
		return &u, nil
	}
	for _, b := range t.newBids {
		if b.ID == id {
			return &b, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	i, ok := t.s.bidIndex[id]
	if !ok {
		return nil, fmt.Errorf("bid %s: %w", id, store.ErrNotFound)
	}
	b := t.s.bids[i]
	return &b, nil
}

func (t *tx) UpdateBidRemoval(ctx context.Context, b *models.Bid) error {
	if _, ok := t.held[b.AuctionID]; !ok {
		return fmt.Errorf("update of bid %s without holding auction %s", b.ID, b.AuctionID)
	}
	current, err := t.GetBid(ctx, b.ID)
	if err != nil {
		return err
	}
	current.IsRemoved = b.IsRemoved
	current.RemovedReason = b.RemovedReason
	current.RemovedBy = b.RemovedBy
	t.bidUpdates[b.ID] = *current
	return nil
}

func (t *tx) GetFraudSignal(ctx context.Context, id int64) (*models.FraudSignal, error) {
	if u, ok := t.signalUpdates[id]; ok {
		return &u, nil
	}
	for _, sig := range t.newSignals {
		if sig.ID == id {
			return &sig, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, sig := range t.s.signals {
		if sig.ID == id {
			return &sig, nil
		}
	}
	return nil, fmt.Errorf("fraud signal %d: %w", id, store.ErrNotFound)
}

func (t *tx) UpdateFraudSignal(ctx context.Context, sig *models.FraudSignal) error {
	if _, ok := t.held[sig.AuctionID]; !ok {
		return fmt.Errorf("update of fraud signal %d without holding auction %s", sig.ID, sig.AuctionID)
	}
	if _, err := t.GetFraudSignal(ctx, sig.ID); err != nil {
		return err
	}
	for i := range t.newSignals {
		if t.newSignals[i].ID == sig.ID {
			t.newSignals[i] = *sig
			return nil
		}
	}
	t.signalUpdates[sig.ID] = *sig
	return nil
}

func (t *tx) CountBidderBidsSince(ctx context.Context, auctionID uuid.UUID, bidderID int64, since time.Time) (int, error) {
	n := 0
	for _, b := range t.liveBidsSince(auctionID, since) {
		if b.BidderID == bidderID {
			n++
		}
	}
	return n, nil
}

func (t *tx) CountBidsSince(ctx context.Context, auctionID uuid.UUID, since time.Time) (int, error) {
	return len(t.liveBidsSince(auctionID, since)), nil
}

func byCreated(bids []models.Bid) {
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].CreatedAt.Before(bids[j].CreatedAt) })
}

func (t *tx) RecentBids(ctx context.Context, auctionID uuid.UUID, since time.Time, limit int) ([]models.Bid, error) {
	bids := t.liveBidsSince(auctionID, since)
	byCreated(bids)
	out := make([]models.Bid, 0, min(len(bids), max(limit, 0)))
	for i := len(bids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, bids[i])
	}
	return out, nil
}

func (t *tx) PreviousBidAmount(ctx context.Context, auctionID, exclude uuid.UUID) (int64, bool, error) {
	bids := t.liveBidsSince(auctionID, time.Time{})
	byCreated(bids)
	for i := len(bids) - 1; i >= 0; i-- {
		if bids[i].ID != exclude {
			return bids[i].Amount, true, nil
		}
	}
	return 0, false, nil
}

func (t *tx) BidAmountsSince(ctx context.Context, auctionID uuid.UUID, since time.Time, limit int) ([]int64, error) {
	bids := t.liveBidsSince(auctionID, since)
	byCreated(bids)
	if len(bids) > limit {
		bids = bids[:limit]
	}
	out := make([]int64, len(bids))
	for i, b := range bids {
		out[i] = b.Amount
	}
	return out, nil
}

func (t *tx) CompletedBidTrails(ctx context.Context, exclude uuid.UUID, minStart, maxStart int64, auctions int) ([]models.BidTrail, error) {
	t.s.mu.RLock()
	completed := make([]*models.Auction, 0)
	for _, a := range t.s.auctions {
		if a.ID == exclude || !a.Status.Finished() {
			continue
		}
		if a.StartPrice < minStart || a.StartPrice > maxStart {
			continue
		}
		completed = append(completed, a)
	}
	t.s.mu.RUnlock()

	sort.Slice(completed, func(i, j int) bool {
		ei, ej := completed[i].EndsAt, completed[j].EndsAt
		switch {
		case ei == nil:
			return false
		case ej == nil:
			return true
		case !ei.Equal(*ej):
			return ei.After(*ej)
		}
		return completed[i].UpdatedAt.After(completed[j].UpdatedAt)
	})
	if len(completed) > auctions {
		completed = completed[:auctions]
	}

	trails := make([]models.BidTrail, 0, len(completed))
	for _, a := range completed {
		bids := t.liveBidsSince(a.ID, time.Time{})
		if len(bids) == 0 {
			continue
		}
		byCreated(bids)
		trail := models.BidTrail{AuctionID: a.ID, StartPrice: a.StartPrice, Amounts: make([]int64, len(bids))}
		for i, b := range bids {
			trail.Amounts[i] = b.Amount
		}
		trails = append(trails, trail)
	}
	return trails, nil
}

func (t *tx) HasOpenFraudSignal(ctx context.Context, auctionID uuid.UUID, bidderID int64, since time.Time) (bool, error) {
	match := func(sig models.FraudSignal) bool {
		return sig.AuctionID == auctionID && sig.BidderID == bidderID &&
			sig.Status == models.FraudSignalOpen && !sig.CreatedAt.Before(since)
	}
	for _, sig := range t.newSignals {
		if match(sig) {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, sig := range t.s.signals {
		if u, ok := t.signalUpdates[sig.ID]; ok {
			sig = u
		}
		if match(sig) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertFraudSignal(ctx context.Context, sig *models.FraudSignal) error {
	sig.ID = t.s.allocSignalID()
	sig.Reasons = append([]models.FraudReason(nil), sig.Reasons...)
	t.newSignals = append(t.newSignals, *sig)
	return nil
}

func (t *tx) InsertModerationLog(ctx context.Context, l *models.ModerationLog) error {
	if l.AuctionID != nil {
		if _, ok := t.held[*l.AuctionID]; !ok {
			return fmt.Errorf("moderation log of auction %s without holding its lock", *l.AuctionID)
		}
	}
	l.ID = t.s.allocLogID()
	t.newLogs = append(t.newLogs, *l)
	return nil
}

// Isolate needs no savepoint here: a failed read leaves no partial state.
func (t *tx) Isolate(ctx context.Context, fn func() error) error {
	return fn()
}
