// Package memory is an in-process store backend.
//
// Each auction id owns a one-slot lock channel; a transaction holds the
// channels it acquired until it commits or rolls back, so bids on one auction
// are serialized while different auctions proceed in parallel. Writes are
// staged on the transaction and applied to the shared maps only on commit.
// The backend is meant for a single process (local runs and tests); across
// processes use store/postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// DefaultLockTimeout bounds the wait for an auction lock
const DefaultLockTimeout = 5 * time.Second

// Store keeps all state in memory
type Store struct {
	mu           sync.RWMutex
	locks        map[uuid.UUID]chan struct{}
	auctions     map[uuid.UUID]*models.Auction
	bids         []models.Bid
	bidIndex     map[uuid.UUID]int
	signals      []models.FraudSignal
	bans         map[int64]models.BlacklistEntry
	modLogs      []models.ModerationLog
	nextSignalID int64
	nextLogID    int64

	lockTimeout time.Duration
}

// New creates an empty Store
func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		locks:       make(map[uuid.UUID]chan struct{}),
		auctions:    make(map[uuid.UUID]*models.Auction),
		bidIndex:    make(map[uuid.UUID]int),
		bans:        make(map[int64]models.BlacklistEntry),
		lockTimeout: lockTimeout,
	}
}

var _ store.Store = (*Store)(nil)

// Ban records a blacklist entry for a user, replacing any previous one
func (s *Store) Ban(entry models.BlacklistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans[entry.UserID] = entry
}

// InTx runs fn in a transaction
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	t := newTx(s)
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	t.commit()
	return nil
}

// DueAuctionIDs lists expired ACTIVE auctions
func (s *Store) DueAuctionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	due := make([]*models.Auction, 0)
	for _, a := range s.auctions {
		if a.Status == models.AuctionStatusActive && a.Expired(now) {
			due = append(due, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].EndsAt.Before(*due[j].EndsAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, len(due))
	for i, a := range due {
		ids[i] = a.ID
	}
	return ids, nil
}

// ListFraudSignals returns signals newest first
func (s *Store) ListFraudSignals(ctx context.Context, filter models.FraudSignalFilter) ([]models.FraudSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.FraudSignal, 0)
	for i := len(s.signals) - 1; i >= 0; i-- {
		sig := s.signals[i]
		if filter.AuctionID != nil && sig.AuctionID != *filter.AuctionID {
			continue
		}
		if filter.Status != nil && sig.Status != *filter.Status {
			continue
		}
		out = append(out, sig)
	}
	offset := max(filter.Offset, 0)
	if offset >= len(out) {
		return []models.FraudSignal{}, nil
	}
	out = out[offset:]
	if limit := max(filter.Limit, 1); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListModerationLogs returns the audit rows of an auction in insertion order
func (s *Store) ListModerationLogs(ctx context.Context, auctionID uuid.UUID) ([]models.ModerationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ModerationLog, 0)
	for _, l := range s.modLogs {
		if l.AuctionID != nil && *l.AuctionID == auctionID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func (s *Store) lockFor(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Store) allocSignalID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSignalID++
	return s.nextSignalID
}

func (s *Store) allocLogID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	return s.nextLogID
}
