// Package store defines the transactional persistence contract of the auction core.
//
// Every mutation of an auction, its bids, or the fraud signals raised on it
// happens inside a transaction that holds the auction's exclusive lock
// (LockAuction). Two backends implement the contract: store/postgres, where
// the lock is the row lock, and store/memory, which keeps one lock per
// auction id in process.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks infrastructure failures (lock timeout, lost
	// connection, serialization failure). Nothing was committed; the whole
	// operation may be retried.
	ErrTransient = errors.New("transient store failure")
)

// IsTransient reports whether err is safe to retry
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Store is the entry point to the backing store
type Store interface {
	// InTx runs fn in a single transaction. A non-nil error from fn rolls
	// back every write and releases every lock taken inside it.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// DueAuctionIDs lists ACTIVE auctions whose deadline is at or before now,
	// earliest deadline first.
	DueAuctionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// ListFraudSignals returns signals newest first.
	ListFraudSignals(ctx context.Context, filter models.FraudSignalFilter) ([]models.FraudSignal, error)

	// ListModerationLogs returns the audit rows of an auction, oldest first.
	ListModerationLogs(ctx context.Context, auctionID uuid.UUID) ([]models.ModerationLog, error)

	Close() error
}

// Tx is one open transaction
type Tx interface {
	CreateAuction(ctx context.Context, a *models.Auction) error
	// LockAuction takes the exclusive lock on the auction and returns its
	// current state. It blocks while another transaction holds the lock.
	LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	// GetAuction reads the auction without locking it.
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	UpdateAuction(ctx context.Context, a *models.Auction) error

	IsBlacklisted(ctx context.Context, userID int64, now time.Time) (bool, error)

	// TopBids returns non-removed bids ranked by amount desc, created_at asc.
	TopBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error)
	HasRecentDuplicate(ctx context.Context, auctionID uuid.UUID, bidderID, amount int64, since time.Time) (bool, error)
	InsertBid(ctx context.Context, b *models.Bid) error
	GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	UpdateBidRemoval(ctx context.Context, b *models.Bid) error

	GetFraudSignal(ctx context.Context, id int64) (*models.FraudSignal, error)
	UpdateFraudSignal(ctx context.Context, s *models.FraudSignal) error

	// InsertModerationLog records a moderator action and assigns its ID.
	InsertModerationLog(ctx context.Context, l *models.ModerationLog) error

	BidHistory
}

// BidHistory is the read side the fraud scorer works from. All queries see
// only non-removed bids, including those written earlier in the same
// transaction.
type BidHistory interface {
	CountBidderBidsSince(ctx context.Context, auctionID uuid.UUID, bidderID int64, since time.Time) (int, error)
	CountBidsSince(ctx context.Context, auctionID uuid.UUID, since time.Time) (int, error)
	// RecentBids returns at most limit bids created at or after since, newest first.
	RecentBids(ctx context.Context, auctionID uuid.UUID, since time.Time, limit int) ([]models.Bid, error)
	// PreviousBidAmount returns the amount of the latest bid other than exclude.
	PreviousBidAmount(ctx context.Context, auctionID, exclude uuid.UUID) (int64, bool, error)
	// BidAmountsSince returns at most limit amounts created at or after since, oldest first.
	BidAmountsSince(ctx context.Context, auctionID uuid.UUID, since time.Time, limit int) ([]int64, error)
	// CompletedBidTrails returns the bid trails of the most recently ended
	// ENDED/BOUGHT_OUT auctions with a start price in [minStart, maxStart].
	CompletedBidTrails(ctx context.Context, exclude uuid.UUID, minStart, maxStart int64, auctions int) ([]models.BidTrail, error)

	HasOpenFraudSignal(ctx context.Context, auctionID uuid.UUID, bidderID int64, since time.Time) (bool, error)
	InsertFraudSignal(ctx context.Context, s *models.FraudSignal) error

	// Isolate runs fn so that a failure inside it cannot poison the
	// surrounding transaction.
	Isolate(ctx context.Context, fn func() error) error
}
