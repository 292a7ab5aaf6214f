// Package postgres is the authoritative store backend.
//
// The auction lock is the row lock taken by SELECT ... FOR UPDATE, so bids
// are serialized per auction across every process sharing the database.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// PostgresClient wraps the PostgreSQL database connection
type PostgresClient struct {
	db          *sql.DB
	log         *slog.Logger
	lockTimeout time.Duration
}

var _ store.Store = (*PostgresClient)(nil)

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(connStr string, lockTimeout time.Duration, log *slog.Logger) (*PostgresClient, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresClient{db: db, log: log, lockTimeout: lockTimeout}, nil
}

// InitSchema creates the necessary database tables
func (c *PostgresClient) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS auctions (
		id UUID PRIMARY KEY,
		seller_user_id BIGINT NOT NULL,
		description TEXT NOT NULL,
		start_price BIGINT NOT NULL CHECK (start_price >= 1),
		buyout_price BIGINT,
		min_step BIGINT NOT NULL CHECK (min_step >= 1),
		duration_hours SMALLINT NOT NULL CHECK (duration_hours IN (6, 12, 18, 24)),
		anti_sniper_enabled BOOLEAN NOT NULL DEFAULT true,
		anti_sniper_extensions_used SMALLINT NOT NULL DEFAULT 0,
		anti_sniper_max_extensions SMALLINT NOT NULL DEFAULT 3,
		starts_at TIMESTAMPTZ,
		ends_at TIMESTAMPTZ,
		status VARCHAR(16) NOT NULL DEFAULT 'DRAFT',
		winner_user_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT auctions_buyout_gte_start CHECK (buyout_price IS NULL OR buyout_price >= start_price)
	);

	CREATE TABLE IF NOT EXISTS auction_photos (
		id BIGSERIAL PRIMARY KEY,
		auction_id UUID NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		file_id TEXT NOT NULL,
		position SMALLINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bids (
		id UUID PRIMARY KEY,
		auction_id UUID NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount >= 1),
		is_removed BOOLEAN NOT NULL DEFAULT false,
		removed_reason TEXT,
		removed_by_user_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blacklist_entries (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL UNIQUE,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT true
	);

	CREATE TABLE IF NOT EXISTS fraud_signals (
		id BIGSERIAL PRIMARY KEY,
		auction_id UUID NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL,
		bid_id UUID REFERENCES bids(id) ON DELETE SET NULL,
		score INTEGER NOT NULL,
		reasons JSONB NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'OPEN',
		resolved_by_user_id BIGINT,
		resolution_note TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS moderation_logs (
		id BIGSERIAL PRIMARY KEY,
		actor_user_id BIGINT NOT NULL,
		target_user_id BIGINT,
		auction_id UUID REFERENCES auctions(id) ON DELETE SET NULL,
		bid_id UUID REFERENCES bids(id) ON DELETE SET NULL,
		action VARCHAR(32) NOT NULL,
		reason TEXT NOT NULL,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_auctions_status_ends_at ON auctions(status, ends_at);
	CREATE INDEX IF NOT EXISTS idx_auction_photos_auction_id ON auction_photos(auction_id);
	CREATE INDEX IF NOT EXISTS idx_bids_auction_created ON bids(auction_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_bids_auction_amount ON bids(auction_id, amount DESC, created_at ASC) WHERE NOT is_removed;
	CREATE INDEX IF NOT EXISTS idx_fraud_signals_auction_user ON fraud_signals(auction_id, user_id, status);
	CREATE INDEX IF NOT EXISTS idx_moderation_logs_auction ON moderation_logs(auction_id, created_at);
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// InTx runs fn in a READ COMMITTED transaction with a bounded lock wait
func (c *PostgresClient) InTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				c.log.Warn("Rollback failed", "err", rbErr)
			}
		}
	}()

	if c.lockTimeout > 0 {
		// SET LOCAL does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", c.lockTimeout.Milliseconds())
		if _, err = sqlTx.ExecContext(ctx, stmt); err != nil {
			return classify(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	if err = fn(&tx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// DueAuctionIDs lists expired ACTIVE auctions
func (c *PostgresClient) DueAuctionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM auctions
		WHERE status = $1 AND ends_at IS NOT NULL AND ends_at <= $2
		ORDER BY ends_at ASC
		LIMIT $3
	`

	rows, err := c.db.QueryContext(ctx, query, models.AuctionStatusActive, now, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query due auctions: %w", err))
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, classify(rows.Err())
}

// ListFraudSignals returns signals newest first
func (c *PostgresClient) ListFraudSignals(ctx context.Context, filter models.FraudSignalFilter) ([]models.FraudSignal, error) {
	query := `
		SELECT ` + fraudSignalColumns + `
		FROM fraud_signals
		WHERE ($1::uuid IS NULL OR auction_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`

	var auctionID, status any
	if filter.AuctionID != nil {
		auctionID = *filter.AuctionID
	}
	if filter.Status != nil {
		status = string(*filter.Status)
	}

	rows, err := c.db.QueryContext(ctx, query, auctionID, status, max(filter.Limit, 1), max(filter.Offset, 0))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query fraud signals: %w", err))
	}
	defer rows.Close()

	signals := make([]models.FraudSignal, 0)
	for rows.Next() {
		sig, err := scanFraudSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, *sig)
	}
	return signals, classify(rows.Err())
}

// ListModerationLogs returns the audit rows of an auction, oldest first
func (c *PostgresClient) ListModerationLogs(ctx context.Context, auctionID uuid.UUID) ([]models.ModerationLog, error) {
	query := `
		SELECT ` + moderationLogColumns + `
		FROM moderation_logs
		WHERE auction_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query moderation logs: %w", err))
	}
	defer rows.Close()

	logs := make([]models.ModerationLog, 0)
	for rows.Next() {
		l, err := scanModerationLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, classify(rows.Err())
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	return c.db.Close()
}

// Transient SQLSTATE codes: lock_not_available, serialization_failure,
// deadlock_detected, query_canceled and the connection exception class.
var transientCodes = map[pq.ErrorCode]bool{
	"55P03": true,
	"40001": true,
	"40P01": true,
	"57014": true,
	"08000": true,
	"08003": true,
	"08006": true,
}

// classify maps driver errors onto the store sentinels
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && transientCodes[pqErr.Code] {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}

const fraudSignalColumns = `id, auction_id, user_id, bid_id, score, reasons, status,
	resolved_by_user_id, resolution_note, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFraudSignal(row rowScanner) (*models.FraudSignal, error) {
	var (
		sig        models.FraudSignal
		bidID      uuid.NullUUID
		reasons    []byte
		status     string
		resolvedBy sql.NullInt64
		note       sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&sig.ID, &sig.AuctionID, &sig.BidderID, &bidID, &sig.Score, &reasons, &status,
		&resolvedBy, &note, &sig.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to scan fraud signal: %w", err))
	}
	if bidID.Valid {
		sig.BidID = bidID.UUID
	}
	if err := json.Unmarshal(reasons, &sig.Reasons); err != nil {
		return nil, fmt.Errorf("failed to decode reasons of fraud signal %d: %w", sig.ID, err)
	}
	sig.Status = models.FraudSignalStatus(status)
	if resolvedBy.Valid {
		sig.ResolvedBy = &resolvedBy.Int64
	}
	sig.ResolutionNote = note.String
	if resolvedAt.Valid {
		sig.ResolvedAt = &resolvedAt.Time
	}
	return &sig, nil
}

const moderationLogColumns = `id, actor_user_id, target_user_id, auction_id, bid_id, action, reason, payload, created_at`

func scanModerationLog(row rowScanner) (*models.ModerationLog, error) {
	var (
		l         models.ModerationLog
		target    sql.NullInt64
		auctionID uuid.NullUUID
		bidID     uuid.NullUUID
		action    string
		payload   []byte
	)
	err := row.Scan(&l.ID, &l.ActorID, &target, &auctionID, &bidID, &action, &l.Reason, &payload, &l.CreatedAt)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to scan moderation log: %w", err))
	}
	if target.Valid {
		l.TargetUserID = &target.Int64
	}
	if auctionID.Valid {
		l.AuctionID = &auctionID.UUID
	}
	if bidID.Valid {
		l.BidID = &bidID.UUID
	}
	l.Action = models.ModerationAction(action)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &l.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of moderation log %d: %w", l.ID, err)
		}
	}
	return &l, nil
}
