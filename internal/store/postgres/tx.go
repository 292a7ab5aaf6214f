package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

type tx struct {
	tx        *sql.Tx
	savepoint int
}

var _ store.Tx = (*tx)(nil)

const auctionColumns = `id, seller_user_id, description, start_price, buyout_price, min_step,
	duration_hours, anti_sniper_enabled, anti_sniper_extensions_used, anti_sniper_max_extensions,
	starts_at, ends_at, status, winner_user_id, created_at, updated_at`

const bidColumns = `id, auction_id, user_id, amount, created_at, is_removed, removed_reason, removed_by_user_id`

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func (t *tx) CreateAuction(ctx context.Context, a *models.Auction) error {
	query := `
		INSERT INTO auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := t.tx.ExecContext(ctx, query,
		a.ID, a.SellerID, a.Description, a.StartPrice, nullInt(a.BuyoutPrice), a.MinStep,
		int(a.Duration), a.AntiSniperEnabled, a.ExtensionsUsed, a.MaxExtensions,
		nullTime(a.StartsAt), nullTime(a.EndsAt), string(a.Status), nullInt(a.WinnerID),
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to insert auction: %w", err))
	}

	for i, photo := range a.PhotoIDs {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO auction_photos (auction_id, file_id, position) VALUES ($1, $2, $3)`,
			a.ID, photo, i,
		)
		if err != nil {
			return classify(fmt.Errorf("failed to insert auction photo: %w", err))
		}
	}
	return nil
}

func (t *tx) LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return t.loadAuction(ctx, id, true)
}

func (t *tx) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return t.loadAuction(ctx, id, false)
}

func (t *tx) loadAuction(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		a        models.Auction
		buyout   sql.NullInt64
		duration int
		status   string
		startsAt sql.NullTime
		endsAt   sql.NullTime
		winnerID sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.SellerID, &a.Description, &a.StartPrice, &buyout, &a.MinStep,
		&duration, &a.AntiSniperEnabled, &a.ExtensionsUsed, &a.MaxExtensions,
		&startsAt, &endsAt, &status, &winnerID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load auction %s: %w", id, err))
	}
	if buyout.Valid {
		a.BuyoutPrice = &buyout.Int64
	}
	a.Duration = models.Duration(duration)
	a.Status = models.AuctionStatus(status)
	if startsAt.Valid {
		a.StartsAt = &startsAt.Time
	}
	if endsAt.Valid {
		a.EndsAt = &endsAt.Time
	}
	if winnerID.Valid {
		a.WinnerID = &winnerID.Int64
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT file_id FROM auction_photos WHERE auction_id = $1 ORDER BY position ASC, id ASC`, id)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load auction photos: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var fileID string
		if err := rows.Scan(&fileID); err != nil {
			return nil, fmt.Errorf("failed to scan auction photo: %w", err)
		}
		a.PhotoIDs = append(a.PhotoIDs, fileID)
	}
	return &a, classify(rows.Err())
}

// UpdateAuction writes the mutable lifecycle fields. The caller holds the row lock.
func (t *tx) UpdateAuction(ctx context.Context, a *models.Auction) error {
	query := `
		UPDATE auctions
		SET status = $1,
		    starts_at = $2,
		    ends_at = $3,
		    anti_sniper_extensions_used = $4,
		    winner_user_id = $5,
		    updated_at = $6
		WHERE id = $7
	`

	result, err := t.tx.ExecContext(ctx, query,
		string(a.Status), nullTime(a.StartsAt), nullTime(a.EndsAt), a.ExtensionsUsed,
		nullInt(a.WinnerID), a.UpdatedAt, a.ID,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to update auction: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("auction %s: %w", a.ID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) IsBlacklisted(ctx context.Context, userID int64, now time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM blacklist_entries
			WHERE user_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > $2)
		)
	`, userID, now).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("failed to check blacklist: %w", err))
	}
	return exists, nil
}

func (t *tx) queryBids(ctx context.Context, query string, args ...any) ([]models.Bid, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query bids: %w", err))
	}
	defer rows.Close()

	bids := make([]models.Bid, 0)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, classify(rows.Err())
}

func scanBid(row rowScanner) (*models.Bid, error) {
	var (
		b         models.Bid
		reason    sql.NullString
		removedBy sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt, &b.IsRemoved, &reason, &removedBy)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to scan bid: %w", err))
	}
	if reason.Valid {
		b.RemovedReason = &reason.String
	}
	if removedBy.Valid {
		b.RemovedBy = &removedBy.Int64
	}
	return &b, nil
}

func (t *tx) TopBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	return t.queryBids(ctx, `
		SELECT `+bidColumns+`
		FROM bids
		WHERE auction_id = $1 AND NOT is_removed
		ORDER BY amount DESC, created_at ASC, id ASC
		LIMIT $2
	`, auctionID, limit)
}

func (t *tx) HasRecentDuplicate(ctx context.Context, auctionID uuid.UUID, bidderID, amount int64, since time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bids
			WHERE auction_id = $1 AND user_id = $2 AND amount = $3
			  AND NOT is_removed AND created_at >= $4
		)
	`, auctionID, bidderID, amount, since).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("failed to check duplicate bid: %w", err))
	}
	return exists, nil
}

// InsertBid inserts a bid record into the database
func (t *tx) InsertBid(ctx context.Context, b *models.Bid) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	query := `
		INSERT INTO bids (id, auction_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := t.tx.ExecContext(ctx, query, b.ID, b.AuctionID, b.BidderID, b.Amount, b.CreatedAt); err != nil {
		return classify(fmt.Errorf("failed to insert bid: %w", err))
	}
	return nil
}

func (t *tx) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	b, err := scanBid(row)
	if err != nil {
		return nil, fmt.Errorf("bid %s: %w", id, err)
	}
	return b, nil
}

func (t *tx) UpdateBidRemoval(ctx context.Context, b *models.Bid) error {
	var reason sql.NullString
	if b.RemovedReason != nil {
		reason = sql.NullString{String: *b.RemovedReason, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE bids SET is_removed = $1, removed_reason = $2, removed_by_user_id = $3 WHERE id = $4
	`, b.IsRemoved, reason, nullInt(b.RemovedBy), b.ID)
	if err != nil {
		return classify(fmt.Errorf("failed to update bid: %w", err))
	}
	return nil
}

func (t *tx) GetFraudSignal(ctx context.Context, id int64) (*models.FraudSignal, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+fraudSignalColumns+` FROM fraud_signals WHERE id = $1`, id)
	sig, err := scanFraudSignal(row)
	if err != nil {
		return nil, fmt.Errorf("fraud signal %d: %w", id, err)
	}
	return sig, nil
}

func (t *tx) UpdateFraudSignal(ctx context.Context, sig *models.FraudSignal) error {
	var note sql.NullString
	if sig.ResolutionNote != "" {
		note = sql.NullString{String: sig.ResolutionNote, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE fraud_signals
		SET status = $1, resolved_by_user_id = $2, resolution_note = $3, resolved_at = $4
		WHERE id = $5
	`, string(sig.Status), nullInt(sig.ResolvedBy), note, nullTime(sig.ResolvedAt), sig.ID)
	if err != nil {
		return classify(fmt.Errorf("failed to update fraud signal: %w", err))
	}
	return nil
}

func (t *tx) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("failed to count bids: %w", err))
	}
	return n, nil
}

func (t *tx) CountBidderBidsSince(ctx context.Context, auctionID uuid.UUID, bidderID int64, since time.Time) (int, error) {
	return t.count(ctx, `
		SELECT COUNT(*) FROM bids
		WHERE auction_id = $1 AND user_id = $2 AND NOT is_removed AND created_at >= $3
	`, auctionID, bidderID, since)
}

func (t *tx) CountBidsSince(ctx context.Context, auctionID uuid.UUID, since time.Time) (int, error) {
	return t.count(ctx, `
		SELECT COUNT(*) FROM bids
		WHERE auction_id = $1 AND NOT is_removed AND created_at >= $2
	`, auctionID, since)
}

func (t *tx) RecentBids(ctx context.Context, auctionID uuid.UUID, since time.Time, limit int) ([]models.Bid, error) {
	return t.queryBids(ctx, `
		SELECT `+bidColumns+`
		FROM bids
		WHERE auction_id = $1 AND NOT is_removed AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, auctionID, since, limit)
}

func (t *tx) PreviousBidAmount(ctx context.Context, auctionID, exclude uuid.UUID) (int64, bool, error) {
	var amount int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT amount FROM bids
		WHERE auction_id = $1 AND NOT is_removed AND id <> $2
		ORDER BY created_at DESC
		LIMIT 1
	`, auctionID, exclude).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(fmt.Errorf("failed to load previous bid: %w", err))
	}
	return amount, true, nil
}

func (t *tx) BidAmountsSince(ctx context.Context, auctionID uuid.UUID, since time.Time, limit int) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT amount FROM bids
		WHERE auction_id = $1 AND NOT is_removed AND created_at >= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, auctionID, since, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query bid amounts: %w", err))
	}
	defer rows.Close()

	amounts := make([]int64, 0)
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			return nil, fmt.Errorf("failed to scan bid amount: %w", err)
		}
		amounts = append(amounts, amount)
	}
	return amounts, classify(rows.Err())
}

func (t *tx) CompletedBidTrails(ctx context.Context, exclude uuid.UUID, minStart, maxStart int64, auctions int) ([]models.BidTrail, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id FROM auctions
		WHERE id <> $1 AND status = ANY($2) AND start_price BETWEEN $3 AND $4
		ORDER BY ends_at DESC NULLS LAST, updated_at DESC
		LIMIT $5
	`, exclude, pq.Array([]string{string(models.AuctionStatusEnded), string(models.AuctionStatusBoughtOut)}),
		minStart, maxStart, auctions)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query completed auctions: %w", err))
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err = t.tx.QueryContext(ctx, `
		SELECT b.auction_id, a.start_price, b.amount
		FROM bids b
		JOIN auctions a ON a.id = b.auction_id
		WHERE b.auction_id = ANY($1::uuid[]) AND NOT b.is_removed
		ORDER BY b.auction_id ASC, b.created_at ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query completed bid trails: %w", err))
	}
	defer rows.Close()

	var trails []models.BidTrail
	for rows.Next() {
		var (
			auctionID  uuid.UUID
			startPrice int64
			amount     int64
		)
		if err := rows.Scan(&auctionID, &startPrice, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan bid trail: %w", err)
		}
		if n := len(trails); n == 0 || trails[n-1].AuctionID != auctionID {
			trails = append(trails, models.BidTrail{AuctionID: auctionID, StartPrice: startPrice})
		}
		last := &trails[len(trails)-1]
		last.Amounts = append(last.Amounts, amount)
	}
	return trails, classify(rows.Err())
}

func (t *tx) HasOpenFraudSignal(ctx context.Context, auctionID uuid.UUID, bidderID int64, since time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM fraud_signals
			WHERE auction_id = $1 AND user_id = $2 AND status = $3 AND created_at >= $4
		)
	`, auctionID, bidderID, string(models.FraudSignalOpen), since).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("failed to check open fraud signals: %w", err))
	}
	return exists, nil
}

func (t *tx) InsertFraudSignal(ctx context.Context, sig *models.FraudSignal) error {
	reasons, err := json.Marshal(sig.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode fraud reasons: %w", err)
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO fraud_signals (auction_id, user_id, bid_id, score, reasons, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, sig.AuctionID, sig.BidderID, sig.BidID, sig.Score, reasons, string(sig.Status), sig.CreatedAt).Scan(&sig.ID)
	if err != nil {
		return classify(fmt.Errorf("failed to insert fraud signal: %w", err))
	}
	return nil
}

func (t *tx) InsertModerationLog(ctx context.Context, l *models.ModerationLog) error {
	var payload any
	if l.Payload != nil {
		raw, err := json.Marshal(l.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode moderation payload: %w", err)
		}
		payload = raw
	}
	var auctionID, bidID uuid.NullUUID
	if l.AuctionID != nil {
		auctionID = uuid.NullUUID{UUID: *l.AuctionID, Valid: true}
	}
	if l.BidID != nil {
		bidID = uuid.NullUUID{UUID: *l.BidID, Valid: true}
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO moderation_logs (actor_user_id, target_user_id, auction_id, bid_id, action, reason, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, l.ActorID, nullInt(l.TargetUserID), auctionID, bidID, string(l.Action), l.Reason, payload, l.CreatedAt).Scan(&l.ID)
	if err != nil {
		return classify(fmt.Errorf("failed to insert moderation log: %w", err))
	}
	return nil
}

// Isolate wraps fn in a savepoint; a failed statement inside it would
// otherwise abort the whole transaction.
func (t *tx) Isolate(ctx context.Context, fn func() error) error {
	t.savepoint++
	name := fmt.Sprintf("isolate_%d", t.savepoint)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return classify(fmt.Errorf("failed to create savepoint: %w", err))
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return classify(fmt.Errorf("failed to roll back savepoint after %v: %w", err, rbErr))
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return classify(fmt.Errorf("failed to release savepoint: %w", err))
	}
	return nil
}
