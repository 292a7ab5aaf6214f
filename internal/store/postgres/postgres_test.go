package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

func TestClassify(t *testing.T) {
	plain := errors.New("syntax error")
	unique := &pq.Error{Code: "23505"}

	tests := []struct {
		name      string
		err       error
		notFound  bool
		transient bool
		same      error
	}{
		{name: "nil"},
		{name: "no rows", err: fmt.Errorf("load auction: %w", sql.ErrNoRows), notFound: true},
		{name: "lock timeout", err: &pq.Error{Code: "55P03"}, transient: true},
		{name: "serialization failure", err: &pq.Error{Code: "40001"}, transient: true},
		{name: "deadlock", err: fmt.Errorf("update auction: %w", &pq.Error{Code: "40P01"}), transient: true},
		{name: "query canceled", err: &pq.Error{Code: "57014"}, transient: true},
		{name: "connection failure", err: &pq.Error{Code: "08006"}, transient: true},
		{name: "bad conn", err: driver.ErrBadConn, transient: true},
		{name: "conn done", err: sql.ErrConnDone, transient: true},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), transient: true},
		{name: "unique violation", err: unique, same: unique},
		{name: "other", err: plain, same: plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.notFound, errors.Is(got, store.ErrNotFound))
			assert.Equal(t, tt.transient, store.IsTransient(got))
			assert.ErrorIs(t, got, tt.err)
			if tt.same != nil {
				assert.Same(t, tt.same, got)
			}
		})
	}
}

// fakeRow assigns fixed values to Scan destinations in order
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan of %d columns into %d destinations", len(r.vals), len(dest))
	}
	for i, v := range r.vals {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func TestScanFraudSignal(t *testing.T) {
	auctionID, bidID := uuid.New(), uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sig, err := scanFraudSignal(fakeRow{vals: []any{
		int64(7), auctionID, int64(2), uuid.NullUUID{UUID: bidID, Valid: true}, 75,
		[]byte(`[{"code":"RAPID_BIDDING","verdict":"FLAGGED","score":35}]`), "OPEN",
		sql.NullInt64{}, sql.NullString{}, created, sql.NullTime{},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), sig.ID)
	assert.Equal(t, bidID, sig.BidID)
	assert.Equal(t, models.FraudSignalOpen, sig.Status)
	require.Len(t, sig.Reasons, 1)
	assert.Equal(t, 35, sig.Reasons[0].Score)
	assert.Nil(t, sig.ResolvedBy)
	assert.Nil(t, sig.ResolvedAt)

	_, err = scanFraudSignal(fakeRow{vals: []any{
		int64(8), auctionID, int64(2), uuid.NullUUID{}, 75, []byte(`{`), "OPEN",
		sql.NullInt64{}, sql.NullString{}, created, sql.NullTime{},
	}})
	assert.Error(t, err)

	_, err = scanFraudSignal(fakeRow{err: sql.ErrNoRows})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestScanModerationLog(t *testing.T) {
	auctionID, bidID := uuid.New(), uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l, err := scanModerationLog(fakeRow{vals: []any{
		int64(3), int64(9), sql.NullInt64{Int64: 2, Valid: true},
		uuid.NullUUID{UUID: auctionID, Valid: true}, uuid.NullUUID{UUID: bidID, Valid: true},
		"REMOVE_BID", "shill", []byte(`{"amount":55}`), created,
	}})
	require.NoError(t, err)
	assert.Equal(t, models.ModerationRemoveBid, l.Action)
	assert.Equal(t, &auctionID, l.AuctionID)
	assert.Equal(t, &bidID, l.BidID)
	require.NotNil(t, l.TargetUserID)
	assert.Equal(t, int64(2), *l.TargetUserID)
	assert.Equal(t, map[string]any{"amount": float64(55)}, l.Payload)

	l, err = scanModerationLog(fakeRow{vals: []any{
		int64(4), int64(9), sql.NullInt64{}, uuid.NullUUID{}, uuid.NullUUID{},
		"FREEZE_AUCTION", "", []byte(nil), created,
	}})
	require.NoError(t, err)
	assert.Nil(t, l.AuctionID)
	assert.Nil(t, l.TargetUserID)
	assert.Nil(t, l.Payload)
}

func TestScanBid(t *testing.T) {
	reason := "shill"
	b, err := scanBid(fakeRow{vals: []any{
		uuid.New(), uuid.New(), int64(2), int64(55), time.Now(), true,
		sql.NullString{String: reason, Valid: true}, sql.NullInt64{Int64: 9, Valid: true},
	}})
	require.NoError(t, err)
	assert.True(t, b.IsRemoved)
	assert.Equal(t, &reason, b.RemovedReason)
	require.NotNil(t, b.RemovedBy)
	assert.Equal(t, int64(9), *b.RemovedBy)
}
