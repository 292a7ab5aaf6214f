package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

// AuctionStatus constants
const (
	AuctionStatusDraft     AuctionStatus = "DRAFT"
	AuctionStatusActive    AuctionStatus = "ACTIVE"
	AuctionStatusEnded     AuctionStatus = "ENDED"
	AuctionStatusBoughtOut AuctionStatus = "BOUGHT_OUT"
	AuctionStatusCancelled AuctionStatus = "CANCELLED"
	AuctionStatusFrozen    AuctionStatus = "FROZEN"
)

// Terminal reports whether no further transition is possible from s
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionStatusEnded, AuctionStatusBoughtOut, AuctionStatusCancelled:
		return true
	}
	return false
}

// Finished reports whether s is a completed auction that may carry a winner
func (s AuctionStatus) Finished() bool {
	return s == AuctionStatusEnded || s == AuctionStatusBoughtOut
}

// Valid reports whether s is one of the known statuses
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionStatusDraft, AuctionStatusActive, AuctionStatusEnded,
		AuctionStatusBoughtOut, AuctionStatusCancelled, AuctionStatusFrozen:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
// ENDED, BOUGHT_OUT and CANCELLED are terminal; FROZEN may return to ACTIVE.
func (s AuctionStatus) CanTransition(next AuctionStatus) bool {
	switch s {
	case AuctionStatusDraft:
		return next == AuctionStatusActive || next == AuctionStatusCancelled
	case AuctionStatusActive:
		return next == AuctionStatusEnded || next == AuctionStatusBoughtOut || next == AuctionStatusFrozen
	case AuctionStatusFrozen:
		return next == AuctionStatusActive || next == AuctionStatusEnded
	}
	return false
}

// Duration is the advertised running time of an auction, in hours
type Duration int

// Duration options offered to sellers
const (
	Duration6h  Duration = 6
	Duration12h Duration = 12
	Duration18h Duration = 18
	Duration24h Duration = 24
)

// Valid reports whether d is one of the fixed duration options
func (d Duration) Valid() bool {
	switch d {
	case Duration6h, Duration12h, Duration18h, Duration24h:
		return true
	}
	return false
}

// Hours returns d as a time.Duration
func (d Duration) Hours() time.Duration {
	return time.Duration(d) * time.Hour
}

// MaxPhotos is the number of photo references kept per auction
const MaxPhotos = 10

// Auction represents a single lot and its bidding state
type Auction struct {
	ID                uuid.UUID     `json:"id"`
	SellerID          int64         `json:"seller_id"`
	Description       string        `json:"description"`
	PhotoIDs          []string      `json:"photo_ids"`
	StartPrice        int64         `json:"start_price"`
	BuyoutPrice       *int64        `json:"buyout_price,omitempty"`
	MinStep           int64         `json:"min_step"`
	Duration          Duration      `json:"duration_hours"`
	AntiSniperEnabled bool          `json:"anti_sniper_enabled"`
	ExtensionsUsed    int           `json:"extensions_used"`
	MaxExtensions     int           `json:"max_extensions"`
	StartsAt          *time.Time    `json:"starts_at,omitempty"`
	EndsAt            *time.Time    `json:"ends_at,omitempty"`
	Status            AuctionStatus `json:"status"`
	WinnerID          *int64        `json:"winner_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// HasBuyout reports whether a buyout price is configured
func (a *Auction) HasBuyout() bool {
	return a.BuyoutPrice != nil
}

// Expired reports whether the deadline has passed at now
func (a *Auction) Expired(now time.Time) bool {
	return a.EndsAt != nil && !now.Before(*a.EndsAt)
}

// Clone returns a deep copy of the auction
func (a *Auction) Clone() *Auction {
	c := *a
	c.PhotoIDs = append([]string(nil), a.PhotoIDs...)
	if a.BuyoutPrice != nil {
		v := *a.BuyoutPrice
		c.BuyoutPrice = &v
	}
	if a.StartsAt != nil {
		v := *a.StartsAt
		c.StartsAt = &v
	}
	if a.EndsAt != nil {
		v := *a.EndsAt
		c.EndsAt = &v
	}
	if a.WinnerID != nil {
		v := *a.WinnerID
		c.WinnerID = &v
	}
	return &c
}

// Validate checks the persisted constraints of an auction
func (a *Auction) Validate() error {
	if a.SellerID == 0 {
		return fmt.Errorf("seller is required")
	}
	if a.StartPrice < 1 {
		return fmt.Errorf("start price must be at least 1, got %d", a.StartPrice)
	}
	if a.MinStep < 1 {
		return fmt.Errorf("min step must be at least 1, got %d", a.MinStep)
	}
	if a.BuyoutPrice != nil && *a.BuyoutPrice < a.StartPrice {
		return fmt.Errorf("buyout price %d is below start price %d", *a.BuyoutPrice, a.StartPrice)
	}
	if !a.Duration.Valid() {
		return fmt.Errorf("duration %dh is not one of 6, 12, 18, 24", a.Duration)
	}
	if a.MaxExtensions < 0 || a.ExtensionsUsed < 0 {
		return fmt.Errorf("extension counters must not be negative")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("unknown status %q", a.Status)
	}
	if a.WinnerID != nil && !a.Status.Finished() {
		return fmt.Errorf("winner set on %s auction", a.Status)
	}
	return nil
}

// NormalizePhotoIDs drops empty and repeated references and keeps at most MaxPhotos
func NormalizePhotoIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == MaxPhotos {
			break
		}
	}
	return out
}

// CeilToNextHour rounds t up to the next full hour; exact hours are kept
func CeilToNextHour(t time.Time) time.Time {
	rounded := t.Truncate(time.Hour)
	if rounded.Equal(t) {
		return rounded
	}
	return rounded.Add(time.Hour)
}
