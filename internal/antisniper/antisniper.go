// Package antisniper pushes an auction deadline back when a bid lands close to it.
package antisniper

import (
	"fmt"
	"time"

	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Config holds the extension rule parameters
type Config struct {
	// Window is how close to the deadline a bid must land to extend it.
	Window time.Duration `yaml:"window"`
	// ExtendBy is added to the deadline on each extension.
	ExtendBy time.Duration `yaml:"extend_by"`
	// MaxExtensions is stamped on new auctions as their extension budget.
	MaxExtensions int `yaml:"max_extensions"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Window:        2 * time.Minute,
		ExtendBy:      3 * time.Minute,
		MaxExtensions: 3,
	}
}

// Validate rejects configurations that could shorten a deadline
func (c Config) Validate() error {
	if c.Window < 0 {
		return fmt.Errorf("anti-sniper window must not be negative")
	}
	if c.ExtendBy <= 0 {
		return fmt.Errorf("anti-sniper extend_by must be positive")
	}
	if c.MaxExtensions < 0 {
		return fmt.Errorf("anti-sniper max_extensions must not be negative")
	}
	return nil
}

// Decision is the outcome of applying the rule
type Decision struct {
	Extended       bool
	EndsAt         time.Time
	ExtensionsUsed int
}

// Extender applies the anti-sniper rule
type Extender struct {
	cfg Config
}

// New creates an Extender with an immutable copy of cfg
func New(cfg Config) *Extender {
	return &Extender{cfg: cfg}
}

// Config returns the rule parameters
func (e *Extender) Config() Config {
	return e.cfg
}

// Decide evaluates the rule without touching the auction
func (e *Extender) Decide(now time.Time, enabled bool, endsAt time.Time, used, max int) Decision {
	d := Decision{EndsAt: endsAt, ExtensionsUsed: used}
	if !enabled || used >= max {
		return d
	}
	if endsAt.Sub(now) > e.cfg.Window {
		return d
	}
	d.Extended = true
	d.EndsAt = endsAt.Add(e.cfg.ExtendBy)
	d.ExtensionsUsed = used + 1
	return d
}

// Apply runs Decide against a and writes the result back. It reports whether the deadline moved.
func (e *Extender) Apply(now time.Time, a *models.Auction) bool {
	if a.EndsAt == nil {
		return false
	}
	d := e.Decide(now, a.AntiSniperEnabled, *a.EndsAt, a.ExtensionsUsed, a.MaxExtensions)
	if !d.Extended {
		return false
	}
	endsAt := d.EndsAt
	a.EndsAt = &endsAt
	a.ExtensionsUsed = d.ExtensionsUsed
	return true
}
