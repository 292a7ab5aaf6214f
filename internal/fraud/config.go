package fraud

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the scorer threshold and every heuristic's parameters.
// Ratios and factors are exact decimals; amounts and scores are integers.
type Config struct {
	AlertThreshold int `yaml:"alert_threshold"`
	// SignalCooldown suppresses a new signal while an OPEN one for the same
	// auction and bidder is younger than this.
	SignalCooldown time.Duration `yaml:"signal_cooldown"`

	Rapid       RapidConfig       `yaml:"rapid"`
	Dominance   DominanceConfig   `yaml:"dominance"`
	Duopoly     DuopolyConfig     `yaml:"duopoly"`
	Alternating AlternatingConfig `yaml:"alternating"`
	Baseline    BaselineConfig    `yaml:"baseline"`
	Historical  HistoricalConfig  `yaml:"historical"`
}

// RapidConfig tunes RAPID_BIDDING. A bidder with at least MinBids bids
// within Window scores BaseScore plus StepScore for each bid from MinBids on,
// capped at MaxScore.
type RapidConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Window    time.Duration `yaml:"window"`
	MinBids   int           `yaml:"min_bids"`
	BaseScore int           `yaml:"base_score"`
	StepScore int           `yaml:"step_score"`
	MaxScore  int           `yaml:"max_score"`
}

// DominanceConfig tunes DOMINANT_BIDDER: one bidder's share of the bids
// within Window reaching Ratio.
type DominanceConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Window       time.Duration   `yaml:"window"`
	MinTotalBids int             `yaml:"min_total_bids"`
	Ratio        decimal.Decimal `yaml:"ratio"`
	Score        int             `yaml:"score"`
}

// DuopolyConfig tunes DUOPOLY_PATTERN: the two most active bidders placing
// at least PairRatio of the last SampleLimit bids within Window.
type DuopolyConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Window       time.Duration   `yaml:"window"`
	SampleLimit  int             `yaml:"sample_limit"`
	MinTotalBids int             `yaml:"min_total_bids"`
	PairRatio    decimal.Decimal `yaml:"pair_ratio"`
	Score        int             `yaml:"score"`
}

// AlternatingConfig tunes ALTERNATING_PAIR: exactly two bidders among the
// last RecentBids bids, switching turns at least MinSwitches times.
type AlternatingConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Window      time.Duration `yaml:"window"`
	RecentBids  int           `yaml:"recent_bids"`
	MinBids     int           `yaml:"min_bids"`
	MinSwitches int           `yaml:"min_switches"`
	Score       int           `yaml:"score"`
}

// BaselineConfig tunes BASELINE_SPIKE: the new increment exceeding
// SpikeFactor times the median increment of this auction.
type BaselineConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Window       time.Duration   `yaml:"window"`
	SampleLimit  int             `yaml:"sample_limit"`
	MinBids      int             `yaml:"min_bids"`
	SpikeFactor  decimal.Decimal `yaml:"spike_factor"`
	MinIncrement int64           `yaml:"min_increment"`
	Score        int             `yaml:"score"`
}

// HistoricalConfig tunes HISTORICAL_BASELINE_SPIKE: the same comparison
// against increments of recently completed auctions whose start price lies
// within [StartRatioLow, StartRatioHigh] of this one.
type HistoricalConfig struct {
	Enabled           bool            `yaml:"enabled"`
	CompletedAuctions int             `yaml:"completed_auctions"`
	StartRatioLow     decimal.Decimal `yaml:"start_ratio_low"`
	StartRatioHigh    decimal.Decimal `yaml:"start_ratio_high"`
	MinPoints         int             `yaml:"min_points"`
	SpikeFactor       decimal.Decimal `yaml:"spike_factor"`
	MinIncrement      int64           `yaml:"min_increment"`
	Score             int             `yaml:"score"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		AlertThreshold: 60,
		SignalCooldown: 10 * time.Minute,
		Rapid: RapidConfig{
			Enabled:   true,
			Window:    120 * time.Second,
			MinBids:   5,
			BaseScore: 20,
			StepScore: 5,
			MaxScore:  45,
		},
		Dominance: DominanceConfig{
			Enabled:      true,
			Window:       300 * time.Second,
			MinTotalBids: 8,
			Ratio:        decimal.RequireFromString("0.7"),
			Score:        30,
		},
		Duopoly: DuopolyConfig{
			Enabled:      true,
			Window:       300 * time.Second,
			SampleLimit:  40,
			MinTotalBids: 10,
			PairRatio:    decimal.RequireFromString("0.85"),
			Score:        25,
		},
		Alternating: AlternatingConfig{
			Enabled:     true,
			Window:      300 * time.Second,
			RecentBids:  8,
			MinBids:     4,
			MinSwitches: 6,
			Score:       20,
		},
		Baseline: BaselineConfig{
			Enabled:      true,
			Window:       3600 * time.Second,
			SampleLimit:  80,
			MinBids:      6,
			SpikeFactor:  decimal.RequireFromString("4.0"),
			MinIncrement: 50,
			Score:        25,
		},
		Historical: HistoricalConfig{
			Enabled:           true,
			CompletedAuctions: 30,
			StartRatioLow:     decimal.RequireFromString("0.5"),
			StartRatioHigh:    decimal.RequireFromString("2.0"),
			MinPoints:         25,
			SpikeFactor:       decimal.RequireFromString("3.0"),
			MinIncrement:      40,
			Score:             20,
		},
	}
}

// Validate checks that every enabled heuristic has a usable configuration
func (c Config) Validate() error {
	if c.AlertThreshold <= 0 {
		return fmt.Errorf("fraud alert_threshold must be positive")
	}
	if c.SignalCooldown < 0 {
		return fmt.Errorf("fraud signal_cooldown must not be negative")
	}
	if r := c.Rapid; r.Enabled && (r.Window <= 0 || r.MinBids < 1 || r.MaxScore < 0) {
		return fmt.Errorf("fraud rapid: window, min_bids and max_score must be positive")
	}
	if d := c.Dominance; d.Enabled {
		if d.Window <= 0 || d.MinTotalBids < 1 {
			return fmt.Errorf("fraud dominance: window and min_total_bids must be positive")
		}
		if !inUnitInterval(d.Ratio) {
			return fmt.Errorf("fraud dominance: ratio %s is outside (0, 1]", d.Ratio)
		}
	}
	if d := c.Duopoly; d.Enabled {
		if d.Window <= 0 || d.SampleLimit < 1 || d.MinTotalBids < 1 {
			return fmt.Errorf("fraud duopoly: window, sample_limit and min_total_bids must be positive")
		}
		if !inUnitInterval(d.PairRatio) {
			return fmt.Errorf("fraud duopoly: pair_ratio %s is outside (0, 1]", d.PairRatio)
		}
	}
	if a := c.Alternating; a.Enabled && (a.Window <= 0 || a.RecentBids < 2 || a.MinBids < 2 || a.MinSwitches < 1) {
		return fmt.Errorf("fraud alternating: window, recent_bids, min_bids and min_switches are too small")
	}
	if b := c.Baseline; b.Enabled {
		if b.Window <= 0 || b.SampleLimit < 2 || b.MinBids < 2 {
			return fmt.Errorf("fraud baseline: window, sample_limit and min_bids are too small")
		}
		if !b.SpikeFactor.IsPositive() {
			return fmt.Errorf("fraud baseline: spike_factor must be positive")
		}
	}
	if h := c.Historical; h.Enabled {
		if h.CompletedAuctions < 1 || h.MinPoints < 1 {
			return fmt.Errorf("fraud historical: completed_auctions and min_points must be positive")
		}
		if !h.StartRatioLow.IsPositive() || h.StartRatioHigh.LessThan(h.StartRatioLow) {
			return fmt.Errorf("fraud historical: start ratio band [%s, %s] is invalid", h.StartRatioLow, h.StartRatioHigh)
		}
		if !h.SpikeFactor.IsPositive() {
			return fmt.Errorf("fraud historical: spike_factor must be positive")
		}
	}
	return nil
}

func inUnitInterval(d decimal.Decimal) bool {
	return d.IsPositive() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
