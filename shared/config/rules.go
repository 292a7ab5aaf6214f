package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Nombah501/LiteAuction-sub001/internal/antisniper"
	"github.com/Nombah501/LiteAuction-sub001/internal/fraud"
)

// BiddingRules are the bid path knobs outside anti-sniping and fraud
type BiddingRules struct {
	// DuplicateWindow rejects a repeated (bidder, amount) on one auction.
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	// Cooldown is the gateway's minimum gap between requests of one bidder on one auction.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Rules is the full rule set injected into the bidding core
type Rules struct {
	AntiSniper antisniper.Config `yaml:"anti_sniper"`
	Bidding    BiddingRules      `yaml:"bidding"`
	Fraud      fraud.Config      `yaml:"fraud"`
}

// DefaultRules returns the production defaults
func DefaultRules() Rules {
	return Rules{
		AntiSniper: antisniper.DefaultConfig(),
		Bidding: BiddingRules{
			DuplicateWindow: 15 * time.Second,
			Cooldown:        2 * time.Second,
		},
		Fraud: fraud.DefaultConfig(),
	}
}

// Validate checks every section
func (r Rules) Validate() error {
	if err := r.AntiSniper.Validate(); err != nil {
		return err
	}
	if r.Bidding.DuplicateWindow < 0 || r.Bidding.Cooldown < 0 {
		return fmt.Errorf("bidding windows must not be negative")
	}
	return r.Fraud.Validate()
}

// LoadRules starts from the defaults, overlays the YAML file at path (if
// any), then the environment, and validates the result.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
		}
		if err := yaml.Unmarshal(body, &rules); err != nil {
			return Rules{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
		}
	}
	rules.applyEnv()
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("invalid rules: %w", err)
	}
	return rules, nil
}

func (r *Rules) applyEnv() {
	as := &r.AntiSniper
	as.Window = GetEnvDuration("ANTI_SNIPER_WINDOW", as.Window)
	as.ExtendBy = GetEnvDuration("ANTI_SNIPER_EXTEND_BY", as.ExtendBy)
	as.MaxExtensions = GetEnvInt("ANTI_SNIPER_MAX_EXTENSIONS", as.MaxExtensions)

	r.Bidding.DuplicateWindow = GetEnvDuration("DUPLICATE_BID_WINDOW", r.Bidding.DuplicateWindow)
	r.Bidding.Cooldown = GetEnvDuration("BID_COOLDOWN", r.Bidding.Cooldown)

	f := &r.Fraud
	f.AlertThreshold = GetEnvInt("FRAUD_ALERT_THRESHOLD", f.AlertThreshold)
	f.SignalCooldown = GetEnvDuration("FRAUD_SIGNAL_COOLDOWN", f.SignalCooldown)

	f.Rapid.Enabled = GetEnvBool("FRAUD_RAPID_ENABLED", f.Rapid.Enabled)
	f.Rapid.Window = GetEnvDuration("FRAUD_RAPID_WINDOW", f.Rapid.Window)
	f.Rapid.MinBids = GetEnvInt("FRAUD_RAPID_MIN_BIDS", f.Rapid.MinBids)
	f.Rapid.BaseScore = GetEnvInt("FRAUD_RAPID_BASE_SCORE", f.Rapid.BaseScore)
	f.Rapid.StepScore = GetEnvInt("FRAUD_RAPID_STEP_SCORE", f.Rapid.StepScore)
	f.Rapid.MaxScore = GetEnvInt("FRAUD_RAPID_MAX_SCORE", f.Rapid.MaxScore)

	f.Dominance.Enabled = GetEnvBool("FRAUD_DOMINANCE_ENABLED", f.Dominance.Enabled)
	f.Dominance.Window = GetEnvDuration("FRAUD_DOMINANCE_WINDOW", f.Dominance.Window)
	f.Dominance.MinTotalBids = GetEnvInt("FRAUD_DOMINANCE_MIN_TOTAL_BIDS", f.Dominance.MinTotalBids)
	f.Dominance.Ratio = GetEnvDecimal("FRAUD_DOMINANCE_RATIO", f.Dominance.Ratio)
	f.Dominance.Score = GetEnvInt("FRAUD_DOMINANCE_SCORE", f.Dominance.Score)

	f.Duopoly.Enabled = GetEnvBool("FRAUD_DUOPOLY_ENABLED", f.Duopoly.Enabled)
	f.Duopoly.Window = GetEnvDuration("FRAUD_DUOPOLY_WINDOW", f.Duopoly.Window)
	f.Duopoly.SampleLimit = GetEnvInt("FRAUD_DUOPOLY_SAMPLE_LIMIT", f.Duopoly.SampleLimit)
	f.Duopoly.MinTotalBids = GetEnvInt("FRAUD_DUOPOLY_MIN_TOTAL_BIDS", f.Duopoly.MinTotalBids)
	f.Duopoly.PairRatio = GetEnvDecimal("FRAUD_DUOPOLY_PAIR_RATIO", f.Duopoly.PairRatio)
	f.Duopoly.Score = GetEnvInt("FRAUD_DUOPOLY_SCORE", f.Duopoly.Score)

	f.Alternating.Enabled = GetEnvBool("FRAUD_ALTERNATING_ENABLED", f.Alternating.Enabled)
	f.Alternating.Window = GetEnvDuration("FRAUD_ALTERNATING_WINDOW", f.Alternating.Window)
	f.Alternating.RecentBids = GetEnvInt("FRAUD_ALTERNATING_RECENT_BIDS", f.Alternating.RecentBids)
	f.Alternating.MinBids = GetEnvInt("FRAUD_ALTERNATING_MIN_BIDS", f.Alternating.MinBids)
	f.Alternating.MinSwitches = GetEnvInt("FRAUD_ALTERNATING_MIN_SWITCHES", f.Alternating.MinSwitches)
	f.Alternating.Score = GetEnvInt("FRAUD_ALTERNATING_SCORE", f.Alternating.Score)

	f.Baseline.Enabled = GetEnvBool("FRAUD_BASELINE_ENABLED", f.Baseline.Enabled)
	f.Baseline.Window = GetEnvDuration("FRAUD_BASELINE_WINDOW", f.Baseline.Window)
	f.Baseline.SampleLimit = GetEnvInt("FRAUD_BASELINE_SAMPLE_LIMIT", f.Baseline.SampleLimit)
	f.Baseline.MinBids = GetEnvInt("FRAUD_BASELINE_MIN_BIDS", f.Baseline.MinBids)
	f.Baseline.SpikeFactor = GetEnvDecimal("FRAUD_BASELINE_SPIKE_FACTOR", f.Baseline.SpikeFactor)
	f.Baseline.MinIncrement = GetEnvInt64("FRAUD_BASELINE_MIN_INCREMENT", f.Baseline.MinIncrement)
	f.Baseline.Score = GetEnvInt("FRAUD_BASELINE_SPIKE_SCORE", f.Baseline.Score)

	f.Historical.Enabled = GetEnvBool("FRAUD_HISTORICAL_ENABLED", f.Historical.Enabled)
	f.Historical.CompletedAuctions = GetEnvInt("FRAUD_HISTORICAL_COMPLETED_AUCTIONS", f.Historical.CompletedAuctions)
	f.Historical.StartRatioLow = GetEnvDecimal("FRAUD_HISTORICAL_START_RATIO_LOW", f.Historical.StartRatioLow)
	f.Historical.StartRatioHigh = GetEnvDecimal("FRAUD_HISTORICAL_START_RATIO_HIGH", f.Historical.StartRatioHigh)
	f.Historical.MinPoints = GetEnvInt("FRAUD_HISTORICAL_MIN_POINTS", f.Historical.MinPoints)
	f.Historical.SpikeFactor = GetEnvDecimal("FRAUD_HISTORICAL_SPIKE_FACTOR", f.Historical.SpikeFactor)
	f.Historical.MinIncrement = GetEnvInt64("FRAUD_HISTORICAL_MIN_INCREMENT", f.Historical.MinIncrement)
	f.Historical.Score = GetEnvInt("FRAUD_HISTORICAL_SPIKE_SCORE", f.Historical.Score)
}
