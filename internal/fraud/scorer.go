// Package fraud scores accepted bids against manipulation heuristics and
// opens a fraud signal for moderators when the composite score is high.
//
// Scoring runs inside the bid transaction, after the bid is written. It can
// attach a signal to a bid but never blocks or reverses it.
package fraud

import (
	"context"
	"log/slog"

	"go.uber.org/atomic"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Report is the full scoring breakdown of one bid
type Report struct {
	Score    int       `json:"score"`
	Findings []Finding `json:"findings"`
	// Alert is set when Score reached the alert threshold.
	Alert bool `json:"alert"`
	// Suppressed is set when an alert was dropped because an OPEN signal
	// for the same bidder and auction is still within the cooldown.
	Suppressed bool `json:"suppressed"`
}

// Reasons returns the flagged findings as signal reasons
func (r Report) Reasons() []models.FraudReason {
	out := make([]models.FraudReason, 0, len(r.Findings))
	for _, f := range r.Findings {
		if f.Verdict != Flagged {
			continue
		}
		out = append(out, models.FraudReason{Code: f.Rule, Verdict: f.Verdict.String(), Score: f.Score, Detail: f.Detail})
	}
	return out
}

// Stats is a snapshot of the scorer counters
type Stats struct {
	Scored          int64 `json:"scored"`
	Alerts          int64 `json:"alerts"`
	SignalsOpened   int64 `json:"signals_opened"`
	Suppressed      int64 `json:"suppressed"`
	HeuristicErrors int64 `json:"heuristic_errors"`
	PersistErrors   int64 `json:"persist_errors"`
}

// Scorer combines heuristics into a composite score
type Scorer struct {
	cfg   Config
	rules []Heuristic
	log   *slog.Logger

	scored          atomic.Int64
	alerts          atomic.Int64
	opened          atomic.Int64
	suppressed      atomic.Int64
	heuristicErrors atomic.Int64
	persistErrors   atomic.Int64
}

// NewScorer creates a Scorer. Without explicit rules it runs DefaultHeuristics(cfg).
func NewScorer(cfg Config, log *slog.Logger, rules ...Heuristic) *Scorer {
	if log == nil {
		log = slog.Default()
	}
	if len(rules) == 0 {
		rules = DefaultHeuristics(cfg)
	}
	return &Scorer{cfg: cfg, rules: rules, log: log}
}

// Config returns the scorer configuration
func (s *Scorer) Config() Config {
	return s.cfg
}

// Stats returns the current counters
func (s *Scorer) Stats() Stats {
	return Stats{
		Scored:          s.scored.Load(),
		Alerts:          s.alerts.Load(),
		SignalsOpened:   s.opened.Load(),
		Suppressed:      s.suppressed.Load(),
		HeuristicErrors: s.heuristicErrors.Load(),
		PersistErrors:   s.persistErrors.Load(),
	}
}

// ScoreBid evaluates every heuristic against the bid and opens a signal when
// the composite score reaches the alert threshold. It returns the id of the
// opened signal, if any.
func (s *Scorer) ScoreBid(ctx context.Context, h store.BidHistory, in Input) (*int64, Report) {
	s.scored.Inc()
	log := s.log.With("auction_id", in.Auction.ID, "bid_id", in.Bid.ID, "bidder_id", in.Bid.BidderID)

	report := Report{Findings: make([]Finding, 0, len(s.rules))}
	for _, rule := range s.rules {
		var f Finding
		err := h.Isolate(ctx, func() error {
			var err error
			f, err = rule.Evaluate(ctx, h, in)
			return err
		})
		if err != nil {
			s.heuristicErrors.Inc()
			log.Warn("Fraud heuristic failed", "rule", rule.Rule(), "err", err)
			f = Finding{Rule: rule.Rule(), Verdict: NoOpinion, Detail: "evaluation failed"}
		}
		if f.Verdict != Flagged {
			f.Score = 0
		}
		report.Score += f.Score
		report.Findings = append(report.Findings, f)
	}

	if report.Score < s.cfg.AlertThreshold {
		return nil, report
	}
	report.Alert = true
	s.alerts.Inc()

	var signalID *int64
	err := h.Isolate(ctx, func() error {
		open, err := h.HasOpenFraudSignal(ctx, in.Auction.ID, in.Bid.BidderID, in.Now.Add(-s.cfg.SignalCooldown))
		if err != nil {
			return err
		}
		if open {
			report.Suppressed = true
			return nil
		}
		sig := &models.FraudSignal{
			AuctionID: in.Auction.ID,
			BidID:     in.Bid.ID,
			BidderID:  in.Bid.BidderID,
			Score:     report.Score,
			Reasons:   report.Reasons(),
			Status:    models.FraudSignalOpen,
			CreatedAt: in.Now,
		}
		if err := h.InsertFraudSignal(ctx, sig); err != nil {
			return err
		}
		signalID = &sig.ID
		return nil
	})
	switch {
	case err != nil:
		s.persistErrors.Inc()
		log.Warn("Failed to open fraud signal", "score", report.Score, "err", err)
	case report.Suppressed:
		s.suppressed.Inc()
		log.Info("Fraud signal suppressed by cooldown", "score", report.Score)
	default:
		s.opened.Inc()
		log.Info("Fraud signal opened", "signal_id", *signalID, "score", report.Score)
	}
	return signalID, report
}
