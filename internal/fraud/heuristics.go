package fraud

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Nombah501/LiteAuction-sub001/internal/ledger"
	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/shared/models"
)

// Rule codes recorded on fraud signals
const (
	RuleRapidBidding       = "RAPID_BIDDING"
	RuleDominantBidder     = "DOMINANT_BIDDER"
	RuleDuopolyPattern     = "DUOPOLY_PATTERN"
	RuleAlternatingPair    = "ALTERNATING_PAIR"
	RuleBaselineSpike      = "BASELINE_SPIKE"
	RuleHistoricalBaseline = "HISTORICAL_BASELINE_SPIKE"
)

// Verdict is a heuristic's opinion of one bid
type Verdict int

const (
	// NoOpinion means the sample was too small to judge.
	NoOpinion Verdict = iota
	Clean
	Flagged
)

func (v Verdict) String() string {
	switch v {
	case Clean:
		return "CLEAN"
	case Flagged:
		return "FLAGGED"
	}
	return "NO_OPINION"
}

// Finding is one heuristic's result
type Finding struct {
	Rule    string  `json:"rule"`
	Verdict Verdict `json:"verdict"`
	Score   int     `json:"score"`
	Detail  string  `json:"detail,omitempty"`
}

func noOpinion(rule, format string, args ...any) Finding {
	return Finding{Rule: rule, Verdict: NoOpinion, Detail: fmt.Sprintf(format, args...)}
}

func clean(rule, format string, args ...any) Finding {
	return Finding{Rule: rule, Verdict: Clean, Detail: fmt.Sprintf(format, args...)}
}

func flagged(rule string, score int, format string, args ...any) Finding {
	return Finding{Rule: rule, Verdict: Flagged, Score: score, Detail: fmt.Sprintf(format, args...)}
}

// Input is the bid being scored. The bid is already written to the
// transaction the history reads from.
type Input struct {
	Auction *models.Auction
	Bid     models.Bid
	Now     time.Time
}

// Heuristic scores one aspect of a bid
type Heuristic interface {
	Rule() string
	Evaluate(ctx context.Context, h store.BidHistory, in Input) (Finding, error)
}

// DefaultHeuristics returns the enabled heuristics of cfg
func DefaultHeuristics(cfg Config) []Heuristic {
	var rules []Heuristic
	if cfg.Rapid.Enabled {
		rules = append(rules, RapidBidding{cfg.Rapid})
	}
	if cfg.Dominance.Enabled {
		rules = append(rules, DominantBidder{cfg.Dominance})
	}
	if cfg.Duopoly.Enabled {
		rules = append(rules, Duopoly{cfg.Duopoly})
	}
	if cfg.Alternating.Enabled {
		rules = append(rules, AlternatingPair{cfg.Alternating})
	}
	if cfg.Baseline.Enabled {
		rules = append(rules, BaselineSpike{cfg.Baseline})
	}
	if cfg.Historical.Enabled {
		rules = append(rules, HistoricalSpike{cfg.Historical})
	}
	return rules
}

// RapidBidding flags a bidder placing many bids in a short window
type RapidBidding struct {
	Config RapidConfig
}

func (RapidBidding) Rule() string { return RuleRapidBidding }

func (r RapidBidding) Evaluate(ctx context.Context, h store.BidHistory, in Input) (Finding, error) {
	n, err := h.CountBidderBidsSince(ctx, in.Auction.ID, in.Bid.BidderID, in.Now.Add(-r.Config.Window))
	if err != nil {
		return Finding{}, fmt.Errorf("count bidder bids: %w", err)
	}
	if n < r.Config.MinBids {
		return clean(RuleRapidBidding, "%d bids in %s", n, r.Config.Window), nil
	}
	score := min(r.Config.MaxScore, r.Config.BaseScore+(n-r.Config.MinBids+1)*r.Config.StepScore)
	return flagged(RuleRapidBidding, score, "%d bids in %s", n, r.Config.Window), nil
}

// DominantBidder flags a bidder holding most of the recent bids
type DominantBidder struct {
	Config DominanceConfig
}

func (DominantBidder) Rule() string { return RuleDominantBidder }

func (d DominantBidder) Evaluate(ctx context.Context, h store.BidHistory, in Input) (Finding, error) {
	since := in.Now.Add(-d.Config.Window)
	total, err := h.CountBidsSince(ctx, in.Auction.ID, since)
	if err != nil {
		return Finding{}, fmt.Errorf("count bids: %w", err)
	}
	if total < d.Config.MinTotalBids {
		return noOpinion(RuleDominantBidder, "%d bids, need %d", total, d.Config.MinTotalBids), nil
	}
	own, err := h.CountBidderBidsSince(ctx, in.Auction.ID, in.Bid.BidderID, since)
	if err != nil {
		return Finding{}, fmt.Errorf("count bidder bids: %w", err)
	}
	share := decimal.NewFromInt(int64(own)).Div(decimal.NewFromInt(int64(total)))
	if share.LessThan(d.Config.Ratio) {
		return clean(RuleDominantBidder, "share %s", share.StringFixed(2)), nil
	}
	return flagged(RuleDominantBidder, d.Config.Score, "share %s over %s", share.StringFixed(2), d.Config.Window), nil
}

// Duopoly flags two bidders producing nearly all recent bids
type Duopoly struct {
	Config DuopolyConfig
}

func (Duopoly) Rule() string { return RuleDuopolyPattern }

type bidderCount struct {
	bidder int64
	bids   int
}

// topBidders ranks bidders by bid count. bids are newest first; on a tie the
// bidder with the more recent bid ranks higher.
func topBidders(bids []models.Bid) []bidderCount {
	out := make([]bidderCount, 0)
	index := make(map[int64]int)
	for _, b := range bids {
		i, ok := index[b.BidderID]
		if !ok {
			i = len(out)
			index[b.BidderID] = i
			out = append(out, bidderCount{bidder: b.BidderID})
		}
		out[i].bids++
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].bids > out[j].bids })
	return out
}

func (d Duopoly) Evaluate(ctx context.Context, h store.BidHistory, in Input) (Finding, error) {
	bids, err := h.RecentBids(ctx, in.Auction.ID, in.Now.Add(-d.Config.Window), d.Config.SampleLimit)
	if err != nil {
		return Finding{}, fmt.Errorf("recent bids: %w", err)
	}
	if len(bids) < d.Config.MinTotalBids {
		return noOpinion(RuleDuopolyPattern, "%d bids, need %d", len(bids), d.Config.MinTotalBids), nil
	}
	top := topBidders(bids)
	if len(top) < 2 {
		return clean(RuleDuopolyPattern, "single bidder"), nil
	}
	if top[0].bidder != in.Bid.BidderID && top[1].bidder != in.Bid.BidderID {
		return clean(RuleDuopolyPattern, "bidder outside the top pair"), nil
	}
	ratio := decimal.NewFromInt(int64(top[0].bids + top[1].bids)).Div(decimal.NewFromInt(int64(len(bids))))
	if ratio.LessThan(d.Config.PairRatio) {
		return clean(RuleDuopolyPattern, "pair share %s", ratio.StringFixed(2)), nil
	}
	return flagged(RuleDuopolyPattern, d.Config.Score, "2 bidders placed %s of %d bids", ratio.StringFixed(2), len(bids)), nil
}

// AlternatingPair flags two bidders taking turns outbidding each other
type AlternatingPair struct {
	Config AlternatingConfig
}

func (AlternatingPair) Rule() string { return RuleAlternatingPair }

func (a AlternatingPair) Evaluate(ctx context.Context, h store.BidHistory, in Input) (Finding, error) {
	bids, err := h.RecentBids(ctx, in.Auction.ID, in.Now.Add(-a.Config.Window), a.Config.RecentBids)
	if err != nil {
		return Finding{}, fmt.Errorf("recent bids: %w", err)
	}
	if len(bids) < a.Config.MinBids {
		return noOpinion(RuleAlternatingPair, "%d bids, need %d", len(bids), a.Config.MinBids), nil
	}
	counts := ledger.Bidders(bids)
	if _, ok := counts[in.Bid.BidderID]; len(counts) != 2 || !ok {
		return clean(RuleAlternatingPair, "%d distinct bidders", len(counts)), nil
	}
	// bids are newest first; switches count the same either way
	switches := 0
	for i := 1; i < len(bids); i++ {
		if bids[i].BidderID != bids[i-1].BidderID {
			switches++
		}
	}
	if switches < a.Config.MinSwitches {
		return clean(RuleAlternatingPair, "%d switches", switches), nil
	}
	return flagged(RuleAlternatingPair, a.Config.Score, "2 bidders, %d switches", switches), nil
}

// currentIncrement is the raise of the scored bid over the bid before it,
// or over the start price for the first bid
func currentIncrement(ctx context.Context, h store.BidHistory, in Input) (int64, error) {
	prev, ok, err := h.PreviousBidAmount(ctx, in.Auction.ID, in.Bid.ID)
	if err != nil {
		return 0, fmt.Errorf("previous bid: %w", err)
	}
	if !ok {
		prev = in.Auction.StartPrice
	}
	return max(in.Bid.Amount-prev, 0), nil
}

// median of a non-empty sample
func median(values []int64) decimal.Decimal {
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return decimal.NewFromInt(sorted[mid])
	}
	return decimal.NewFromInt(sorted[mid-1] + sorted[mid]).Div(decimal.NewFromInt(2))
}

func spikeThreshold(med, factor decimal.Decimal, floor int64) int64 {
	return max(floor, med.Mul(factor).Floor().IntPart())
}

// BaselineSpike flags a raise far above this auction's typical increment
type BaselineSpike struct {
	Config BaselineConfig
}

func (BaselineSpike) Rule() string { return RuleBaselineSpike }

func (b BaselineSpike) Evaluate(ctx context.Context, h store.BidHistory, in Input) (Finding, error) {
	amounts, err := h.BidAmountsSince(ctx, in.Auction.ID, in.Now.Add(-b.Config.Window), b.Config.SampleLimit)
	if err != nil {
		return Finding{}, fmt.Errorf("bid amounts: %w", err)
	}
	if len(amounts) < b.Config.MinBids {
		return noOpinion(RuleBaselineSpike, "%d bids, need %d", len(amounts), b.Config.MinBids), nil
	}

	// The last step is the scored bid itself.
	var history []int64
	for i := 1; i < len(amounts)-1; i++ {
		if d := amounts[i] - amounts[i-1]; d > 0 {
			history = append(history, d)
		}
	}
	if len(history) == 0 {
		return noOpinion(RuleBaselineSpike, "no positive increments"), nil
	}

	inc, err := currentIncrement(ctx, h, in)
	if err != nil {
		return Finding{}, err
	}
	med := median(history)
	threshold := spikeThreshold(med, b.Config.SpikeFactor, b.Config.MinIncrement)
	if inc < threshold {
		return clean(RuleBaselineSpike, "+%d under threshold %d", inc, threshold), nil
	}
	return flagged(RuleBaselineSpike, b.Config.Score, "+%d, median %s, threshold %d",
		inc, med.StringFixed(1), threshold), nil
}

// HistoricalSpike compares the raise with increments seen on completed
// auctions that opened at a similar price
type HistoricalSpike struct {
	Config HistoricalConfig
}

func (HistoricalSpike) Rule() string { return RuleHistoricalBaseline }

// band returns the start price range of comparable auctions
func (s HistoricalSpike) band(start int64) (int64, int64) {
	p := decimal.NewFromInt(start)
	low := max(1, p.Mul(s.Config.StartRatioLow).Floor().IntPart())
	high := max(low, p.Mul(s.Config.StartRatioHigh).Floor().IntPart())
	return low, high
}

func (s HistoricalSpike) Evaluate(ctx context.Context, h store.BidHistory, in Input) (Finding, error) {
	low, high := s.band(in.Auction.StartPrice)
	trails, err := h.CompletedBidTrails(ctx, in.Auction.ID, low, high, s.Config.CompletedAuctions)
	if err != nil {
		return Finding{}, fmt.Errorf("completed bid trails: %w", err)
	}

	var points []int64
	for _, t := range trails {
		if len(t.Amounts) < 2 {
			continue
		}
		points = append(points, ledger.Increments(t.StartPrice, t.Amounts)...)
	}
	if len(points) < s.Config.MinPoints {
		return noOpinion(RuleHistoricalBaseline, "%d points, need %d", len(points), s.Config.MinPoints), nil
	}

	inc, err := currentIncrement(ctx, h, in)
	if err != nil {
		return Finding{}, err
	}
	med := median(points)
	threshold := spikeThreshold(med, s.Config.SpikeFactor, s.Config.MinIncrement)
	if inc < threshold {
		return clean(RuleHistoricalBaseline, "+%d under threshold %d", inc, threshold), nil
	}
	return flagged(RuleHistoricalBaseline, s.Config.Score, "+%d vs median %s, threshold %d, sample %d",
		inc, med.StringFixed(1), threshold, len(points)), nil
}
