package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/indicators"
)

// EventStatus is the lifecycle state of a consensus event
type EventStatus string

const (
	EventActive EventStatus = "active"
	EventClosed EventStatus = "closed"
)

// Event is a detected moment of multi-author agreement
type Event struct {
	ID            string              `json:"id"`
	RuleID        int64               `json:"rule_id"`
	Ticker        string              `json:"ticker"`
	Direction     extractor.Direction `json:"direction"`
	SignalIDs     []int64             `json:"signal_ids"`
	TraderCount   int                 `json:"trader_count"`
	SignalCount   int                 `json:"signal_count"`
	Strength      float64             `json:"strength"`
	WindowMinutes int                 `json:"window_minutes"`
	AvgEntryPrice float64             `json:"avg_entry_price"`
	DetectedAt    time.Time           `json:"detected_at"`
	Status        EventStatus         `json:"status"`
}

// StrengthWeights tunes the consensus strength score. The score must stay
// monotonic in each input: more traders, more signals or higher average
// confidence never lowers it. PerExtraTrader must exceed the largest
// possible confidence-average drop one extra signal can cause
// (ConfidenceWeight / 3 with at least two signals already in the window).
type StrengthWeights struct {
	Base             float64
	PerExtraTrader   float64
	PerExtraSignal   float64
	ConfidenceWeight float64
}

// DefaultStrengthWeights returns the stock strength weighting
func DefaultStrengthWeights() StrengthWeights {
	return StrengthWeights{
		Base:             40,
		PerExtraTrader:   12,
		PerExtraSignal:   4,
		ConfidenceWeight: 20,
	}
}

// IndicatorSource supplies classified indicator snapshots for gating.
// A nil source disables indicator gates entirely.
type IndicatorSource interface {
	Snapshot(ctx context.Context, ticker string, at time.Time) (*indicators.Snapshot, bool)
}

type windowKey struct {
	ruleID    int64
	ticker    string
	direction extractor.Direction // folded to "" for non-strict rules
}

// window is the sliding per-key signal list. Windows emit once per episode:
// after an emission the latch stays set until eviction fully drains the
// window, only then can the key qualify again.
type window struct {
	signals []extractor.Signal
	lastTS  time.Time
	emitted bool
}

// Detector runs active rules over a time-ordered signal stream. State is
// partitioned by (rule, ticker, direction); within one partition signals
// must arrive in non-decreasing timestamp order.
type Detector struct {
	rules   []Rule
	weights StrengthWeights
	source  IndicatorSource
	windows map[windowKey]*window
}

// NewDetector creates a detector over an already-validated rule set.
// Pass the result of LoadRules; invalid rules must not reach here.
func NewDetector(rules []Rule, weights StrengthWeights, source IndicatorSource) *Detector {
	return &Detector{
		rules:   rules,
		weights: weights,
		source:  source,
		windows: make(map[windowKey]*window),
	}
}

// Process feeds one signal into every window it belongs to and returns the
// consensus events it completed. The signal's own timestamp is the clock:
// entries older than timestamp minus the rule window are evicted first.
func (d *Detector) Process(ctx context.Context, sig extractor.Signal) ([]Event, error) {
	var events []Event

	for i := range d.rules {
		rule := d.rules[i]
		if !rule.matchesTicker(sig.Ticker) {
			continue
		}
		if rule.DirectionFilter != "" && sig.Direction != rule.DirectionFilter {
			continue
		}

		key := windowKey{ruleID: rule.ID, ticker: sig.Ticker}
		if rule.StrictConsensus {
			key.direction = sig.Direction
		}

		w := d.windows[key]
		if w == nil {
			w = &window{}
			d.windows[key] = w
		}

		if sig.Timestamp.Before(w.lastTS) {
			return events, fmt.Errorf("consensus: out-of-order signal %d for %s/%s: %s < %s",
				sig.ID, sig.Ticker, sig.Direction, sig.Timestamp.Format(time.RFC3339), w.lastTS.Format(time.RFC3339))
		}
		w.lastTS = sig.Timestamp

		d.evict(w, rule, sig.Timestamp)
		w.signals = append(w.signals, sig)

		if w.emitted {
			continue
		}

		if ev := d.tryEmit(ctx, rule, key, w, sig.Timestamp); ev != nil {
			w.emitted = true
			events = append(events, *ev)
		}
	}

	return events, nil
}

// DetectBatch replays an ordered signal slice through the detector
func (d *Detector) DetectBatch(ctx context.Context, signals []extractor.Signal) ([]Event, error) {
	var all []Event
	for _, sig := range signals {
		events, err := d.Process(ctx, sig)
		all = append(all, events...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// evict drops expired entries and resets the episode latch once the window
// has fully drained.
func (d *Detector) evict(w *window, rule Rule, now time.Time) {
	cutoff := now.Add(-rule.Window())
	idx := 0
	for idx < len(w.signals) && w.signals[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.signals = append([]extractor.Signal(nil), w.signals[idx:]...)
	}
	if len(w.signals) == 0 {
		w.emitted = false
	}
}

func (d *Detector) tryEmit(ctx context.Context, rule Rule, key windowKey, w *window, now time.Time) *Event {
	traders := distinctAuthors(w.signals)
	if traders < rule.MinTraders {
		return nil
	}

	direction := key.direction
	if !rule.StrictConsensus {
		direction = majorityDirection(w.signals)
	}

	// Gates. MinConfidence is checked against the weakest contributor.
	minConf := 1.0
	for _, s := range w.signals {
		if s.Confidence < minConf {
			minConf = s.Confidence
		}
	}
	if minConf < rule.MinConfidence {
		return nil
	}

	strength := d.strength(rule, w.signals, traders)
	if strength < rule.MinStrength {
		return nil
	}

	if !rule.IndicatorConditions.Empty() {
		if d.source == nil {
			return nil
		}
		snap, ok := d.source.Snapshot(ctx, key.ticker, now)
		// No snapshot with configured conditions fails the gate.
		if !ok || !rule.IndicatorConditions.Match(snap) {
			return nil
		}
	}

	ids := make([]int64, len(w.signals))
	for i, s := range w.signals {
		ids[i] = s.ID
	}

	return &Event{
		ID:            uuid.New().String(),
		RuleID:        rule.ID,
		Ticker:        key.ticker,
		Direction:     direction,
		SignalIDs:     ids,
		TraderCount:   traders,
		SignalCount:   len(w.signals),
		Strength:      strength,
		WindowMinutes: rule.WindowMinutes,
		AvgEntryPrice: avgEntryPrice(w.signals),
		DetectedAt:    now,
		Status:        EventActive,
	}
}

// strength combines extra traders, extra signals and average confidence
// into a 0-100 score, clamped.
func (d *Detector) strength(rule Rule, signals []extractor.Signal, traders int) float64 {
	avgConf := 0.0
	for _, s := range signals {
		avgConf += s.Confidence
	}
	avgConf /= float64(len(signals))

	s := d.weights.Base +
		d.weights.PerExtraTrader*float64(traders-rule.MinTraders) +
		d.weights.PerExtraSignal*float64(len(signals)-traders) +
		d.weights.ConfidenceWeight*avgConf

	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// distinctAuthors counts unique non-empty authors. Anonymous signals never
// add to the trader count.
func distinctAuthors(signals []extractor.Signal) int {
	seen := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		if s.Author == "" {
			continue
		}
		seen[s.Author] = struct{}{}
	}
	return len(seen)
}

// majorityDirection picks the most common direction of the window. Ties
// resolve in the fixed order long, short, exit, so equal long/short counts
// always surface as long.
func majorityDirection(signals []extractor.Signal) extractor.Direction {
	counts := make(map[extractor.Direction]int, 3)
	for _, s := range signals {
		counts[s.Direction]++
	}

	best := extractor.DirectionLong
	for _, d := range []extractor.Direction{extractor.DirectionShort, extractor.DirectionExit} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

// avgEntryPrice averages the contributing target prices when present
func avgEntryPrice(signals []extractor.Signal) float64 {
	sum, n := 0.0, 0
	for _, s := range signals {
		if s.TargetPrice != nil {
			sum += *s.TargetPrice
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
