// Package consensus detects moments where several independent traders
// converge on the same instrument and direction inside a short time window.
package consensus

import (
	"fmt"
	"strings"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/indicators"
)

// IndicatorConditions are optional gates against the classified indicator
// snapshot for the event's ticker at detection time. Empty fields do not
// gate; each set field gates independently.
type IndicatorConditions struct {
	RSIState          indicators.RSIState          `json:"rsi_state,omitempty"`
	MACDState         indicators.MACDState         `json:"macd_state,omitempty"`
	BollingerPosition indicators.BollingerPosition `json:"bollinger_position,omitempty"`
	OBVTrend          indicators.OBVTrend          `json:"obv_trend,omitempty"`
}

// Empty reports whether no condition is configured
func (c IndicatorConditions) Empty() bool {
	return c.RSIState == "" && c.MACDState == "" && c.BollingerPosition == "" && c.OBVTrend == ""
}

// Match checks every configured condition against the snapshot
func (c IndicatorConditions) Match(snap *indicators.Snapshot) bool {
	if c.RSIState != "" && snap.RSIState != c.RSIState {
		return false
	}
	if c.MACDState != "" && snap.MACDState != c.MACDState {
		return false
	}
	if c.BollingerPosition != "" && snap.BollingerPosition != c.BollingerPosition {
		return false
	}
	if c.OBVTrend != "" && snap.OBVTrend != c.OBVTrend {
		return false
	}
	return true
}

// Rule configures one way of detecting agreement
type Rule struct {
	ID                  int64               `json:"id"`
	Name                string              `json:"name"`
	MinTraders          int                 `json:"min_traders"`
	WindowMinutes       int                 `json:"window_minutes"`
	StrictConsensus     bool                `json:"strict_consensus"`
	TickerFilter        []string            `json:"ticker_filter,omitempty"`
	DirectionFilter     extractor.Direction `json:"direction_filter,omitempty"`
	MinConfidence       float64             `json:"min_confidence"`
	MinStrength         float64             `json:"min_strength"`
	IndicatorConditions IndicatorConditions `json:"indicator_conditions"`
	IsActive            bool                `json:"is_active"`
	Priority            int                 `json:"priority"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Window returns the rule's sliding window as a duration
func (r Rule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

func (r Rule) matchesTicker(ticker string) bool {
	if len(r.TickerFilter) == 0 {
		return true
	}
	for _, t := range r.TickerFilter {
		if strings.EqualFold(t, ticker) {
			return true
		}
	}
	return false
}

// RuleRejected reports a rule with invalid parameters. Rejected rules are
// excluded from detection but never abort loading of their siblings.
type RuleRejected struct {
	RuleID  int64    `json:"rule_id"`
	Name    string   `json:"name"`
	Reasons []string `json:"reasons"`
}

func (e RuleRejected) Error() string {
	return fmt.Sprintf("rule %q rejected: %s", e.Name, strings.Join(e.Reasons, "; "))
}

// Validate checks the rule's parameter ranges
func (r Rule) Validate() *RuleRejected {
	var reasons []string
	if r.MinTraders < 2 {
		reasons = append(reasons, fmt.Sprintf("min_traders must be >= 2, got %d", r.MinTraders))
	}
	if r.WindowMinutes <= 0 {
		reasons = append(reasons, fmt.Sprintf("window_minutes must be > 0, got %d", r.WindowMinutes))
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		reasons = append(reasons, fmt.Sprintf("min_confidence must be in [0,1], got %g", r.MinConfidence))
	}
	if r.MinStrength < 0 || r.MinStrength > 100 {
		reasons = append(reasons, fmt.Sprintf("min_strength must be in [0,100], got %g", r.MinStrength))
	}
	if r.DirectionFilter != "" &&
		r.DirectionFilter != extractor.DirectionLong &&
		r.DirectionFilter != extractor.DirectionShort &&
		r.DirectionFilter != extractor.DirectionExit {
		reasons = append(reasons, fmt.Sprintf("unknown direction_filter %q", r.DirectionFilter))
	}
	if len(reasons) > 0 {
		return &RuleRejected{RuleID: r.ID, Name: r.Name, Reasons: reasons}
	}
	return nil
}

// LoadRules filters the given set down to valid, active rules and reports
// every rejection alongside.
func LoadRules(rules []Rule) ([]Rule, []RuleRejected) {
	accepted := make([]Rule, 0, len(rules))
	var rejected []RuleRejected

	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if rej := r.Validate(); rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		accepted = append(accepted, r)
	}

	return accepted, rejected
}
