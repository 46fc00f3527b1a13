// Package backtest replays consensus events against historical price bars
// to estimate how profitable acting on them would have been.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/consensus"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
)

// ExitReason is which condition ended a simulated trade
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTimeout    ExitReason = "timeout"
)

// SkipReason classifies why an event produced no trade
type SkipReason string

const (
	SkipInsufficientData SkipReason = "insufficient_data"
	SkipNotTradeable     SkipReason = "not_tradeable"
)

// Params configures one backtest run
type Params struct {
	RuleID          int64     `json:"rule_id,omitempty"`
	Tickers         []string  `json:"tickers,omitempty"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	TakeProfitPct   float64   `json:"take_profit_pct"`
	StopLossPct     float64   `json:"stop_loss_pct"`
	HoldingHours    int       `json:"holding_hours"`
	InitialCapital  float64   `json:"initial_capital"`
	PositionSizePct float64   `json:"position_size_pct"`
	Workers         int       `json:"workers,omitempty"`
}

// Validate rejects malformed parameter ranges. These are caller contract
// violations and fail the run up front, before any event is touched.
func (p Params) Validate() error {
	if p.TakeProfitPct <= 0 {
		return fmt.Errorf("backtest: take_profit_pct must be > 0, got %g", p.TakeProfitPct)
	}
	if p.StopLossPct <= 0 {
		return fmt.Errorf("backtest: stop_loss_pct must be > 0, got %g", p.StopLossPct)
	}
	if p.HoldingHours <= 0 {
		return fmt.Errorf("backtest: holding_hours must be > 0, got %d", p.HoldingHours)
	}
	if p.InitialCapital <= 0 {
		return fmt.Errorf("backtest: initial_capital must be > 0, got %g", p.InitialCapital)
	}
	if p.PositionSizePct <= 0 || p.PositionSizePct > 100 {
		return fmt.Errorf("backtest: position_size_pct must be in (0,100], got %g", p.PositionSizePct)
	}
	if !p.To.IsZero() && !p.From.IsZero() && p.To.Before(p.From) {
		return fmt.Errorf("backtest: date range end %s before start %s", p.To.Format(time.RFC3339), p.From.Format(time.RFC3339))
	}
	return nil
}

// Trade is the simulated outcome for one consensus event
type Trade struct {
	EventID     string              `json:"event_id"`
	Ticker      string              `json:"ticker"`
	Direction   extractor.Direction `json:"direction"`
	EntryPrice  float64             `json:"entry_price"`
	ExitPrice   float64             `json:"exit_price"`
	ExitReason  ExitReason          `json:"exit_reason"`
	PnLPct      float64             `json:"pnl_pct"`
	ProfitAbs   float64             `json:"profit_abs"`
	TraderCount int                 `json:"trader_count"`
	EntryTime   time.Time           `json:"entry_time"`
	ExitTime    time.Time           `json:"exit_time"`
}

// Skip reports an event that could not be simulated. Skips are part of the
// result, never silently dropped.
type Skip struct {
	EventID string     `json:"event_id"`
	Ticker  string     `json:"ticker"`
	Reason  SkipReason `json:"reason"`
}

// BarSource supplies historical bars for simulation. Implementations must
// return ErrNoData when the range is simply empty; any other error is
// treated as a hard failure of the run.
type BarSource interface {
	Bars(ctx context.Context, ticker string, from, to time.Time) ([]marketdata.Bar, error)
}

// Simulator replays consensus events against a bar source
type Simulator struct {
	bars BarSource
}

// NewSimulator creates a simulator over the given bar source
func NewSimulator(bars BarSource) *Simulator {
	return &Simulator{bars: bars}
}

// Run simulates every in-scope event and returns per-trade results plus
// recomputed aggregate statistics. Events are independent, so the walk
// fans out over params.Workers goroutines when set.
func (s *Simulator) Run(ctx context.Context, params Params, events []consensus.Event) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	scoped := filterEvents(params, events)

	type outcome struct {
		idx   int
		trade *Trade
		skip  *Skip
		err   error
	}

	workers := params.Workers
	if workers <= 1 || len(scoped) < 2 {
		workers = 1
	}

	outcomes := make([]outcome, len(scoped))
	if workers == 1 {
		for i, ev := range scoped {
			trade, skip, err := s.simulate(ctx, params, ev)
			outcomes[i] = outcome{idx: i, trade: trade, skip: skip, err: err}
		}
	} else {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					trade, skip, err := s.simulate(ctx, params, scoped[i])
					outcomes[i] = outcome{idx: i, trade: trade, skip: skip, err: err}
				}
			}()
		}
		for i := range scoped {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	result := &Result{Params: params}
	for _, o := range outcomes {
		if o.err != nil {
			return nil, o.err
		}
		if o.trade != nil {
			result.Trades = append(result.Trades, *o.trade)
		}
		if o.skip != nil {
			result.Skipped = append(result.Skipped, *o.skip)
		}
	}

	result.computeStats()
	return result, nil
}

func filterEvents(params Params, events []consensus.Event) []consensus.Event {
	scoped := make([]consensus.Event, 0, len(events))
	for _, ev := range events {
		if params.RuleID != 0 && ev.RuleID != params.RuleID {
			continue
		}
		if len(params.Tickers) > 0 && !containsFold(params.Tickers, ev.Ticker) {
			continue
		}
		if !params.From.IsZero() && ev.DetectedAt.Before(params.From) {
			continue
		}
		if !params.To.IsZero() && ev.DetectedAt.After(params.To) {
			continue
		}
		scoped = append(scoped, ev)
	}
	// Deterministic result order regardless of worker scheduling
	sort.SliceStable(scoped, func(i, j int) bool { return scoped[i].DetectedAt.Before(scoped[j].DetectedAt) })
	return scoped
}

// simulate walks one event's bars forward from detection until an exit
// condition fires or the holding window runs out.
func (s *Simulator) simulate(ctx context.Context, params Params, ev consensus.Event) (*Trade, *Skip, error) {
	if ev.Direction != extractor.DirectionLong && ev.Direction != extractor.DirectionShort {
		// Exit-direction events carry no tradeable side.
		return nil, &Skip{EventID: ev.ID, Ticker: ev.Ticker, Reason: SkipNotTradeable}, nil
	}

	deadline := ev.DetectedAt.Add(time.Duration(params.HoldingHours) * time.Hour)
	bars, err := s.bars.Bars(ctx, ev.Ticker, ev.DetectedAt, deadline)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoData) {
			return nil, &Skip{EventID: ev.ID, Ticker: ev.Ticker, Reason: SkipInsufficientData}, nil
		}
		return nil, nil, fmt.Errorf("backtest: fetching bars for %s: %w", ev.Ticker, err)
	}
	if len(bars) == 0 {
		return nil, &Skip{EventID: ev.ID, Ticker: ev.Ticker, Reason: SkipInsufficientData}, nil
	}

	entry := ev.AvgEntryPrice
	if entry <= 0 {
		entry = bars[0].Open
	}
	if entry <= 0 {
		return nil, &Skip{EventID: ev.ID, Ticker: ev.Ticker, Reason: SkipInsufficientData}, nil
	}

	long := ev.Direction == extractor.DirectionLong
	var takeLevel, stopLevel float64
	if long {
		takeLevel = entry * (1 + params.TakeProfitPct/100)
		stopLevel = entry * (1 - params.StopLossPct/100)
	} else {
		takeLevel = entry * (1 - params.TakeProfitPct/100)
		stopLevel = entry * (1 + params.StopLossPct/100)
	}

	trade := &Trade{
		EventID:     ev.ID,
		Ticker:      ev.Ticker,
		Direction:   ev.Direction,
		EntryPrice:  entry,
		TraderCount: ev.TraderCount,
		EntryTime:   ev.DetectedAt,
	}

	var lastBar marketdata.Bar
	seen := false
	for _, bar := range bars {
		if bar.Begin.After(deadline) {
			break
		}
		lastBar = bar
		seen = true

		var takeHit, stopHit bool
		if long {
			takeHit = bar.High >= takeLevel
			stopHit = bar.Low <= stopLevel
		} else {
			takeHit = bar.Low <= takeLevel
			stopHit = bar.High >= stopLevel
		}

		// Tie-break: a bar whose range crosses both levels counts as a
		// stop, the conservative assumption.
		if stopHit {
			s.close(trade, params, stopLevel, ExitStopLoss, bar.End)
			return trade, nil, nil
		}
		if takeHit {
			s.close(trade, params, takeLevel, ExitTakeProfit, bar.End)
			return trade, nil, nil
		}
	}

	if !seen {
		return nil, &Skip{EventID: ev.ID, Ticker: ev.Ticker, Reason: SkipInsufficientData}, nil
	}

	s.close(trade, params, lastBar.Close, ExitTimeout, lastBar.End)
	return trade, nil, nil
}

func (s *Simulator) close(trade *Trade, params Params, exitPrice float64, reason ExitReason, at time.Time) {
	trade.ExitPrice = exitPrice
	trade.ExitReason = reason
	trade.ExitTime = at

	direction := 1.0
	if trade.Direction == extractor.DirectionShort {
		direction = -1.0
	}
	trade.PnLPct = (exitPrice - trade.EntryPrice) / trade.EntryPrice * 100 * direction
	trade.ProfitAbs = params.InitialCapital * params.PositionSizePct / 100 * trade.PnLPct / 100
}

func containsFold(list []string, val string) bool {
	for _, s := range list {
		if strings.EqualFold(s, val) {
			return true
		}
	}
	return false
}
