package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/consensus"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
)

var detected = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

// stubBars serves a fixed bar series per ticker, or a fixed error.
type stubBars struct {
	series map[string][]marketdata.Bar
	err    error
}

func (s stubBars) Bars(_ context.Context, ticker string, _, _ time.Time) ([]marketdata.Bar, error) {
	if s.err != nil {
		return nil, s.err
	}
	bars, ok := s.series[ticker]
	if !ok || len(bars) == 0 {
		return nil, marketdata.ErrNoData
	}
	return bars, nil
}

func bar(i int, open, high, low, close float64) marketdata.Bar {
	begin := detected.Add(time.Duration(i) * time.Hour)
	return marketdata.Bar{Ticker: "SBER", Open: open, High: high, Low: low, Close: close, Volume: 1000, Begin: begin, End: begin.Add(time.Hour)}
}

func event(id string, ticker string, dir extractor.Direction, entry float64) consensus.Event {
	return consensus.Event{
		ID:            id,
		RuleID:        1,
		Ticker:        ticker,
		Direction:     dir,
		TraderCount:   2,
		SignalCount:   2,
		AvgEntryPrice: entry,
		DetectedAt:    detected,
		Status:        consensus.EventActive,
	}
}

func testParams() Params {
	return Params{
		TakeProfitPct:   5,
		StopLossPct:     3,
		HoldingHours:    24,
		InitialCapital:  100000,
		PositionSizePct: 10,
	}
}

func TestSimulator_StopBeatsTakeOnSameBar(t *testing.T) {
	// One bar spans both levels: high 106 crosses take (105), low 96.5
	// crosses stop (97). The stop wins the tie.
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {bar(0, 100, 106, 96.5, 101)},
	}}

	result, err := NewSimulator(src).Run(context.Background(), testParams(), []consensus.Event{
		event("e1", "SBER", extractor.DirectionLong, 100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(result.Trades))
	}

	tr := result.Trades[0]
	if tr.ExitReason != ExitStopLoss {
		t.Errorf("exit reason = %q, want stop_loss", tr.ExitReason)
	}
	if tr.ExitPrice != 97 {
		t.Errorf("exit price = %g, want the stop level 97", tr.ExitPrice)
	}
	if tr.PnLPct != -3 {
		t.Errorf("pnl = %g%%, want -3", tr.PnLPct)
	}
	// 10% of 100k capital, down 3%.
	if tr.ProfitAbs != -300 {
		t.Errorf("profit = %g, want -300", tr.ProfitAbs)
	}
}

func TestSimulator_LongTakeProfit(t *testing.T) {
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {
			bar(0, 100, 102, 99, 101),
			bar(1, 101, 105.5, 100, 104),
		},
	}}

	result, err := NewSimulator(src).Run(context.Background(), testParams(), []consensus.Event{
		event("e1", "SBER", extractor.DirectionLong, 100),
	})
	if err != nil {
		t.Fatal(err)
	}

	tr := result.Trades[0]
	if tr.ExitReason != ExitTakeProfit {
		t.Fatalf("exit reason = %q, want take_profit", tr.ExitReason)
	}
	if tr.ExitPrice != 105 || tr.PnLPct != 5 {
		t.Errorf("exit=%g pnl=%g%%, want 105 and +5", tr.ExitPrice, tr.PnLPct)
	}
	if !tr.ExitTime.Equal(detected.Add(2 * time.Hour)) {
		t.Errorf("exit time = %s, want the closing bar's end", tr.ExitTime)
	}
}

func TestSimulator_ShortLevelsInverted(t *testing.T) {
	// Short from 100: take at 95, stop at 103. Price falls to 94.
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {
			bar(0, 100, 101, 98, 99),
			bar(1, 99, 100, 94, 95),
		},
	}}

	result, err := NewSimulator(src).Run(context.Background(), testParams(), []consensus.Event{
		event("e1", "SBER", extractor.DirectionShort, 100),
	})
	if err != nil {
		t.Fatal(err)
	}

	tr := result.Trades[0]
	if tr.ExitReason != ExitTakeProfit {
		t.Fatalf("exit reason = %q, want take_profit", tr.ExitReason)
	}
	if tr.ExitPrice != 95 {
		t.Errorf("exit price = %g, want 95", tr.ExitPrice)
	}
	if tr.PnLPct != 5 {
		t.Errorf("short pnl = %g%%, want +5 on a falling price", tr.PnLPct)
	}
}

func TestSimulator_TimeoutClosesAtLastClose(t *testing.T) {
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {
			bar(0, 100, 102, 99, 101),
			bar(1, 101, 103, 100, 102),
		},
	}}

	result, err := NewSimulator(src).Run(context.Background(), testParams(), []consensus.Event{
		event("e1", "SBER", extractor.DirectionLong, 100),
	})
	if err != nil {
		t.Fatal(err)
	}

	tr := result.Trades[0]
	if tr.ExitReason != ExitTimeout {
		t.Fatalf("exit reason = %q, want timeout", tr.ExitReason)
	}
	if tr.ExitPrice != 102 || tr.PnLPct != 2 {
		t.Errorf("exit=%g pnl=%g%%, want last close 102 and +2", tr.ExitPrice, tr.PnLPct)
	}
}

func TestSimulator_EntryFallsBackToFirstOpen(t *testing.T) {
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {bar(0, 200, 201, 199, 200)},
	}}

	// No target prices contributed, so AvgEntryPrice is zero.
	result, err := NewSimulator(src).Run(context.Background(), testParams(), []consensus.Event{
		event("e1", "SBER", extractor.DirectionLong, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Trades[0].EntryPrice; got != 200 {
		t.Errorf("entry = %g, want the first bar's open 200", got)
	}
}

func TestSimulator_Skips(t *testing.T) {
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {bar(0, 100, 102, 99, 101)},
	}}

	result, err := NewSimulator(src).Run(context.Background(), testParams(), []consensus.Event{
		event("e1", "GAZP", extractor.DirectionLong, 170), // no bars
		event("e2", "SBER", extractor.DirectionExit, 0),   // not a tradeable side
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Trades) != 0 {
		t.Fatalf("got %d trades, want 0", len(result.Trades))
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("got %d skips, want 2", len(result.Skipped))
	}

	byID := map[string]SkipReason{}
	for _, s := range result.Skipped {
		byID[s.EventID] = s.Reason
	}
	if byID["e1"] != SkipInsufficientData {
		t.Errorf("e1 skip reason = %q, want insufficient_data", byID["e1"])
	}
	if byID["e2"] != SkipNotTradeable {
		t.Errorf("e2 skip reason = %q, want not_tradeable", byID["e2"])
	}
}

func TestSimulator_TransportErrorFailsRun(t *testing.T) {
	src := stubBars{err: errors.New("connection refused")}

	_, err := NewSimulator(src).Run(context.Background(), testParams(), []consensus.Event{
		event("e1", "SBER", extractor.DirectionLong, 100),
	})
	if err == nil {
		t.Fatal("expected a hard failure when the bar source errors")
	}
}

func TestSimulator_ParamValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{name: "zero take profit", mutate: func(p *Params) { p.TakeProfitPct = 0 }},
		{name: "negative stop loss", mutate: func(p *Params) { p.StopLossPct = -1 }},
		{name: "zero holding", mutate: func(p *Params) { p.HoldingHours = 0 }},
		{name: "zero capital", mutate: func(p *Params) { p.InitialCapital = 0 }},
		{name: "oversized position", mutate: func(p *Params) { p.PositionSizePct = 150 }},
		{name: "inverted range", mutate: func(p *Params) { p.From = detected; p.To = detected.Add(-time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			tt.mutate(&params)
			if _, err := NewSimulator(stubBars{}).Run(context.Background(), params, nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSimulator_Aggregates(t *testing.T) {
	// Two SBER winners (+5 each) and one GAZP loser (-3).
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {bar(0, 100, 106, 99, 105)},
		"GAZP": {bar(0, 170, 171, 160, 161)},
	}}

	ev1 := event("e1", "SBER", extractor.DirectionLong, 100)
	ev2 := event("e2", "SBER", extractor.DirectionLong, 100)
	ev2.DetectedAt = detected.Add(time.Minute)
	ev3 := event("e3", "GAZP", extractor.DirectionLong, 170)
	ev3.DetectedAt = detected.Add(2 * time.Minute)

	result, err := NewSimulator(src).Run(context.Background(), testParams(), []consensus.Event{ev1, ev2, ev3})
	if err != nil {
		t.Fatal(err)
	}

	if result.TotalTrades != 3 || result.WinningTrades != 2 || result.LosingTrades != 1 {
		t.Errorf("trades=%d wins=%d losses=%d, want 3/2/1", result.TotalTrades, result.WinningTrades, result.LosingTrades)
	}
	if wantRate := 2.0 / 3.0 * 100; !closeTo(result.WinRate, wantRate) {
		t.Errorf("win rate = %g, want %g", result.WinRate, wantRate)
	}
	if !closeTo(result.AvgProfitPct, 5) || !closeTo(result.MaxProfitPct, 5) {
		t.Errorf("avg/max profit = %g/%g, want 5/5", result.AvgProfitPct, result.MaxProfitPct)
	}
	if !closeTo(result.AvgLossPct, -3) || !closeTo(result.MaxLossPct, -3) {
		t.Errorf("avg/max loss = %g/%g, want -3/-3", result.AvgLossPct, result.MaxLossPct)
	}

	sber := result.ByTicker["SBER"]
	if sber.Trades != 2 || sber.Wins != 2 {
		t.Errorf("SBER rollup = %+v, want 2 trades 2 wins", sber)
	}
	gazp := result.ByTicker["GAZP"]
	if gazp.Trades != 1 || gazp.Wins != 0 {
		t.Errorf("GAZP rollup = %+v, want 1 trade 0 wins", gazp)
	}

	// 10% position: +500 +500 -300.
	if !closeTo(result.TotalReturn, 700) {
		t.Errorf("total return = %g, want 700", result.TotalReturn)
	}
}

func TestSimulator_WorkersPreserveEventOrder(t *testing.T) {
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {bar(0, 100, 106, 99, 105)},
	}}

	var events []consensus.Event
	for i := 0; i < 8; i++ {
		ev := event(string(rune('a'+i)), "SBER", extractor.DirectionLong, 100)
		ev.DetectedAt = detected.Add(time.Duration(i) * time.Minute)
		events = append(events, ev)
	}

	params := testParams()
	params.Workers = 4
	result, err := NewSimulator(src).Run(context.Background(), params, events)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Trades) != len(events) {
		t.Fatalf("got %d trades, want %d", len(result.Trades), len(events))
	}
	for i, tr := range result.Trades {
		if tr.EventID != events[i].ID {
			t.Fatalf("trade %d is event %q, want detection order preserved (%q)", i, tr.EventID, events[i].ID)
		}
	}
}

func TestSimulator_FilterScope(t *testing.T) {
	src := stubBars{series: map[string][]marketdata.Bar{
		"SBER": {bar(0, 100, 106, 99, 105)},
		"GAZP": {bar(0, 170, 180, 169, 179)},
	}}

	other := event("other-rule", "SBER", extractor.DirectionLong, 100)
	other.RuleID = 99
	early := event("too-early", "SBER", extractor.DirectionLong, 100)
	early.DetectedAt = detected.Add(-48 * time.Hour)
	wrongTicker := event("gazp", "GAZP", extractor.DirectionLong, 170)
	keeper := event("keeper", "SBER", extractor.DirectionLong, 100)

	params := testParams()
	params.RuleID = 1
	params.Tickers = []string{"sber"} // ticker scope folds case
	params.From = detected.Add(-time.Hour)

	result, err := NewSimulator(src).Run(context.Background(), params, []consensus.Event{other, early, wrongTicker, keeper})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Trades) != 1 || result.Trades[0].EventID != "keeper" {
		t.Fatalf("trades = %+v, want only the in-scope event", result.Trades)
	}
}

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
