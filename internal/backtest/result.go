package backtest

// TickerStats is the per-ticker rollup of a run
type TickerStats struct {
	Ticker    string  `json:"ticker"`
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	TotalPnL  float64 `json:"total_pnl"`
	ProfitAbs float64 `json:"profit_abs"`
}

// Result holds every simulated trade of a run plus aggregate statistics.
// The aggregates are pure functions of the trade set and are recomputed,
// never stored separately from it.
type Result struct {
	Params  Params  `json:"params"`
	Trades  []Trade `json:"trades"`
	Skipped []Skip  `json:"skipped"`

	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	AvgProfitPct   float64 `json:"avg_profit_pct"`
	MaxProfitPct   float64 `json:"max_profit_pct"`
	AvgLossPct     float64 `json:"avg_loss_pct"`
	MaxLossPct     float64 `json:"max_loss_pct"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`

	ByTicker map[string]*TickerStats `json:"by_ticker"`
}

// computeStats recalculates every aggregate by scanning the trade set
func (r *Result) computeStats() {
	r.TotalTrades = len(r.Trades)
	r.ByTicker = make(map[string]*TickerStats)

	var winPnL, lossPnL float64
	for _, trade := range r.Trades {
		r.TotalReturn += trade.ProfitAbs

		stats := r.ByTicker[trade.Ticker]
		if stats == nil {
			stats = &TickerStats{Ticker: trade.Ticker}
			r.ByTicker[trade.Ticker] = stats
		}
		stats.Trades++
		stats.TotalPnL += trade.PnLPct
		stats.ProfitAbs += trade.ProfitAbs

		if trade.PnLPct > 0 {
			r.WinningTrades++
			stats.Wins++
			winPnL += trade.PnLPct
			if trade.PnLPct > r.MaxProfitPct {
				r.MaxProfitPct = trade.PnLPct
			}
		} else {
			r.LosingTrades++
			lossPnL += trade.PnLPct
			if trade.PnLPct < r.MaxLossPct {
				r.MaxLossPct = trade.PnLPct
			}
		}
	}

	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades) * 100
	}
	if r.WinningTrades > 0 {
		r.AvgProfitPct = winPnL / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLossPct = lossPnL / float64(r.LosingTrades)
	}
	if r.Params.InitialCapital > 0 {
		r.TotalReturnPct = r.TotalReturn / r.Params.InitialCapital * 100
	}
}
