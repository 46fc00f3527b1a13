package indicators

import (
	"context"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
)

// RSIState classifies the RSI value into a named band
type RSIState string

const (
	RSIOversold   RSIState = "oversold"
	RSINeutral    RSIState = "neutral"
	RSIOverbought RSIState = "overbought"
)

// MACDState classifies the MACD line versus its signal line
type MACDState string

const (
	MACDBullish MACDState = "bullish"
	MACDBearish MACDState = "bearish"
	MACDFlat    MACDState = "flat"
)

// BollingerPosition is where the last close sits relative to the bands
type BollingerPosition string

const (
	BollingerBelow  BollingerPosition = "below_lower"
	BollingerInside BollingerPosition = "inside"
	BollingerAbove  BollingerPosition = "above_upper"
)

// OBVTrend classifies the on-balance-volume slope
type OBVTrend string

const (
	OBVAccumulation OBVTrend = "accumulation"
	OBVDistribution OBVTrend = "distribution"
	OBVFlat         OBVTrend = "flat"
)

// Snapshot is the classified indicator state for one ticker at one moment.
// Consensus rules gate on these named classes, never on raw values.
type Snapshot struct {
	Ticker            string            `json:"ticker"`
	At                time.Time         `json:"at"`
	RSI               float64           `json:"rsi"`
	RSIState          RSIState          `json:"rsi_state"`
	MACDState         MACDState         `json:"macd_state"`
	BollingerPosition BollingerPosition `json:"bollinger_position"`
	OBVTrend          OBVTrend          `json:"obv_trend"`
}

// Periods tunes the indicator windows used to build snapshots
type Periods struct {
	RSIPeriod       int
	RSIOversold     float64
	RSIOverbought   float64
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	BollingerPeriod int
	BollingerStdDev float64
	OBVSlopeBars    int
	LookbackBars    int
}

// DefaultPeriods returns the conventional indicator settings
func DefaultPeriods() Periods {
	return Periods{
		RSIPeriod:       14,
		RSIOversold:     30,
		RSIOverbought:   70,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		BollingerPeriod: 20,
		BollingerStdDev: 2.0,
		OBVSlopeBars:    10,
		LookbackBars:    120,
	}
}

// BarSource supplies the bars a snapshot is computed from
type BarSource interface {
	Bars(ctx context.Context, ticker string, from, to time.Time) ([]marketdata.Bar, error)
}

// Provider computes classified snapshots on demand from a bar source
type Provider struct {
	source      BarSource
	periods     Periods
	granularity time.Duration
}

// NewProvider creates a snapshot provider. granularity is the provider's
// fixed bar size, used to size the lookback window.
func NewProvider(source BarSource, periods Periods, granularity time.Duration) *Provider {
	return &Provider{source: source, periods: periods, granularity: granularity}
}

// Snapshot builds the classified indicator snapshot for ticker at the given
// time. Returns false when the bar source has no data for the window.
func (p *Provider) Snapshot(ctx context.Context, ticker string, at time.Time) (*Snapshot, bool) {
	from := at.Add(-time.Duration(p.periods.LookbackBars) * p.granularity)
	bars, err := p.source.Bars(ctx, ticker, from, at)
	if err != nil || len(bars) < p.periods.MACDSlow+p.periods.MACDSignal {
		return nil, false
	}

	return Classify(ticker, at, bars, p.periods), true
}

// Classify computes and classifies all indicators over the given bars
func Classify(ticker string, at time.Time, bars []marketdata.Bar, periods Periods) *Snapshot {
	snap := &Snapshot{Ticker: ticker, At: at}

	snap.RSI = CalculateRSI(bars, periods.RSIPeriod)
	switch {
	case snap.RSI <= periods.RSIOversold:
		snap.RSIState = RSIOversold
	case snap.RSI >= periods.RSIOverbought:
		snap.RSIState = RSIOverbought
	default:
		snap.RSIState = RSINeutral
	}

	macd := CalculateMACD(bars, periods.MACDFast, periods.MACDSlow, periods.MACDSignal)
	switch {
	case macd.Histogram > 0:
		snap.MACDState = MACDBullish
	case macd.Histogram < 0:
		snap.MACDState = MACDBearish
	default:
		snap.MACDState = MACDFlat
	}

	bands := CalculateBollingerBands(bars, periods.BollingerPeriod, periods.BollingerStdDev)
	lastClose := bars[len(bars)-1].Close
	switch {
	case bands.Upper == 0 && bands.Lower == 0:
		snap.BollingerPosition = BollingerInside
	case lastClose < bands.Lower:
		snap.BollingerPosition = BollingerBelow
	case lastClose > bands.Upper:
		snap.BollingerPosition = BollingerAbove
	default:
		snap.BollingerPosition = BollingerInside
	}

	// OBV is cumulative, so the trend is the change of the running total
	// over the last slope bars, not a comparison of detached windows.
	slope := periods.OBVSlopeBars
	if len(bars) > slope+1 {
		current := CalculateOBV(bars)
		previous := CalculateOBV(bars[:len(bars)-slope])
		switch {
		case current > previous:
			snap.OBVTrend = OBVAccumulation
		case current < previous:
			snap.OBVTrend = OBVDistribution
		default:
			snap.OBVTrend = OBVFlat
		}
	} else {
		snap.OBVTrend = OBVFlat
	}

	return snap
}
