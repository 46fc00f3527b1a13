package indicators

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
)

func barsFromCloses(closes ...float64) []marketdata.Bar {
	bars := make([]marketdata.Bar, len(closes))
	begin := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = marketdata.Bar{
			Ticker: "SBER",
			Open:   c, High: c, Low: c, Close: c,
			Volume: 1000,
			Begin:  begin.Add(time.Duration(i) * time.Hour),
			End:    begin.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return bars
}

func TestCalculateSMA(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4, 5)

	if got := CalculateSMA(bars, 5); got != 3 {
		t.Errorf("SMA(5) = %g, want 3", got)
	}
	if got := CalculateSMA(bars, 2); got != 4.5 {
		t.Errorf("SMA(2) over the tail = %g, want 4.5", got)
	}
	if got := CalculateSMA(bars, 10); got != 0 {
		t.Errorf("SMA with insufficient bars = %g, want 0", got)
	}
}

func TestCalculateRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{name: "insufficient data is neutral", closes: []float64{100, 101}, period: 14, want: 50},
		{name: "all gains saturate", closes: []float64{100, 101, 102, 103, 104, 105}, period: 5, want: 100},
		{name: "all losses floor", closes: []float64{105, 104, 103, 102, 101, 100}, period: 5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateRSI(barsFromCloses(tt.closes...), tt.period)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RSI = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestCalculateRSI_BalancedMovesAreMidRange(t *testing.T) {
	// Equal up and down moves: RS = 1, RSI = 50.
	got := CalculateRSI(barsFromCloses(100, 102, 100, 102, 100), 4)
	if math.Abs(got-50) > 1e-9 {
		t.Errorf("RSI = %g, want 50 for symmetric moves", got)
	}
}

func TestCalculateMACD(t *testing.T) {
	closes := make([]float64, 0, 60)
	for i := 0; i < 60; i++ {
		closes = append(closes, 100+float64(i)) // steady uptrend
	}
	macd := CalculateMACD(barsFromCloses(closes...), 12, 26, 9)

	if macd.MACD <= 0 {
		t.Errorf("MACD line = %g, want positive in a steady uptrend", macd.MACD)
	}
	if math.Abs(macd.Histogram-(macd.MACD-macd.Signal)) > 1e-9 {
		t.Errorf("histogram %g is not MACD %g minus signal %g", macd.Histogram, macd.MACD, macd.Signal)
	}
}

func TestCalculateMACD_InsufficientData(t *testing.T) {
	macd := CalculateMACD(barsFromCloses(100, 101, 102), 12, 26, 9)
	if macd.MACD != 0 || macd.Signal != 0 || macd.Histogram != 0 {
		t.Errorf("MACD over 3 bars = %+v, want zero values", macd)
	}
}

func TestCalculateBollingerBands(t *testing.T) {
	// Constant closes: zero deviation, all bands collapse onto the mean.
	flat := CalculateBollingerBands(barsFromCloses(100, 100, 100, 100, 100), 5, 2)
	if flat.Upper != 100 || flat.Middle != 100 || flat.Lower != 100 {
		t.Errorf("flat bands = %+v, want all at 100", flat)
	}

	bands := CalculateBollingerBands(barsFromCloses(98, 99, 100, 101, 102), 5, 2)
	if bands.Middle != 100 {
		t.Errorf("middle = %g, want 100", bands.Middle)
	}
	if bands.Upper <= bands.Middle || bands.Lower >= bands.Middle {
		t.Errorf("bands %+v are not ordered around the middle", bands)
	}
	if math.Abs((bands.Upper-bands.Middle)-(bands.Middle-bands.Lower)) > 1e-9 {
		t.Errorf("bands %+v are not symmetric", bands)
	}
}

func TestCalculateOBV(t *testing.T) {
	// Up, up, down: +1000 +1000 -1000.
	got := CalculateOBV(barsFromCloses(100, 101, 102, 101))
	if got != 1000 {
		t.Errorf("OBV = %g, want 1000", got)
	}
	if CalculateOBV(nil) != 0 {
		t.Error("OBV of no bars must be 0")
	}
}

type fixedBars struct {
	bars []marketdata.Bar
	err  error
}

func (f fixedBars) Bars(_ context.Context, _ string, _, _ time.Time) ([]marketdata.Bar, error) {
	return f.bars, f.err
}

func TestProvider_Snapshot(t *testing.T) {
	closes := make([]float64, 0, 120)
	for i := 0; i < 120; i++ {
		closes = append(closes, 100+float64(i))
	}
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	p := NewProvider(fixedBars{bars: barsFromCloses(closes...)}, DefaultPeriods(), time.Hour)
	snap, ok := p.Snapshot(context.Background(), "SBER", at)
	if !ok {
		t.Fatal("expected a snapshot")
	}

	if snap.Ticker != "SBER" || !snap.At.Equal(at) {
		t.Errorf("snapshot identity = %s@%s, want SBER@%s", snap.Ticker, snap.At, at)
	}
	// A relentless uptrend reads overbought and bullish.
	if snap.RSIState != RSIOverbought {
		t.Errorf("rsi state = %q, want overbought", snap.RSIState)
	}
	if snap.MACDState != MACDBullish {
		t.Errorf("macd state = %q, want bullish", snap.MACDState)
	}
	if snap.OBVTrend != OBVAccumulation {
		t.Errorf("obv trend = %q, want accumulation", snap.OBVTrend)
	}
}

func TestProvider_SnapshotUnavailable(t *testing.T) {
	p := NewProvider(fixedBars{err: marketdata.ErrNoData}, DefaultPeriods(), time.Hour)
	if _, ok := p.Snapshot(context.Background(), "SBER", time.Now()); ok {
		t.Error("expected no snapshot when the source has no data")
	}

	p = NewProvider(fixedBars{bars: barsFromCloses(100, 101)}, DefaultPeriods(), time.Hour)
	if _, ok := p.Snapshot(context.Background(), "SBER", time.Now()); ok {
		t.Error("expected no snapshot from an undersized bar window")
	}
}
