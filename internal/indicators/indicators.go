// Package indicators computes the technical indicators consumed as optional
// confirmation inputs by consensus rules: RSI, MACD, Bollinger Bands and OBV.
package indicators

import (
	"math"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
)

// CalculateSMA calculates Simple Moving Average over closes
func CalculateSMA(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}

	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average over closes
func CalculateEMA(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}

	sma := CalculateSMA(bars[:period], period)
	multiplier := 2.0 / float64(period+1)

	ema := sma
	for i := period; i < len(bars); i++ {
		ema = (bars[i].Close * multiplier) + (ema * (1 - multiplier))
	}

	return ema
}

// CalculateRSI calculates the Relative Strength Index
func CalculateRSI(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0

	for i := len(bars) - period; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACDResult holds MACD indicator values
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD calculates the MACD line, signal line and histogram. The
// signal line is a proper EMA over the MACD series.
func CalculateMACD(bars []marketdata.Bar, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	if len(bars) < slowPeriod+signalPeriod {
		return &MACDResult{}
	}

	// Build the MACD series over the usable tail of the bars
	series := make([]float64, 0, len(bars)-slowPeriod+1)
	for i := slowPeriod; i <= len(bars); i++ {
		window := bars[:i]
		series = append(series, CalculateEMA(window, fastPeriod)-CalculateEMA(window, slowPeriod))
	}

	macdLine := series[len(series)-1]
	signalLine := emaOver(series, signalPeriod)

	return &MACDResult{
		MACD:      macdLine,
		Signal:    signalLine,
		Histogram: macdLine - signalLine,
	}
}

func emaOver(values []float64, period int) float64 {
	if len(values) < period {
		if len(values) == 0 {
			return 0
		}
		period = len(values)
	}

	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	ema := sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// BollingerResult holds Bollinger Bands values
type BollingerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands calculates Bollinger Bands over closes
func CalculateBollingerBands(bars []marketdata.Bar, period int, stdDevMultiplier float64) *BollingerResult {
	if len(bars) < period {
		return &BollingerResult{}
	}

	middle := CalculateSMA(bars, period)

	variance := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		diff := bars[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return &BollingerResult{
		Upper:  middle + stdDevMultiplier*stdDev,
		Middle: middle,
		Lower:  middle - stdDevMultiplier*stdDev,
	}
}

// CalculateOBV calculates On-Balance Volume
func CalculateOBV(bars []marketdata.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}

	obv := 0.0
	for i := 1; i < len(bars); i++ {
		if bars[i].Close > bars[i-1].Close {
			obv += bars[i].Volume
		} else if bars[i].Close < bars[i-1].Close {
			obv -= bars[i].Volume
		}
	}

	return obv
}
