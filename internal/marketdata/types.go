package marketdata

import (
	"errors"
	"time"
)

// ErrNoData means the provider has no bars for the requested range. Callers
// must treat this differently from a transport failure: a zero-volume bar is
// still data, an empty range is not.
var ErrNoData = errors.New("marketdata: no bars for requested range")

// Bar is one OHLCV candle at the provider's fixed granularity
type Bar struct {
	Ticker string    `json:"ticker"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Begin  time.Time `json:"begin"`
	End    time.Time `json:"end"`
}

// Quote is a live price tick from the quote stream
type Quote struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
