package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Client fetches historical candles and quotes from the market data HTTP
// API. It implements the BarSource interface the indicator provider and
// the backtest simulator consume.
type Client struct {
	baseURL    string
	interval   string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a market data client. interval is the provider's candle
// size identifier, e.g. "60" for hourly bars.
func NewClient(baseURL, interval string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.With().Str("component", "marketdata").Logger(),
	}
}

// candle is the provider's wire format for one bar
type candle struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Begin  string  `json:"begin"`
	End    string  `json:"end"`
}

type candleResponse struct {
	Candles []candle `json:"candles"`
}

// Bars fetches OHLC bars for ticker within [from, to]. An empty range is
// reported as ErrNoData so callers can tell missing history from a broken
// transport.
func (c *Client) Bars(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("interval", c.interval)
	params.Set("from", from.UTC().Format(time.RFC3339))
	params.Set("till", to.UTC().Format(time.RFC3339))

	endpoint := fmt.Sprintf("%s/candles?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: fetching candles for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("marketdata: candles for %s: status %d: %s", ticker, resp.StatusCode, body)
	}

	var payload candleResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("marketdata: decoding candles for %s: %w", ticker, err)
	}
	if len(payload.Candles) == 0 {
		return nil, ErrNoData
	}

	bars := make([]Bar, 0, len(payload.Candles))
	for _, cd := range payload.Candles {
		begin, err := parseProviderTime(cd.Begin)
		if err != nil {
			return nil, fmt.Errorf("marketdata: bad begin time %q: %w", cd.Begin, err)
		}
		end, err := parseProviderTime(cd.End)
		if err != nil {
			return nil, fmt.Errorf("marketdata: bad end time %q: %w", cd.End, err)
		}
		bars = append(bars, Bar{
			Ticker: ticker,
			Open:   cd.Open,
			High:   cd.High,
			Low:    cd.Low,
			Close:  cd.Close,
			Volume: cd.Volume,
			Begin:  begin,
			End:    end,
		})
	}

	c.log.Debug().Str("ticker", ticker).Int("bars", len(bars)).Msg("fetched candles")
	return bars, nil
}

// LastQuote fetches the current quote for a ticker
func (c *Client) LastQuote(ctx context.Context, ticker string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/quotes/%s", c.baseURL, url.PathEscape(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: fetching quote for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketdata: quote for %s: status %d", ticker, resp.StatusCode)
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("marketdata: decoding quote for %s: %w", ticker, err)
	}
	quote.Ticker = ticker
	return &quote, nil
}

// parseProviderTime accepts both RFC3339 and the provider's legacy
// "2006-01-02 15:04:05" format.
func parseProviderTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
