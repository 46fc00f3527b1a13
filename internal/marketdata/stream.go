package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// QuoteStream maintains a websocket subscription to live quotes and fans
// them out to a callback. It reconnects with backoff until stopped.
type QuoteStream struct {
	mu sync.RWMutex

	wsURL   string
	tickers []string
	onQuote func(Quote)
	log     zerolog.Logger

	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}

	lastQuotes map[string]Quote
	reconnects int
}

// NewQuoteStream creates a stream for the given tickers. onQuote is called
// from the read loop goroutine for every received quote.
func NewQuoteStream(wsURL string, tickers []string, onQuote func(Quote), logger zerolog.Logger) *QuoteStream {
	return &QuoteStream{
		wsURL:      wsURL,
		tickers:    tickers,
		onQuote:    onQuote,
		log:        logger.With().Str("component", "quote_stream").Logger(),
		lastQuotes: make(map[string]Quote),
	}
}

// Start connects and launches the read loop. Safe to call once.
func (qs *QuoteStream) Start(ctx context.Context) error {
	qs.mu.Lock()
	if qs.isRunning {
		qs.mu.Unlock()
		return fmt.Errorf("marketdata: quote stream already running")
	}
	qs.isRunning = true
	qs.stopChan = make(chan struct{})
	qs.mu.Unlock()

	if err := qs.connect(ctx); err != nil {
		qs.mu.Lock()
		qs.isRunning = false
		qs.mu.Unlock()
		return err
	}

	go qs.readLoop(ctx)
	return nil
}

// Stop closes the connection and halts reconnection
func (qs *QuoteStream) Stop() {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if !qs.isRunning {
		return
	}
	qs.isRunning = false
	close(qs.stopChan)
	if qs.conn != nil {
		qs.conn.Close()
	}
	qs.log.Info().Msg("quote stream stopped")
}

// LastQuote returns the most recent quote seen for a ticker
func (qs *QuoteStream) LastQuote(ticker string) (Quote, bool) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	q, ok := qs.lastQuotes[ticker]
	return q, ok
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Tickers []string `json:"tickers"`
}

// quoteMessage is the provider's wire format for one tick
type quoteMessage struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

func (qs *QuoteStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, qs.wsURL, nil)
	if err != nil {
		return fmt.Errorf("marketdata: dialing quote stream: %w", err)
	}

	if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", Tickers: qs.tickers}); err != nil {
		conn.Close()
		return fmt.Errorf("marketdata: subscribing: %w", err)
	}

	qs.mu.Lock()
	qs.conn = conn
	qs.mu.Unlock()

	qs.log.Info().Strs("tickers", qs.tickers).Msg("quote stream connected")
	return nil
}

func (qs *QuoteStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-qs.stopChan:
			return
		case <-ctx.Done():
			qs.Stop()
			return
		default:
		}

		qs.mu.RLock()
		conn := qs.conn
		qs.mu.RUnlock()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !qs.running() {
				return
			}
			qs.log.Warn().Err(err).Msg("quote stream read failed, reconnecting")
			qs.reconnect(ctx)
			continue
		}

		var msg quoteMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			qs.log.Debug().Err(err).Msg("skipping malformed quote message")
			continue
		}
		if msg.Ticker == "" {
			continue
		}

		quote := Quote{
			Ticker:    msg.Ticker,
			Price:     msg.Price,
			Timestamp: time.UnixMilli(msg.Timestamp),
		}

		qs.mu.Lock()
		qs.lastQuotes[quote.Ticker] = quote
		qs.mu.Unlock()

		if qs.onQuote != nil {
			qs.onQuote(quote)
		}
	}
}

func (qs *QuoteStream) running() bool {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	return qs.isRunning
}

// reconnect retries with exponential backoff capped at one minute
func (qs *QuoteStream) reconnect(ctx context.Context) {
	backoff := time.Second
	for qs.running() {
		select {
		case <-qs.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := qs.connect(ctx); err == nil {
			qs.mu.Lock()
			qs.reconnects++
			n := qs.reconnects
			qs.mu.Unlock()
			qs.log.Info().Int("reconnects", n).Msg("quote stream reconnected")
			return
		}

		if backoff < time.Minute {
			backoff *= 2
		}
	}
}
