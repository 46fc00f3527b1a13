// Package notification delivers pipeline alerts to configured providers.
package notification

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Type represents the kind of notification
type Type string

const (
	NotifyConsensus Type = "consensus"
	NotifyBacktest  Type = "backtest"
	NotifyError     Type = "error"
	NotifyInfo      Type = "info"
)

// Notification is one message to deliver
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Ticker    string
	Strength  float64
	Timestamp time.Time
	Extra     map[string]any
}

// Notifier is a delivery provider
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider
type Manager struct {
	notifiers []Notifier
	enabled   bool
	log       zerolog.Logger
}

// NewManager creates a notification manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		enabled: true,
		log:     logger.With().Str("component", "notification").Logger(),
	}
}

// AddNotifier adds a delivery provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
	m.log.Info().Str("provider", n.Name()).Msg("notifier registered")
}

// SetEnabled toggles all delivery
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled = enabled
}

// Send delivers a notification to all enabled providers. Provider failures
// are logged and the last one is returned; one broken provider never stops
// the others.
func (m *Manager) Send(n *Notification) error {
	if !m.enabled {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var lastErr error
	for _, notifier := range m.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			m.log.Warn().Err(err).Str("provider", notifier.Name()).Msg("notification delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// SendConsensus notifies about a detected consensus event
func (m *Manager) SendConsensus(ticker, direction string, traderCount int, strength, avgEntry float64) error {
	emoji := "📈"
	if direction == "short" {
		emoji = "📉"
	}

	msg := fmt.Sprintf("%s %d traders agree on %s %s (strength %.0f)", emoji, traderCount, ticker, direction, strength)
	if avgEntry > 0 {
		msg += fmt.Sprintf(", avg entry %.2f", avgEntry)
	}

	return m.Send(&Notification{
		Type:     NotifyConsensus,
		Title:    "Consensus detected",
		Message:  msg,
		Ticker:   ticker,
		Strength: strength,
	})
}

// SendBacktestFinished notifies about a completed backtest run
func (m *Manager) SendBacktestFinished(runID int64, totalTrades int, winRate, totalReturn float64) error {
	return m.Send(&Notification{
		Type:  NotifyBacktest,
		Title: "Backtest finished",
		Message: fmt.Sprintf("Run %d: %d trades, win rate %.1f%%, return %.2f",
			runID, totalTrades, winRate, totalReturn),
	})
}

// SendError notifies about a pipeline failure
func (m *Manager) SendError(component, message string) error {
	return m.Send(&Notification{
		Type:    NotifyError,
		Title:   "Error in " + component,
		Message: message,
	})
}
