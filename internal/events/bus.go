// Package events carries the in-process pub/sub bus that fans pipeline
// happenings out to the API websocket and the notification manager.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventMessageReceived   EventType = "MESSAGE_RECEIVED"
	EventSignalExtracted   EventType = "SIGNAL_EXTRACTED"
	EventParseFailed       EventType = "PARSE_FAILED"
	EventConsensusDetected EventType = "CONSENSUS_DETECTED"
	EventConsensusClosed   EventType = "CONSENSUS_CLOSED"
	EventPatternsReloaded  EventType = "PATTERNS_RELOADED"
	EventBacktestStarted   EventType = "BACKTEST_STARTED"
	EventBacktestFinished  EventType = "BACKTEST_FINISHED"
	EventQuoteUpdate       EventType = "QUOTE_UPDATE"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer never blocks the pipeline.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignalExtracted publishes a signal extraction event
func (b *Bus) PublishSignalExtracted(signalID, messageID int64, ticker, direction string, confidence float64) {
	b.Publish(Event{
		Type: EventSignalExtracted,
		Data: map[string]any{
			"signal_id":  signalID,
			"message_id": messageID,
			"ticker":     ticker,
			"direction":  direction,
			"confidence": confidence,
		},
	})
}

// PublishConsensusDetected publishes a consensus detection event
func (b *Bus) PublishConsensusDetected(eventID, ticker, direction string, traderCount int, strength float64) {
	b.Publish(Event{
		Type: EventConsensusDetected,
		Data: map[string]any{
			"event_id":     eventID,
			"ticker":       ticker,
			"direction":    direction,
			"trader_count": traderCount,
			"strength":     strength,
		},
	})
}

// PublishBacktestFinished publishes a backtest completion event
func (b *Bus) PublishBacktestFinished(runID int64, totalTrades int, winRate, totalReturn float64) {
	b.Publish(Event{
		Type: EventBacktestFinished,
		Data: map[string]any{
			"run_id":       runID,
			"total_trades": totalTrades,
			"win_rate":     winRate,
			"total_return": totalReturn,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(component, message string) {
	b.Publish(Event{
		Type: EventError,
		Data: map[string]any{
			"component": component,
			"message":   message,
		},
	})
}
