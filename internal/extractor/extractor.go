// Package extractor turns raw channel messages into structured trading
// signals using a compiled pattern snapshot. Extraction is pure: it never
// touches storage, and re-running it over the same message and snapshot
// yields an identical result.
package extractor

import (
	"strconv"
	"strings"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/patterns"
)

// ParseState tracks how far a message has moved through parsing.
// Transitions only move forward: unparsed -> parsed | failed | garbage.
type ParseState string

const (
	StateUnparsed ParseState = "unparsed"
	StateParsed   ParseState = "parsed"
	StateFailed   ParseState = "failed"
	StateGarbage  ParseState = "garbage"
)

// Direction of a trading signal
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionExit  Direction = "exit"
)

// FailureReason classifies why a message produced no signal
type FailureReason string

const (
	FailEmpty           FailureReason = "empty"
	FailNonTrading      FailureReason = "non_trading"
	FailAmbiguousTicker FailureReason = "ambiguous_ticker"
	FailGarbage         FailureReason = "garbage"
)

// Message is one unit of raw input text from a channel
type Message struct {
	ID         int64      `json:"id"`
	ChannelID  int64      `json:"channel_id"`
	Author     string     `json:"author,omitempty"`
	Text       string     `json:"text"`
	ReceivedAt time.Time  `json:"received_at"`
	ParseState ParseState `json:"parse_state"`
}

// Signal is the structured trading intent extracted from one message.
// Created once, never mutated.
type Signal struct {
	ID          int64     `json:"id"`
	MessageID   int64     `json:"message_id"`
	Ticker      string    `json:"ticker"`
	Direction   Direction `json:"direction"`
	Author      string    `json:"author,omitempty"`
	TargetPrice *float64  `json:"target_price,omitempty"`
	StopPrice   *float64  `json:"stop_price,omitempty"`
	TakePrice   *float64  `json:"take_price,omitempty"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// ParseFailure reports a message that produced no signal. Recoverable by
// design: one bad message never aborts the batch it arrived in.
type ParseFailure struct {
	MessageID int64         `json:"message_id"`
	Reason    FailureReason `json:"reason"`
	Detail    string        `json:"detail,omitempty"`
}

// State maps the failure to the message parse state it implies
func (f *ParseFailure) State() ParseState {
	if f.Reason == FailGarbage {
		return StateGarbage
	}
	return StateFailed
}

// ConfidenceWeights tunes how corroborating category matches add up to the
// signal confidence. Values are a product decision, not an invariant; the
// only requirement is that an extra match never lowers confidence.
type ConfidenceWeights struct {
	Base        float64
	KeywordOnly float64 // base when direction was inferred from a keyword
	Author      float64
	TargetPrice float64
	StopPrice   float64
	TakePrice   float64
	Keyword     float64
}

// DefaultConfidenceWeights returns the stock weighting
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		Base:        0.50,
		KeywordOnly: 0.35,
		Author:      0.10,
		TargetPrice: 0.12,
		StopPrice:   0.10,
		TakePrice:   0.10,
		Keyword:     0.05,
	}
}

// Extractor evaluates messages against one immutable pattern snapshot
type Extractor struct {
	snap    *patterns.Snapshot
	weights ConfidenceWeights
}

// New creates an extractor over a compiled snapshot
func New(snap *patterns.Snapshot, weights ConfidenceWeights) *Extractor {
	return &Extractor{snap: snap, weights: weights}
}

// Extract evaluates one message against the snapshot and returns either a
// signal or a classified failure, never both and never neither.
func (e *Extractor) Extract(msg Message) (*Signal, *ParseFailure) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, &ParseFailure{MessageID: msg.ID, Reason: FailEmpty}
	}

	// Garbage classification beats everything else in the pipeline.
	if _, _, isGarbage := e.snap.FirstMatch(patterns.CategoryGarbage, text); isGarbage {
		return nil, &ParseFailure{MessageID: msg.ID, Reason: FailGarbage}
	}

	// Category pipeline. First match wins within a category; ticker is the
	// exception where a second distinct symbol rejects the whole message.
	ticker, ambiguous := e.matchTicker(text)
	if ambiguous != "" {
		return nil, &ParseFailure{MessageID: msg.ID, Reason: FailAmbiguousTicker, Detail: ticker + " vs " + ambiguous}
	}

	longMatch, _, hasLong := e.snap.FirstMatch(patterns.CategoryLong, text)
	shortMatch, _, hasShort := e.snap.FirstMatch(patterns.CategoryShort, text)
	_, _, hasExit := e.snap.FirstMatch(patterns.CategoryExit, text)
	_, _, hasKeyword := e.snap.FirstMatch(patterns.CategoryKeyword, text)
	_, author, hasAuthor := e.snap.FirstMatch(patterns.CategoryAuthor, text)
	target := e.matchPrice(patterns.CategoryTargetPrice, text)
	stop := e.matchPrice(patterns.CategoryStopPrice, text)
	take := e.matchPrice(patterns.CategoryTakePrice, text)

	if ticker == "" {
		// A keyword without an instrument cannot form a signal either way.
		return nil, &ParseFailure{MessageID: msg.ID, Reason: FailNonTrading}
	}
	if !hasLong && !hasShort && !hasExit && !hasKeyword {
		return nil, &ParseFailure{MessageID: msg.ID, Reason: FailNonTrading}
	}

	direction, keywordInferred := resolveDirection(longMatch, shortMatch, hasLong, hasShort, hasExit, hasKeyword)

	sig := &Signal{
		MessageID:   msg.ID,
		Ticker:      ticker,
		Direction:   direction,
		Author:      msg.Author,
		TargetPrice: target,
		StopPrice:   stop,
		TakePrice:   take,
		Timestamp:   msg.ReceivedAt,
	}
	// An author tag inside the text overrides the transport-level author.
	if hasAuthor && author != "" {
		sig.Author = author
	}

	conf := e.weights.Base
	if keywordInferred {
		conf = e.weights.KeywordOnly
	}
	if sig.Author != "" {
		conf += e.weights.Author
	}
	if target != nil {
		conf += e.weights.TargetPrice
	}
	if stop != nil {
		conf += e.weights.StopPrice
	}
	if take != nil {
		conf += e.weights.TakePrice
	}
	if hasKeyword && !keywordInferred {
		conf += e.weights.Keyword
	}
	if conf > 1.0 {
		conf = 1.0
	}
	sig.Confidence = conf

	return sig, nil
}

// matchTicker scans all ticker patterns. Returns the highest-priority
// symbol, plus the second distinct symbol when the message is ambiguous.
func (e *Extractor) matchTicker(text string) (first, second string) {
	for _, c := range e.snap.Category(patterns.CategoryTicker) {
		if _, ok := c.Match(text); !ok {
			continue
		}
		switch {
		case first == "":
			first = c.Name
		case c.Name != first:
			return first, c.Name
		}
	}
	return first, ""
}

func (e *Extractor) matchPrice(cat patterns.Category, text string) *float64 {
	_, raw, ok := e.snap.FirstMatch(cat, text)
	if !ok {
		return nil
	}
	raw = strings.ReplaceAll(raw, ",", ".")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// An unparseable capture leaves the field empty rather than failing
		// the whole message.
		return nil
	}
	return &v
}

// resolveDirection picks the signal direction. Explicit long/short wins by
// pattern priority when both matched; exit comes next; a bare trading
// keyword falls back to long at reduced confidence.
func resolveDirection(longMatch, shortMatch *patterns.Compiled, hasLong, hasShort, hasExit, hasKeyword bool) (Direction, bool) {
	switch {
	case hasLong && hasShort:
		if shortMatch.Priority > longMatch.Priority {
			return DirectionShort, false
		}
		return DirectionLong, false
	case hasLong:
		return DirectionLong, false
	case hasShort:
		return DirectionShort, false
	case hasExit:
		return DirectionExit, false
	default:
		return DirectionLong, true
	}
}
