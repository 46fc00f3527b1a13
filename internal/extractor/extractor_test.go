package extractor

import (
	"reflect"
	"testing"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/patterns"
)

func testSnapshot(t *testing.T) *patterns.Snapshot {
	t.Helper()
	snap, errs := patterns.CompileSnapshot(patterns.DefaultSet())
	if len(errs) != 0 {
		t.Fatalf("default pattern set must compile cleanly, got %v", errs)
	}
	return snap
}

func msgAt(text, author string, ts time.Time) Message {
	return Message{ID: 1, ChannelID: 10, Author: author, Text: text, ReceivedAt: ts, ParseState: StateUnparsed}
}

func TestExtract_RussianLongSignal(t *testing.T) {
	ext := New(testSnapshot(t), DefaultConfidenceWeights())
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	sig, fail := ext.Extract(msgAt("SBER лонг по 250, тейк 280, стоп 240", "vasya", ts))
	if fail != nil {
		t.Fatalf("expected signal, got failure %+v", fail)
	}

	if sig.Ticker != "SBER" {
		t.Errorf("ticker = %q, want SBER", sig.Ticker)
	}
	if sig.Direction != DirectionLong {
		t.Errorf("direction = %q, want long", sig.Direction)
	}
	if sig.TargetPrice == nil || *sig.TargetPrice != 250 {
		t.Errorf("target = %v, want 250", sig.TargetPrice)
	}
	if sig.TakePrice == nil || *sig.TakePrice != 280 {
		t.Errorf("take = %v, want 280", sig.TakePrice)
	}
	if sig.StopPrice == nil || *sig.StopPrice != 240 {
		t.Errorf("stop = %v, want 240", sig.StopPrice)
	}
	if sig.Author != "vasya" {
		t.Errorf("author = %q, want vasya", sig.Author)
	}
	if !sig.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %s, want %s", sig.Timestamp, ts)
	}
}

func TestExtract_Failures(t *testing.T) {
	ext := New(testSnapshot(t), DefaultConfidenceWeights())
	ts := time.Now()

	tests := []struct {
		name   string
		text   string
		reason FailureReason
	}{
		{name: "empty", text: "   ", reason: FailEmpty},
		{name: "small talk", text: "всем привет, как дела?", reason: FailNonTrading},
		{name: "keyword without ticker", text: "открыл сделку, вход по 100", reason: FailNonTrading},
		{name: "two tickers", text: "сбер лонг, газпром шорт", reason: FailAmbiguousTicker},
		{name: "ad spam", text: "РОЗЫГРЫШ! подпишись и получи сигналы по сберу", reason: FailGarbage},
		{name: "bare link", text: "https://t.me/some_channel", reason: FailGarbage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, fail := ext.Extract(msgAt(tt.text, "vasya", ts))
			if sig != nil {
				t.Fatalf("expected failure, got signal %+v", sig)
			}
			if fail.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", fail.Reason, tt.reason)
			}
		})
	}
}

func TestExtract_FailureState(t *testing.T) {
	garbage := &ParseFailure{Reason: FailGarbage}
	if garbage.State() != StateGarbage {
		t.Errorf("garbage failure state = %q, want %q", garbage.State(), StateGarbage)
	}
	failed := &ParseFailure{Reason: FailNonTrading}
	if failed.State() != StateFailed {
		t.Errorf("non_trading failure state = %q, want %q", failed.State(), StateFailed)
	}
}

func TestExtract_Directions(t *testing.T) {
	ext := New(testSnapshot(t), DefaultConfidenceWeights())
	ts := time.Now()

	tests := []struct {
		name string
		text string
		want Direction
	}{
		{name: "explicit short", text: "газпром шорт от 170", want: DirectionShort},
		{name: "exit operation", text: "фиксирую прибыль по сберу", want: DirectionExit},
		{name: "keyword fallback", text: "открываю позицию по сберу", want: DirectionLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, fail := ext.Extract(msgAt(tt.text, "a", ts))
			if fail != nil {
				t.Fatalf("expected signal, got failure %+v", fail)
			}
			if sig.Direction != tt.want {
				t.Errorf("direction = %q, want %q", sig.Direction, tt.want)
			}
		})
	}
}

func TestExtract_KeywordFallbackLowersConfidence(t *testing.T) {
	ext := New(testSnapshot(t), DefaultConfidenceWeights())
	ts := time.Now()

	explicit, fail := ext.Extract(msgAt("сбер лонг", "a", ts))
	if fail != nil {
		t.Fatalf("explicit: %+v", fail)
	}
	inferred, fail := ext.Extract(msgAt("вход в сбер", "a", ts))
	if fail != nil {
		t.Fatalf("inferred: %+v", fail)
	}

	if inferred.Confidence >= explicit.Confidence {
		t.Errorf("keyword-inferred confidence %g should be below explicit %g", inferred.Confidence, explicit.Confidence)
	}
}

func TestExtract_ConfidenceGrowsWithCorroboration(t *testing.T) {
	ext := New(testSnapshot(t), DefaultConfidenceWeights())
	ts := time.Now()

	bare, _ := ext.Extract(msgAt("сбер лонг", "", ts))
	priced, _ := ext.Extract(msgAt("сбер лонг по 250, стоп 240, тейк 280", "", ts))
	if bare == nil || priced == nil {
		t.Fatal("both messages must parse")
	}
	if priced.Confidence <= bare.Confidence {
		t.Errorf("more corroborating matches must not lower confidence: %g <= %g", priced.Confidence, bare.Confidence)
	}
	if priced.Confidence > 1.0 {
		t.Errorf("confidence %g above 1.0", priced.Confidence)
	}
}

func TestExtract_AuthorTagOverridesTransportAuthor(t *testing.T) {
	ext := New(testSnapshot(t), DefaultConfidenceWeights())

	sig, fail := ext.Extract(msgAt("сбер лонг #trader_petya", "channel_bot", time.Now()))
	if fail != nil {
		t.Fatalf("expected signal, got %+v", fail)
	}
	if sig.Author != "trader_petya" {
		t.Errorf("author = %q, want trader_petya", sig.Author)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	ext := New(testSnapshot(t), DefaultConfidenceWeights())
	msg := msgAt("SBER лонг по 250, тейк 280, стоп 240", "vasya", time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC))

	first, failFirst := ext.Extract(msg)
	second, failSecond := ext.Extract(msg)

	if failFirst != nil || failSecond != nil {
		t.Fatalf("unexpected failures: %+v %+v", failFirst, failSecond)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-extraction differs:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestCompileSnapshot_BadPatternIsReportedNotFatal(t *testing.T) {
	set := []patterns.Pattern{
		{ID: 1, Name: "ok", Category: patterns.CategoryTicker, Expression: `(?i)\bsber\b`, Priority: 10, IsActive: true},
		{ID: 2, Name: "broken", Category: patterns.CategoryLong, Expression: `(unclosed`, Priority: 10, IsActive: true},
	}

	snap, errs := patterns.CompileSnapshot(set)
	if len(errs) != 1 {
		t.Fatalf("want exactly one compile error, got %v", errs)
	}
	if errs[0].PatternID != 2 {
		t.Errorf("compile error attributed to pattern %d, want 2", errs[0].PatternID)
	}
	if snap.Len() != 1 {
		t.Errorf("snapshot holds %d patterns, want the surviving 1", snap.Len())
	}
}
