package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/indicators"
)

var t0 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func sig(id int64, ticker string, dir extractor.Direction, author string, conf float64, at time.Time) extractor.Signal {
	return extractor.Signal{ID: id, MessageID: id, Ticker: ticker, Direction: dir, Author: author, Confidence: conf, Timestamp: at}
}

func baseRule() Rule {
	return Rule{
		ID:              1,
		Name:            "two traders, ten minutes",
		MinTraders:      2,
		WindowMinutes:   10,
		StrictConsensus: true,
		IsActive:        true,
	}
}

func newTestDetector(rules ...Rule) *Detector {
	return NewDetector(rules, DefaultStrengthWeights(), nil)
}

func TestDetector_TwoTradersWithinWindow(t *testing.T) {
	d := newTestDetector(baseRule())
	ctx := context.Background()

	events, err := d.DetectBatch(ctx, []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.6, t0.Add(4*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Ticker != "SBER" || ev.Direction != extractor.DirectionLong {
		t.Errorf("event = %s/%s, want SBER/long", ev.Ticker, ev.Direction)
	}
	if ev.TraderCount != 2 || ev.SignalCount != 2 {
		t.Errorf("traders=%d signals=%d, want 2/2", ev.TraderCount, ev.SignalCount)
	}
	if !ev.DetectedAt.Equal(t0.Add(4 * time.Minute)) {
		t.Errorf("detected at %s, want the completing signal's timestamp", ev.DetectedAt)
	}
	if len(ev.SignalIDs) != 2 || ev.SignalIDs[0] != 1 || ev.SignalIDs[1] != 2 {
		t.Errorf("signal ids = %v, want [1 2]", ev.SignalIDs)
	}
	if ev.Status != EventActive {
		t.Errorf("status = %q, want active", ev.Status)
	}
	if ev.ID == "" {
		t.Error("event id must be assigned")
	}
}

func TestDetector_SameAuthorNeverAgreesWithItself(t *testing.T) {
	d := newTestDetector(baseRule())

	events, err := d.DetectBatch(context.Background(), []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionLong, "vasya", 0.9, t0.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("one author posting twice produced %d events, want 0", len(events))
	}
}

func TestDetector_AnonymousSignalsDoNotCountAsTraders(t *testing.T) {
	d := newTestDetector(baseRule())

	events, err := d.DetectBatch(context.Background(), []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionLong, "", 0.8, t0.Add(time.Minute)),
		sig(3, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 once the second named author arrives", len(events))
	}
	if events[0].TraderCount != 2 {
		t.Errorf("trader count = %d, want 2 (anonymous excluded)", events[0].TraderCount)
	}
	if events[0].SignalCount != 3 {
		t.Errorf("signal count = %d, want 3 (anonymous still contributes)", events[0].SignalCount)
	}
}

func TestDetector_StrictConsensusSplitsDirections(t *testing.T) {
	d := newTestDetector(baseRule())

	events, err := d.DetectBatch(context.Background(), []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionShort, "petya", 0.8, t0.Add(time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("strict rule emitted %d events for opposing directions, want 0", len(events))
	}
}

func TestDetector_NonStrictFoldsDirections(t *testing.T) {
	rule := baseRule()
	rule.StrictConsensus = false
	d := newTestDetector(rule)

	events, err := d.DetectBatch(context.Background(), []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(time.Minute)),
		sig(3, "SBER", extractor.DirectionShort, "kolya", 0.8, t0.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Direction != extractor.DirectionLong {
		t.Errorf("direction = %q, want the majority side long", events[0].Direction)
	}
}

func TestDetector_NonStrictTieResolvesLong(t *testing.T) {
	rule := baseRule()
	rule.StrictConsensus = false
	d := newTestDetector(rule)

	// short arrives first, so a tie must not fall back to arrival order
	events, err := d.DetectBatch(context.Background(), []extractor.Signal{
		sig(1, "SBER", extractor.DirectionShort, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Direction != extractor.DirectionLong {
		t.Errorf("direction = %q, want long on an even split", events[0].Direction)
	}
}

func TestDetector_EpisodeLatch(t *testing.T) {
	d := newTestDetector(baseRule())
	ctx := context.Background()

	events, err := d.DetectBatch(ctx, []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(2*time.Minute)),
		// Third trader joins an already-emitted episode: no second event.
		sig(3, "SBER", extractor.DirectionLong, "kolya", 0.8, t0.Add(4*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events within one episode, want 1", len(events))
	}

	// The window fully drains, then agreement re-forms: a new episode.
	events, err = d.DetectBatch(ctx, []extractor.Signal{
		sig(4, "SBER", extractor.DirectionLong, "vasya", 0.8, t0.Add(30*time.Minute)),
		sig(5, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(32*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after the window drained, want 1 new episode", len(events))
	}
}

func TestDetector_WindowEviction(t *testing.T) {
	d := newTestDetector(baseRule())
	ctx := context.Background()

	events, err := d.DetectBatch(ctx, []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		// Eleven minutes later: the first signal is already outside the
		// ten-minute window when this one arrives.
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(11*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events across an expired window, want 0", len(events))
	}

	events, err = d.Process(ctx, sig(3, "SBER", extractor.DirectionLong, "kolya", 0.8, t0.Add(13*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 from the two surviving signals", len(events))
	}
}

func TestDetector_OutOfOrderSignalFails(t *testing.T) {
	d := newTestDetector(baseRule())
	ctx := context.Background()

	if _, err := d.Process(ctx, sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0.Add(5*time.Minute))); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Process(ctx, sig(2, "SBER", extractor.DirectionLong, "petya", 0.8, t0)); err == nil {
		t.Fatal("expected error for a signal older than the window's last timestamp")
	}
}

func TestDetector_MinConfidenceChecksWeakestContributor(t *testing.T) {
	rule := baseRule()
	rule.MinConfidence = 0.6
	d := newTestDetector(rule)

	events, err := d.DetectBatch(context.Background(), []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.9, t0),
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.5, t0.Add(time.Minute)),
		sig(3, "SBER", extractor.DirectionLong, "kolya", 0.7, t0.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events with a 0.5-confidence contributor under a 0.6 floor, want 0", len(events))
	}
}

func TestDetector_StrengthGateAndMonotonicity(t *testing.T) {
	// Base 40 + confidence 20*0.5 = 50 for two traders; a strength floor of
	// 55 holds the emission back until a third trader lifts it to 62.
	rule := baseRule()
	rule.MinStrength = 55
	d := newTestDetector(rule)

	events, err := d.DetectBatch(context.Background(), []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.5, t0),
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.5, t0.Add(time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events below the strength floor, want 0", len(events))
	}

	events, err = d.Process(context.Background(), sig(3, "SBER", extractor.DirectionLong, "kolya", 0.5, t0.Add(2*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 once the third trader joins", len(events))
	}
	if got := events[0].Strength; got != 62 {
		t.Errorf("strength = %g, want 62 (40 base + 12 extra trader + 10 confidence)", got)
	}
}

func TestDetector_AvgEntryPrice(t *testing.T) {
	d := newTestDetector(baseRule())
	p1, p2 := 250.0, 254.0

	s1 := sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0)
	s1.TargetPrice = &p1
	s2 := sig(2, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(time.Minute))
	s2.TargetPrice = &p2
	events, err := d.DetectBatch(context.Background(), []extractor.Signal{s1, s2})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if got := events[0].AvgEntryPrice; got != 252 {
		t.Errorf("avg entry price = %g, want 252", got)
	}
}

func TestDetector_Filters(t *testing.T) {
	tickerRule := baseRule()
	tickerRule.ID = 2
	tickerRule.TickerFilter = []string{"GAZP"}

	dirRule := baseRule()
	dirRule.ID = 3
	dirRule.DirectionFilter = extractor.DirectionShort

	d := newTestDetector(tickerRule, dirRule)

	events, err := d.DetectBatch(context.Background(), []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0: neither rule's filters match SBER/long", len(events))
	}
}

type fixedSnapshots struct {
	snap *indicators.Snapshot
	ok   bool
}

func (f fixedSnapshots) Snapshot(_ context.Context, _ string, _ time.Time) (*indicators.Snapshot, bool) {
	return f.snap, f.ok
}

func TestDetector_IndicatorGate(t *testing.T) {
	rule := baseRule()
	rule.IndicatorConditions = IndicatorConditions{RSIState: indicators.RSIOversold}

	signals := []extractor.Signal{
		sig(1, "SBER", extractor.DirectionLong, "vasya", 0.8, t0),
		sig(2, "SBER", extractor.DirectionLong, "petya", 0.8, t0.Add(time.Minute)),
	}

	tests := []struct {
		name   string
		source IndicatorSource
		want   int
	}{
		{name: "matching snapshot", source: fixedSnapshots{snap: &indicators.Snapshot{RSIState: indicators.RSIOversold}, ok: true}, want: 1},
		{name: "mismatching snapshot", source: fixedSnapshots{snap: &indicators.Snapshot{RSIState: indicators.RSIOverbought}, ok: true}, want: 0},
		{name: "snapshot unavailable", source: fixedSnapshots{ok: false}, want: 0},
		{name: "no source configured", source: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector([]Rule{rule}, DefaultStrengthWeights(), tt.source)
			events, err := d.DetectBatch(context.Background(), signals)
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != tt.want {
				t.Errorf("got %d events, want %d", len(events), tt.want)
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	rules := []Rule{
		{ID: 1, Name: "valid", MinTraders: 2, WindowMinutes: 10, IsActive: true},
		{ID: 2, Name: "solo", MinTraders: 1, WindowMinutes: 10, IsActive: true},
		{ID: 3, Name: "no window", MinTraders: 3, WindowMinutes: 0, IsActive: true},
		{ID: 4, Name: "bad ranges", MinTraders: 2, WindowMinutes: 5, MinConfidence: 1.5, MinStrength: 120, IsActive: true},
		{ID: 5, Name: "inactive", MinTraders: 1, WindowMinutes: 0, IsActive: false},
	}

	accepted, rejected := LoadRules(rules)

	if len(accepted) != 1 || accepted[0].ID != 1 {
		t.Errorf("accepted = %v, want only rule 1", accepted)
	}
	if len(rejected) != 3 {
		t.Fatalf("got %d rejections, want 3 (inactive rules are skipped, not rejected)", len(rejected))
	}
	if len(rejected[2].Reasons) != 2 {
		t.Errorf("rule 4 rejected for %d reasons, want 2", len(rejected[2].Reasons))
	}
}
