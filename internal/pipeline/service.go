// Package pipeline orchestrates the extraction, consensus and backtest
// stages over the repositories: it feeds stored messages through the
// extractor, streams stored signals through the consensus detector and
// replays stored events through the simulator.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/backtest"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/consensus"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/database"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/events"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/notification"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/patterns"
)

// Service wires the pure pipeline stages to storage and the event bus
type Service struct {
	repo     *database.Repository
	bus      *events.Bus
	notifier *notification.Manager
	bars     backtest.BarSource
	source   consensus.IndicatorSource
	log      zerolog.Logger

	weights  extractor.ConfidenceWeights
	strength consensus.StrengthWeights

	mu        sync.Mutex
	snap      *patterns.Snapshot
	detector  *consensus.Detector
	watermark time.Time
}

// New creates the pipeline service. source may be nil when no rule uses
// indicator conditions.
func New(repo *database.Repository, bus *events.Bus, notifier *notification.Manager,
	bars backtest.BarSource, source consensus.IndicatorSource, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		bus:      bus,
		notifier: notifier,
		bars:     bars,
		source:   source,
		log:      logger.With().Str("component", "pipeline").Logger(),
		weights:  extractor.DefaultConfidenceWeights(),
		strength: consensus.DefaultStrengthWeights(),
		// Live detection starts at process start; older signals are covered
		// by explicit replays.
		watermark: time.Now(),
	}
}

// ReloadPatterns recompiles the active pattern set. Per-pattern compile
// errors are reported and logged; the surviving patterns keep working.
func (s *Service) ReloadPatterns(ctx context.Context) ([]patterns.CompileError, error) {
	active, err := s.repo.ListActivePatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading patterns: %w", err)
	}

	snap, compileErrs := patterns.CompileSnapshot(active)
	for _, ce := range compileErrs {
		s.log.Warn().Int64("pattern_id", ce.PatternID).Str("name", ce.Name).Str("reason", ce.Reason).
			Msg("pattern failed to compile")
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.bus.Publish(events.Event{
		Type: events.EventPatternsReloaded,
		Data: map[string]any{"patterns": snap.Len(), "compile_errors": len(compileErrs)},
	})
	s.log.Info().Int("patterns", snap.Len()).Int("compile_errors", len(compileErrs)).Msg("pattern snapshot reloaded")
	return compileErrs, nil
}

// ReloadRules revalidates the stored rule set and resets detection state.
// Rejected rules are reported; detection continues on the valid ones.
func (s *Service) ReloadRules(ctx context.Context) ([]consensus.RuleRejected, error) {
	stored, err := s.repo.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading rules: %w", err)
	}

	accepted, rejected := consensus.LoadRules(stored)
	for _, rej := range rejected {
		s.log.Warn().Int64("rule_id", rej.RuleID).Strs("reasons", rej.Reasons).Msg("rule rejected")
	}

	// Window state resets with the rule set; the watermark survives so a
	// reload never replays already-persisted history.
	s.mu.Lock()
	s.detector = consensus.NewDetector(accepted, s.strength, s.source)
	s.mu.Unlock()

	s.log.Info().Int("rules", len(accepted)).Int("rejected", len(rejected)).Msg("rule set reloaded")
	return rejected, nil
}

// ParseStats summarizes one extraction batch
type ParseStats struct {
	Processed int `json:"processed"`
	Parsed    int `json:"parsed"`
	Failed    int `json:"failed"`
	Garbage   int `json:"garbage"`
}

// ParseUnparsed extracts signals from up to limit unparsed messages. One
// bad message never aborts the batch.
func (s *Service) ParseUnparsed(ctx context.Context, limit int) (ParseStats, error) {
	var stats ParseStats

	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()
	if snap == nil {
		if _, err := s.ReloadPatterns(ctx); err != nil {
			return stats, err
		}
		s.mu.Lock()
		snap = s.snap
		s.mu.Unlock()
	}

	messages, err := s.repo.GetUnparsedMessages(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("pipeline: loading unparsed messages: %w", err)
	}

	ext := extractor.New(snap, s.weights)
	for _, msg := range messages {
		stats.Processed++

		sig, fail := ext.Extract(msg)
		if fail != nil {
			if fail.Reason == extractor.FailGarbage {
				stats.Garbage++
			} else {
				stats.Failed++
			}
			if err := s.repo.SetParseState(ctx, msg.ID, fail.State()); err != nil {
				return stats, fmt.Errorf("pipeline: marking message %d: %w", msg.ID, err)
			}
			s.bus.Publish(events.Event{
				Type: events.EventParseFailed,
				Data: map[string]any{"message_id": msg.ID, "reason": string(fail.Reason)},
			})
			continue
		}

		if err := s.repo.CreateSignal(ctx, sig); err != nil {
			return stats, fmt.Errorf("pipeline: storing signal for message %d: %w", msg.ID, err)
		}
		if err := s.repo.SetParseState(ctx, msg.ID, extractor.StateParsed); err != nil {
			return stats, fmt.Errorf("pipeline: marking message %d: %w", msg.ID, err)
		}

		stats.Parsed++
		s.bus.PublishSignalExtracted(sig.ID, sig.MessageID, sig.Ticker, string(sig.Direction), sig.Confidence)
	}

	if stats.Processed > 0 {
		s.log.Info().Int("processed", stats.Processed).Int("parsed", stats.Parsed).
			Int("failed", stats.Failed).Int("garbage", stats.Garbage).Msg("extraction batch done")
	}
	return stats, nil
}

// DetectNew streams signals newer than the watermark through the detector
// and persists everything it emits. Signals are replayed in timestamp
// order, the order the detector requires.
func (s *Service) DetectNew(ctx context.Context) ([]consensus.Event, error) {
	s.mu.Lock()
	if s.detector == nil {
		s.mu.Unlock()
		if _, err := s.ReloadRules(ctx); err != nil {
			return nil, err
		}
		s.mu.Lock()
	}
	detector := s.detector
	since := s.watermark
	s.mu.Unlock()

	signals, err := s.repo.GetSignalsInRange(ctx, since.Add(time.Nanosecond), time.Now().Add(time.Hour))
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading signals: %w", err)
	}
	if len(signals) == 0 {
		return nil, nil
	}

	detected, err := detector.DetectBatch(ctx, signals)
	if err != nil {
		s.reportError("consensus", err)
		return detected, fmt.Errorf("pipeline: detection: %w", err)
	}

	for i := range detected {
		ev := &detected[i]
		if err := s.repo.CreateEvent(ctx, ev); err != nil {
			return detected, fmt.Errorf("pipeline: storing event %s: %w", ev.ID, err)
		}
		s.bus.PublishConsensusDetected(ev.ID, ev.Ticker, string(ev.Direction), ev.TraderCount, ev.Strength)
		if s.notifier != nil {
			_ = s.notifier.SendConsensus(ev.Ticker, string(ev.Direction), ev.TraderCount, ev.Strength, ev.AvgEntryPrice)
		}
	}

	s.mu.Lock()
	s.watermark = signals[len(signals)-1].Timestamp
	s.mu.Unlock()

	if len(detected) > 0 {
		s.log.Info().Int("events", len(detected)).Msg("consensus events detected")
	}
	return detected, nil
}

// RunBacktest executes a stored backtest run end to end
func (s *Service) RunBacktest(ctx context.Context, params backtest.Params) (*database.BacktestRun, *backtest.Result, error) {
	run, err := s.repo.CreateBacktestRun(ctx, params)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: creating run: %w", err)
	}
	if err := s.repo.MarkRunRunning(ctx, run.ID); err != nil {
		return run, nil, fmt.Errorf("pipeline: starting run %d: %w", run.ID, err)
	}

	s.bus.Publish(events.Event{
		Type: events.EventBacktestStarted,
		Data: map[string]any{"run_id": run.ID},
	})

	stored, err := s.repo.ListEvents(ctx, database.EventFilter{
		RuleID: params.RuleID,
		From:   params.From,
		To:     params.To,
	})
	if err != nil {
		_ = s.repo.MarkRunFailed(ctx, run.ID, err)
		s.reportError("backtest", err)
		return run, nil, fmt.Errorf("pipeline: loading events for run %d: %w", run.ID, err)
	}

	result, err := backtest.NewSimulator(s.bars).Run(ctx, params, stored)
	if err != nil {
		_ = s.repo.MarkRunFailed(ctx, run.ID, err)
		s.reportError("backtest", err)
		return run, nil, fmt.Errorf("pipeline: run %d: %w", run.ID, err)
	}

	if err := s.repo.SaveRunResult(ctx, run.ID, result); err != nil {
		return run, result, fmt.Errorf("pipeline: saving run %d: %w", run.ID, err)
	}

	s.bus.PublishBacktestFinished(run.ID, result.TotalTrades, result.WinRate, result.TotalReturn)
	if s.notifier != nil {
		_ = s.notifier.SendBacktestFinished(run.ID, result.TotalTrades, result.WinRate, result.TotalReturn)
	}

	s.log.Info().Int64("run_id", run.ID).Int("trades", result.TotalTrades).
		Float64("win_rate", result.WinRate).Msg("backtest finished")
	return run, result, nil
}

// PruneBacktestRuns deletes finished runs older than the retention window,
// trades included
func (s *Service) PruneBacktestRuns(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.PruneOldRuns(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("pipeline: pruning runs: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("pruned", n).Msg("old backtest runs pruned")
	}
	return n, nil
}

// reportError surfaces a stage failure on the event bus and, when a
// notifier is configured, to its channels. Logging stays with the caller.
func (s *Service) reportError(component string, err error) {
	s.bus.PublishError(component, err.Error())
	if s.notifier != nil {
		_ = s.notifier.SendError(component, err.Error())
	}
}

// CloseStaleEvents closes active events whose window has long passed
func (s *Service) CloseStaleEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.repo.CloseStaleEvents(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("pipeline: closing stale events: %w", err)
	}
	if n > 0 {
		s.bus.Publish(events.Event{
			Type: events.EventConsensusClosed,
			Data: map[string]any{"closed": n},
		})
		s.log.Info().Int64("closed", n).Msg("stale events closed")
	}
	return n, nil
}
