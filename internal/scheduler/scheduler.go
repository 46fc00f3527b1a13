// Package scheduler runs the periodic pipeline jobs: extraction sweeps,
// consensus detection over fresh signals and stale-event cleanup.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/pipeline"
)

// Config tunes job cadence
type Config struct {
	ParseSpec    string        // cron spec for the extraction sweep
	DetectSpec   string        // cron spec for consensus detection
	CleanupSpec  string        // cron spec for stale-event closing
	ParseBatch   int           // messages per extraction sweep
	EventMaxAge  time.Duration // active events older than this get closed
	RunRetention time.Duration // finished backtest runs older than this get pruned
	ReloadSpec   string        // cron spec for pattern/rule reload
}

// DefaultConfig returns the stock cadence
func DefaultConfig() Config {
	return Config{
		ParseSpec:    "@every 1m",
		DetectSpec:   "@every 1m",
		CleanupSpec:  "@every 10m",
		ReloadSpec:   "@every 5m",
		ParseBatch:   500,
		EventMaxAge:  24 * time.Hour,
		RunRetention: 30 * 24 * time.Hour,
	}
}

// Scheduler drives the pipeline service on a cron cadence
type Scheduler struct {
	cron    *cron.Cron
	service *pipeline.Service
	cfg     Config
	log     zerolog.Logger
}

// New creates a scheduler over the pipeline service
func New(service *pipeline.Service, cfg Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		service: service,
		cfg:     cfg,
		log:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the jobs and launches the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		name string
		run  func()
	}{
		{s.cfg.ParseSpec, "parse", func() {
			if _, err := s.service.ParseUnparsed(ctx, s.cfg.ParseBatch); err != nil {
				s.log.Error().Err(err).Msg("extraction sweep failed")
			}
		}},
		{s.cfg.DetectSpec, "detect", func() {
			if _, err := s.service.DetectNew(ctx); err != nil {
				s.log.Error().Err(err).Msg("detection sweep failed")
			}
		}},
		{s.cfg.CleanupSpec, "cleanup", func() {
			if _, err := s.service.CloseStaleEvents(ctx, s.cfg.EventMaxAge); err != nil {
				s.log.Error().Err(err).Msg("stale-event cleanup failed")
			}
			if _, err := s.service.PruneBacktestRuns(ctx, s.cfg.RunRetention); err != nil {
				s.log.Error().Err(err).Msg("backtest-run pruning failed")
			}
		}},
		{s.cfg.ReloadSpec, "reload", func() {
			if _, err := s.service.ReloadPatterns(ctx); err != nil {
				s.log.Error().Err(err).Msg("pattern reload failed")
			}
			if _, err := s.service.ReloadRules(ctx); err != nil {
				s.log.Error().Err(err).Msg("rule reload failed")
			}
		}},
	}

	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return err
		}
		s.log.Info().Str("job", job.name).Str("spec", job.spec).Msg("job registered")
	}

	s.cron.Start()
	s.log.Info().Msg("scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for running jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}
