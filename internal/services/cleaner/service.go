// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cleaner periodically inspects the download queue of each
// configured instance, classifies queued items against the instance's
// rule set, tracks repeat-offense strikes, and removes offending items
// within per-run safety limits.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/sanitarr/internal/arr"
	"github.com/autobrr/sanitarr/internal/models"
)

var (
	// ErrRunInProgress is returned when a trigger arrives while the
	// instance is already mid-run; the later trigger is skipped, never
	// queued.
	ErrRunInProgress = errors.New("cleaner: run already in progress for instance")
	// ErrNotStarted is returned for manual triggers before Start.
	ErrNotStarted = errors.New("cleaner: service not started")
)

// QueueProvider is the external collaborator giving access to each
// instance's queue-management capability. Each call may fail
// independently.
type QueueProvider interface {
	ListQueue(ctx context.Context, instance *models.Instance) ([]arr.QueueItem, error)
	RemoveItem(ctx context.Context, instance *models.Instance, item arr.QueueItem, removeFromClient, blocklist bool) error
	TriggerSearch(ctx context.Context, instance *models.Instance, item arr.QueueItem) error
	ChangeCategory(ctx context.Context, instance *models.Instance, item arr.QueueItem, category string) error
}

// Metrics receives engine observations. Implemented by the prometheus
// collector; a nil Metrics is valid and drops everything.
type Metrics interface {
	ObserveRun(instanceID int, status string, duration time.Duration)
	AddRemovals(instanceID int, rule string, count int)
	SetInstanceHealthy(instanceID int, healthy bool)
}

// Config tunes the engine; per-instance behavior lives in the stored
// CleanerConfig.
type Config struct {
	ClassifyWorkers     int           // bound on parallel item classification per run
	ActionDelay         time.Duration // pacing between executor calls on one instance
	SyncInterval        time.Duration // how often the runner registry re-reads the instance list
	ShutdownGrace       time.Duration // how long Stop waits for in-flight runs
	UnhealthyAfter      int           // consecutive failures before an instance is unhealthy
	RunLogRetentionDays int
}

func DefaultConfig() Config {
	return Config{
		ClassifyWorkers:     4,
		ActionDelay:         250 * time.Millisecond,
		SyncInterval:        30 * time.Second,
		ShutdownGrace:       30 * time.Second,
		UnhealthyAfter:      3,
		RunLogRetentionDays: 30,
	}
}

// Service owns the per-instance timers and drives runs end to end:
// fetch queue, whitelist, classify, strike-update, safety-filter,
// execute, log.
type Service struct {
	cfg           Config
	instanceStore *models.InstanceStore
	configStore   *models.CleanerConfigStore
	runLogStore   *models.RunLogStore
	strikes       *strikeKeeper
	provider      QueueProvider
	metrics       Metrics

	mu      sync.Mutex
	runners map[int]*instanceRunner
	health  map[int]*instanceHealth
	started bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

type instanceRunner struct {
	instanceID int
	cancel     context.CancelFunc
	// scheduled is true while a runLoop goroutine owns this runner.
	// Guarded by Service.mu.
	scheduled bool
	running   bool
	runningMu sync.Mutex
}

// tryAcquire marks the runner busy; a false return means a run is
// already in flight.
func (r *instanceRunner) tryAcquire() bool {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *instanceRunner) release() {
	r.runningMu.Lock()
	r.running = false
	r.runningMu.Unlock()
}

func (r *instanceRunner) isRunning() bool {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	return r.running
}

type instanceHealth struct {
	consecutiveFailures int
	lastError           string
	lastStatus          string
	lastRunAt           time.Time
}

func NewService(cfg Config, instanceStore *models.InstanceStore, configStore *models.CleanerConfigStore, runLogStore *models.RunLogStore, strikeStore *models.StrikeStore, provider QueueProvider, metrics Metrics) *Service {
	def := DefaultConfig()
	if cfg.ClassifyWorkers <= 0 {
		cfg.ClassifyWorkers = def.ClassifyWorkers
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = def.UnhealthyAfter
	}
	if cfg.RunLogRetentionDays <= 0 {
		cfg.RunLogRetentionDays = def.RunLogRetentionDays
	}

	return &Service{
		cfg:           cfg,
		instanceStore: instanceStore,
		configStore:   configStore,
		runLogStore:   runLogStore,
		strikes:       newStrikeKeeper(strikeStore),
		provider:      provider,
		metrics:       metrics,
		runners:       make(map[int]*instanceRunner),
		health:        make(map[int]*instanceHealth),
		now:           time.Now,
	}
}

// Start brings up the runner registry and begins scheduling. Safe to call
// once; Stop tears everything down.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.supervise()
}

// Stop cancels all timers and waits up to the shutdown grace period for
// in-flight runs to reach a terminal state. After Stop returns no timer
// fires again.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("cleaner: all runners stopped")
	case <-time.After(s.cfg.ShutdownGrace):
		log.Warn().Msg("cleaner: shutdown grace period elapsed with runs still in flight")
	}
}

// supervise keeps the runner registry in sync with the instance list and
// handles run log retention.
func (s *Service) supervise() {
	defer s.wg.Done()

	s.syncRunners()

	if pruned, err := s.runLogStore.Prune(s.baseCtx, s.cfg.RunLogRetentionDays); err != nil {
		log.Warn().Err(err).Msg("cleaner: failed to prune old run logs")
	} else if pruned > 0 {
		log.Info().Int64("count", pruned).Msg("cleaner: pruned old run logs")
	}

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	lastPrune := s.now()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.syncRunners()

			if s.now().Sub(lastPrune) > time.Hour {
				if _, err := s.runLogStore.Prune(s.baseCtx, s.cfg.RunLogRetentionDays); err != nil {
					log.Warn().Err(err).Msg("cleaner: failed to prune old run logs")
				}
				lastPrune = s.now()
			}
		}
	}
}

// syncRunners starts a runner for every enabled queue-capable instance
// and cancels runners whose instance disappeared or was disabled.
func (s *Service) syncRunners() {
	instances, err := s.instanceStore.ListEnabled(s.baseCtx)
	if err != nil {
		log.Error().Err(err).Msg("cleaner: failed to list instances")
		return
	}

	want := make(map[int]struct{}, len(instances))
	for _, instance := range instances {
		if instance.Type == models.InstanceTypeProwlarr {
			// Indexer managers have no download queue to clean.
			continue
		}
		want[instance.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, runner := range s.runners {
		if _, ok := want[id]; ok {
			continue
		}
		if runner.scheduled {
			runner.cancel()
			runner.cancel = func() {}
			runner.scheduled = false
			log.Debug().Int("instanceID", id).Msg("cleaner: runner unscheduled")
		}
		// The map entry stays: it is the per-instance overlap guard, and a
		// manual trigger may be mid-run or about to start one.
	}

	for id := range want {
		runner, ok := s.runners[id]
		if ok && runner.scheduled {
			continue
		}
		if !ok {
			// A manual trigger may have registered the runner first; reuse
			// it so its overlap guard carries over.
			runner = &instanceRunner{instanceID: id}
			s.runners[id] = runner
		}

		runnerCtx, cancel := context.WithCancel(s.baseCtx)
		runner.cancel = cancel
		runner.scheduled = true

		s.wg.Add(1)
		go s.runLoop(runnerCtx, runner)
		log.Debug().Int("instanceID", id).Msg("cleaner: runner started")
	}
}

// runLoop drives one instance: fire when the configured interval since
// the last run has elapsed, re-reading the interval each wakeup so config
// changes apply to the next cycle.
func (s *Service) runLoop(ctx context.Context, runner *instanceRunner) {
	defer s.wg.Done()

	ran := false
	for {
		interval, due := s.nextRun(ctx, runner.instanceID)

		// Fire immediately only on the first wakeup with a stale or
		// missing last run; afterwards always honor the interval, even
		// when a failed run couldn't record its timestamp.
		wait := interval
		if due && !ran {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.run(ctx, runner, false); err != nil && !errors.Is(err, ErrRunInProgress) {
			log.Error().Err(err).Int("instanceID", runner.instanceID).Msg("cleaner: run failed")
		}
		ran = true
	}
}

// nextRun returns the configured interval and whether a run is already
// due (process start with a stale or missing last run).
func (s *Service) nextRun(ctx context.Context, instanceID int) (time.Duration, bool) {
	cfg, err := s.configStore.Get(ctx, instanceID)
	if err != nil {
		log.Warn().Err(err).Int("instanceID", instanceID).Msg("cleaner: failed to load config for scheduling")
		return time.Minute, false
	}

	interval := time.Duration(cfg.IntervalMins) * time.Minute
	if !cfg.Enabled {
		return interval, false
	}
	if cfg.LastRunAt == nil {
		return interval, true
	}
	return interval, s.now().Sub(*cfg.LastRunAt) >= interval
}

// RunNow triggers a run outside the schedule. The run executes on the
// service's base context so an HTTP disconnect doesn't abort it.
func (s *Service) RunNow(instanceID int) (*models.RunLog, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	runner, ok := s.runners[instanceID]
	if !ok {
		// Instances the registry hasn't picked up yet (just created, or
		// disabled) still share one runner per id, so concurrent triggers
		// can never overlap.
		runner = &instanceRunner{instanceID: instanceID, cancel: func() {}}
		s.runners[instanceID] = runner
	}
	ctx := s.baseCtx
	s.mu.Unlock()

	return s.run(ctx, runner, true)
}

// Health is the scheduler snapshot exposed to the hosting application.
type Health struct {
	Running   bool             `json:"running"`
	Healthy   bool             `json:"healthy"`
	LastError string           `json:"lastError,omitempty"`
	Instances []InstanceHealth `json:"instances"`
}

type InstanceHealth struct {
	InstanceID          int        `json:"instanceId"`
	Healthy             bool       `json:"healthy"`
	Running             bool       `json:"running"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastStatus          string     `json:"lastStatus,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastRunAt           *time.Time `json:"lastRunAt,omitempty"`
}

// Health reports whether the scheduler is running and whether any
// instance has failed repeatedly.
func (s *Service) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := Health{Running: s.started, Healthy: true}

	for id, h := range s.health {
		ih := InstanceHealth{
			InstanceID:          id,
			Healthy:             h.consecutiveFailures < s.cfg.UnhealthyAfter,
			ConsecutiveFailures: h.consecutiveFailures,
			LastStatus:          h.lastStatus,
			LastError:           h.lastError,
		}
		if runner, ok := s.runners[id]; ok {
			ih.Running = runner.isRunning()
		}
		if !h.lastRunAt.IsZero() {
			t := h.lastRunAt
			ih.LastRunAt = &t
		}
		if !ih.Healthy {
			health.Healthy = false
			health.LastError = h.lastError
		}
		health.Instances = append(health.Instances, ih)
	}

	return health
}

func (s *Service) recordHealth(instanceID int, status string, errMsg string) {
	s.mu.Lock()
	h, ok := s.health[instanceID]
	if !ok {
		h = &instanceHealth{}
		s.health[instanceID] = h
	}
	h.lastStatus = status
	h.lastRunAt = s.now()
	if status == models.RunStatusError {
		h.consecutiveFailures++
		h.lastError = errMsg
	} else if status != models.RunStatusSkipped {
		h.consecutiveFailures = 0
		h.lastError = ""
	}
	healthy := h.consecutiveFailures < s.cfg.UnhealthyAfter
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetInstanceHealthy(instanceID, healthy)
	}
}

// run drives one end-to-end cleaning run for an instance.
func (s *Service) run(ctx context.Context, runner *instanceRunner, manual bool) (*models.RunLog, error) {
	if !runner.tryAcquire() {
		log.Info().Int("instanceID", runner.instanceID).Bool("manual", manual).Msg("cleaner: run skipped, already in progress")
		return nil, ErrRunInProgress
	}
	defer runner.release()

	started := s.now()
	instanceID := runner.instanceID

	instance, err := s.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %d: %w", instanceID, err)
	}

	// Config is read once per run; a concurrent update applies to the
	// next run, never retroactively.
	cfg, err := s.configStore.Get(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cleaner config for instance %d: %w", instanceID, err)
	}

	if !instance.Enabled || !cfg.Enabled || instance.Type == models.InstanceTypeProwlarr {
		reason := "cleaner disabled for instance"
		if !instance.Enabled {
			reason = "instance disabled"
		} else if instance.Type == models.InstanceTypeProwlarr {
			reason = "instance type has no download queue"
		}
		return s.finalizeRun(ctx, cfg, &models.RunLog{
			InstanceID: instanceID,
			Status:     models.RunStatusSkipped,
			IsDryRun:   cfg.DryRunMode,
			StartedAt:  started,
			FinishedAt: s.now(),
			Error:      reason,
		}, false)
	}

	log.Debug().Int("instanceID", instanceID).Bool("manual", manual).Bool("dryRun", cfg.DryRunMode).Msg("cleaner: run started")

	queue, err := s.provider.ListQueue(ctx, instance)
	if err != nil {
		log.Error().Err(err).Int("instanceID", instanceID).Msg("cleaner: failed to fetch queue")
		return s.finalizeRun(ctx, cfg, &models.RunLog{
			InstanceID: instanceID,
			Status:     models.RunStatusError,
			IsDryRun:   cfg.DryRunMode,
			StartedAt:  started,
			FinishedAt: s.now(),
			Error:      fmt.Sprintf("failed to fetch queue: %s", err),
		}, true)
	}

	// Downloads that left the queue since the last run shed their
	// strike records.
	activeIDs := make([]string, 0, len(queue))
	for _, item := range queue {
		activeIDs = append(activeIDs, item.DownloadID)
	}
	if _, err := s.strikes.store.PruneDeparted(ctx, instanceID, activeIDs); err != nil {
		log.Warn().Err(err).Int("instanceID", instanceID).Msg("cleaner: failed to prune departed strikes")
	}

	outcome := s.classifyQueue(ctx, instance, cfg, queue, started)

	approved, underage, capped := applySafetyLimits(outcome.candidates, cfg, started)
	for _, c := range underage {
		outcome.items = append(outcome.items, models.RunItem{
			DownloadID:  c.item.DownloadID,
			Title:       c.item.Title,
			Rule:        c.verdict.Rule,
			Reason:      "queue age below minimum",
			Outcome:     models.ItemOutcomeSkipped,
			StrikeCount: c.strikeCount,
		})
	}
	for _, c := range capped {
		outcome.items = append(outcome.items, models.RunItem{
			DownloadID:  c.item.DownloadID,
			Title:       c.item.Title,
			Rule:        c.verdict.Rule,
			Reason:      "removal cap reached",
			Outcome:     models.ItemOutcomeSkipped,
			StrikeCount: c.strikeCount,
		})
	}

	exec := &executor{provider: s.provider, delay: s.cfg.ActionDelay}
	execResult := exec.execute(ctx, instance, cfg, approved)

	for _, id := range execResult.removedIDs {
		if err := s.strikes.clear(ctx, instanceID, id); err != nil {
			log.Warn().Err(err).Int("instanceID", instanceID).Str("downloadID", id).Msg("cleaner: failed to clear strikes after removal")
		}
	}

	items := append(outcome.items, execResult.items...)

	run := &models.RunLog{
		InstanceID: instanceID,
		IsDryRun:   cfg.DryRunMode,
		StartedAt:  started,
		FinishedAt: s.now(),
		Items:      items,
	}
	for _, item := range items {
		switch item.Outcome {
		case models.ItemOutcomeCleaned:
			run.CleanedCount++
		case models.ItemOutcomeSkipped:
			run.SkippedCount++
		case models.ItemOutcomeWarned:
			run.WarnedCount++
		}
	}

	switch {
	case execResult.failed > 0 && execResult.succeeded == 0 && len(approved) > 0:
		run.Status = models.RunStatusError
		run.Error = "all removal actions failed"
	case execResult.failed > 0:
		run.Status = models.RunStatusPartial
	case ctx.Err() != nil && len(approved) > execResult.succeeded:
		run.Status = models.RunStatusPartial
		run.Error = "run aborted during shutdown"
	default:
		run.Status = models.RunStatusCompleted
	}

	// Simulated removals never reach the removal counters.
	if s.metrics != nil && !cfg.DryRunMode {
		for rule, count := range execResult.removedByRule {
			s.metrics.AddRemovals(instanceID, rule, count)
		}
	}

	return s.finalizeRun(ctx, cfg, run, true)
}

// finalizeRun stamps the duration, persists the run log atomically, and
// updates health, metrics, and run bookkeeping.
func (s *Service) finalizeRun(ctx context.Context, cfg *models.CleanerConfig, run *models.RunLog, recordRun bool) (*models.RunLog, error) {
	run.DurationMS = run.FinishedAt.Sub(run.StartedAt).Milliseconds()

	// Persist even when the run context was cancelled; the log write is
	// the last step of reaching a terminal state.
	persistCtx := ctx
	if persistCtx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	id, err := s.runLogStore.Append(persistCtx, run)
	if err != nil {
		log.Error().Err(err).Int("instanceID", run.InstanceID).Msg("cleaner: failed to persist run log")
	} else {
		run.ID = id
	}

	if recordRun && run.Status != models.RunStatusSkipped {
		removals := 0
		if !run.IsDryRun {
			removals = run.CleanedCount
		}
		if err := s.configStore.RecordRun(persistCtx, run.InstanceID, run.FinishedAt, removals); err != nil {
			log.Warn().Err(err).Int("instanceID", run.InstanceID).Msg("cleaner: failed to record run bookkeeping")
		}
	}

	s.recordHealth(run.InstanceID, run.Status, run.Error)

	if s.metrics != nil {
		s.metrics.ObserveRun(run.InstanceID, run.Status, time.Duration(run.DurationMS)*time.Millisecond)
	}

	log.Info().
		Int("instanceID", run.InstanceID).
		Str("status", run.Status).
		Bool("dryRun", run.IsDryRun).
		Int("cleaned", run.CleanedCount).
		Int("skipped", run.SkippedCount).
		Int("warned", run.WarnedCount).
		Int64("durationMS", run.DurationMS).
		Msg("cleaner: run finished")

	return run, nil
}

// classificationOutcome collects what classification decided before the
// safety governor trims the removal set.
type classificationOutcome struct {
	items      []models.RunItem
	candidates []removalCandidate
}

// classifyQueue runs whitelist and rule evaluation over the snapshot with
// a bounded worker pool. Strike updates for the same download id are
// serialized by the strike keeper.
func (s *Service) classifyQueue(ctx context.Context, instance *models.Instance, cfg *models.CleanerConfig, queue []arr.QueueItem, now time.Time) classificationOutcome {
	matcher := newWhitelistMatcher(cfg)

	var mu sync.Mutex
	var outcome classificationOutcome

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ClassifyWorkers)

	for _, item := range queue {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			if matcher.Exempt(item) {
				mu.Lock()
				outcome.items = append(outcome.items, models.RunItem{
					DownloadID: item.DownloadID,
					Title:      item.Title,
					Reason:     "whitelisted",
					Outcome:    models.ItemOutcomeSkipped,
				})
				mu.Unlock()
				return nil
			}

			verdict := classify(item, cfg, now)
			if verdict == nil {
				return nil
			}

			if cfg.StrikeSystemEnabled && strikeEligible(verdict.Rule) {
				rec, escalate, err := s.strikes.strike(gctx, instance.ID, item.DownloadID, cfg, verdict, now)
				if err != nil {
					log.Warn().Err(err).Int("instanceID", instance.ID).Str("downloadID", item.DownloadID).Msg("cleaner: failed to record strike")
					return nil
				}

				mu.Lock()
				if escalate {
					outcome.candidates = append(outcome.candidates, removalCandidate{
						item:          item,
						verdict:       *verdict,
						strikeCount:   rec.StrikeCount,
						firstStrikeAt: rec.FirstStrikeAt,
					})
				} else {
					outcome.items = append(outcome.items, models.RunItem{
						DownloadID:  item.DownloadID,
						Title:       item.Title,
						Rule:        verdict.Rule,
						Reason:      fmt.Sprintf("%s (strike %d of %d)", verdict.Reason, rec.StrikeCount, cfg.MaxStrikes),
						Outcome:     models.ItemOutcomeWarned,
						StrikeCount: rec.StrikeCount,
					})
				}
				mu.Unlock()
				return nil
			}

			// Terminal rule families, or strike system disabled: remove
			// on first match. Existing strike state still informs the
			// governor's ordering.
			rec, err := s.strikes.current(gctx, instance.ID, item.DownloadID, cfg, now)
			if err != nil {
				log.Warn().Err(err).Int("instanceID", instance.ID).Str("downloadID", item.DownloadID).Msg("cleaner: failed to read strikes")
				rec = &models.StrikeRecord{}
			}

			mu.Lock()
			outcome.candidates = append(outcome.candidates, removalCandidate{
				item:          item,
				verdict:       *verdict,
				strikeCount:   rec.StrikeCount,
				firstStrikeAt: rec.FirstStrikeAt,
			})
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return outcome
}
