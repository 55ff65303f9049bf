package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"viewpulse/internal/alerting"
	"viewpulse/internal/logger"
	"viewpulse/internal/metrics"
	"viewpulse/internal/model"
	"viewpulse/internal/monitor"
	"viewpulse/internal/source"
	"viewpulse/internal/storage"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrItemNotActive  = errors.New("item is not active")
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req alerting.Request) (alerting.Result, error)
}

type Config struct {
	Interval     time.Duration
	Workers      int
	FetchTimeout time.Duration
	ItemTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 30 * time.Second
	}
	return c
}

// Scheduler sweeps every active item on a fixed cadence. A tick that fires
// while the previous sweep is still running is skipped, and runs of the same
// item never overlap.
type Scheduler struct {
	cfg        Config
	items      storage.ItemStore
	samples    storage.SampleStore
	source     source.Source
	dispatcher Dispatcher
	clock      Clock
	logger     zerolog.Logger

	flight  singleflight.Group
	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	sweepWG sync.WaitGroup

	afterSweep func(SweepStats)
}

func New(cfg Config, items storage.ItemStore, samples storage.SampleStore, src source.Source, dispatcher Dispatcher, clock Clock) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		items:      items,
		samples:    samples,
		source:     src,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger.WithComponent("scheduler"),
	}
}

// Start runs a sweep immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	ticker := s.clock.NewTicker(s.cfg.Interval)
	s.loopWG.Add(1)
	go s.loop(loopCtx, ticker)
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("workers", s.cfg.Workers).
		Msg("scheduler started")
	return nil
}

// Stop cancels the loop and waits for the running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.loopWG.Wait()
	s.sweepWG.Wait()

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker) {
	defer s.loopWG.Done()
	defer ticker.Stop()
	s.tick(ctx)
	for {
		select {
		case <-ticker.C():
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SweepsSkipped.Inc()
		s.logger.Warn().Msg("previous sweep still running, skipping tick")
		return
	}
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		defer s.running.Store(false)
		stats := s.Sweep(ctx)
		if s.afterSweep != nil {
			s.afterSweep(stats)
		}
	}()
}

// Sweep runs the pipeline once for every active item. Failures are isolated
// per item.
func (s *Scheduler) Sweep(ctx context.Context) SweepStats {
	started := s.clock.Now()
	items, err := s.items.ListItems(ctx, model.StatusActive)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list active items")
		return SweepStats{Err: err}
	}

	var collector statsCollector
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(gctx, s.cfg.ItemTimeout)
			defer cancel()
			res := s.run(itemCtx, item)
			collector.add(res.Stage)
			return nil
		})
	}
	_ = g.Wait()

	stats := SweepStats{
		Duration: s.clock.Now().Sub(started),
		Items:    len(items),
		Stages:   collector.snapshot(),
	}
	metrics.SweepsTotal.Inc()
	metrics.SweepDuration.Observe(stats.Duration.Seconds())
	s.logger.Info().
		Int("items", stats.Items).
		Int("alerted", stats.Stages[StageAlerted]).
		Int("suppressed", stats.Stages[StageSuppressed]).
		Int("fetch_failed", stats.Stages[StageFetchFailed]).
		Int("store_failed", stats.Stages[StageStoreFailed]).
		Dur("duration", stats.Duration).
		Msg("sweep complete")
	return stats
}

// RunItem runs the pipeline for one active item outside the regular cadence.
// A run already in flight for the item is joined rather than repeated.
func (s *Scheduler) RunItem(ctx context.Context, itemID string) (ItemResult, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return ItemResult{}, err
	}
	if item.Status != model.StatusActive {
		return ItemResult{}, ErrItemNotActive
	}
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()
	return s.run(runCtx, item), nil
}

func (s *Scheduler) run(ctx context.Context, item model.TrackedItem) ItemResult {
	v, _, _ := s.flight.Do(item.ID, func() (any, error) {
		return s.process(ctx, item), nil
	})
	return v.(ItemResult)
}

func (s *Scheduler) process(ctx context.Context, item model.TrackedItem) (res ItemResult) {
	log := logger.WithItem("scheduler", item.ID)
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("scheduler").Inc()
			log.Error().Interface("panic", r).Msg("item pipeline panicked")
			res = ItemResult{ItemID: item.ID, Stage: StagePanic}.withErr(fmt.Errorf("panic: %v", r))
		}
		metrics.ItemRunsTotal.WithLabelValues(string(res.Stage)).Inc()
	}()

	res = ItemResult{ItemID: item.ID}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	value, err := s.source.FetchCurrentMeasurement(fetchCtx, item.ID)
	cancel()
	if err != nil {
		var fetchErr *source.FetchError
		event := log.Warn().Err(err).Str("stage", string(StageFetchFailed))
		if errors.As(err, &fetchErr) && fetchErr.NotFound() {
			event = event.Bool("not_found", true)
		}
		event.Msg("fetch failed, skipping item")
		res.Stage = StageFetchFailed
		return res.withErr(err)
	}
	res.Measurement = value

	sample := model.Sample{ItemID: item.ID, Measurement: value, ObservedAt: s.clock.Now().UTC()}
	if err := s.samples.AppendSample(ctx, sample); err != nil {
		log.Error().Err(err).Str("stage", string(StageStoreFailed)).Msg("failed to append sample")
		res.Stage = StageStoreFailed
		return res.withErr(err)
	}
	recent, err := s.samples.RecentSamples(ctx, item.ID, 2)
	if err != nil {
		log.Error().Err(err).Str("stage", string(StageStoreFailed)).Msg("failed to load recent samples")
		res.Stage = StageStoreFailed
		return res.withErr(err)
	}

	snap := monitor.Evaluate(recent, item)
	res.Snapshot = snap
	metrics.ItemTiers.WithLabelValues(snap.Tier.String()).Inc()
	if snap.Anomaly {
		metrics.RateAnomalies.Inc()
		log.Warn().Int64("rate", snap.Rate).Int64("measurement", value).Msg("measurement decreased since previous sample")
	}
	if !snap.Tier.Alerting() {
		res.Stage = StageClassified
		return res
	}

	result, err := s.dispatcher.Dispatch(ctx, alerting.Request{
		Kind: alerting.KindNormal,
		Item: item,
		Tier: snap.Tier,
		Rate: snap.Rate,
	})
	res.Dispatch = &result
	if result.Suppressed {
		res.Stage = StageSuppressed
	} else {
		res.Stage = StageAlerted
		log.Info().
			Str("tier", snap.Tier.String()).
			Int64("rate", snap.Rate).
			Int("delivered", result.Delivered).
			Int("failed", result.Failed).
			Msg("alert dispatched")
	}
	if err != nil {
		log.Error().Err(err).Str("tier", snap.Tier.String()).Msg("alert records incomplete")
		return res.withErr(err)
	}
	return res
}
