package flights

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/pkg/logger"
)

// SnapshotFetcher produces one merged fleet snapshot per call
type SnapshotFetcher interface {
	FetchFleetSnapshot(ctx context.Context, icaos []string) adsb.Snapshot
}

// ServiceConfig controls the poll loop
type ServiceConfig struct {
	PollInterval time.Duration
	Fleet        []string
	// PositionRetention is how long position samples are kept; 0 keeps them forever
	PositionRetention time.Duration
	PruneInterval     time.Duration
}

// CycleStatus summarizes one poll cycle
type CycleStatus struct {
	StartedAt    time.Time               `json:"started_at"`
	Duration     time.Duration           `json:"duration_ns"`
	Requested    int                     `json:"requested"`
	Resolved     int                     `json:"resolved"`
	Counts       map[adsb.SourceName]int `json:"counts"`
	SourceErrors map[string]string       `json:"source_errors,omitempty"`
	Missing      []string                `json:"missing,omitempty"`
	Processed    int                     `json:"processed"`
	Dropped      int                     `json:"dropped"`
	Failed       int                     `json:"failed"`
	Transitions  map[string]int          `json:"transitions"`
}

// Service drives poll cycles: fetch a fleet snapshot, then feed every record
// through the tracker in order. Cycles never overlap.
type Service struct {
	fetcher SnapshotFetcher
	tracker *Tracker
	pruner  PositionPruner
	cfg     ServiceConfig
	logger  *logger.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *CycleStatus

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates the poll-cycle driver
func NewService(fetcher SnapshotFetcher, tracker *Tracker, cfg ServiceConfig, log *logger.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	return &Service{
		fetcher: fetcher,
		tracker: tracker,
		cfg:     cfg,
		logger:  log.Named("flights"),
		stopCh:  make(chan struct{}),
	}
}

// SetPruner enables position-history retention
func (s *Service) SetPruner(p PositionPruner) {
	s.pruner = p
}

// Start rehydrates the active-flight index, runs the first cycle and starts
// the background loop
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting flight tracking service",
		logger.Duration("poll_interval", s.cfg.PollInterval),
		logger.Int("fleet_size", len(s.cfg.Fleet)))

	if err := s.tracker.Rehydrate(ctx, s.cfg.Fleet); err != nil {
		// Misses fall back to the store, so a partial index is safe
		s.logger.Error("Failed to fully rehydrate active flights", logger.Error(err))
	}

	s.RunCycle(ctx)

	s.wg.Add(1)
	go s.pollLoop(ctx)

	return nil
}

// Stop stops the loop and waits for the running cycle to finish. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping flight tracking service")
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Flight tracking service stopped")
}

// Status returns the last completed cycle
func (s *Service) Status() (CycleStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return CycleStatus{}, false
	}
	return *s.last, true
}

// Healthy reports whether a cycle completed recently
func (s *Service) Healthy(now time.Time) bool {
	st, ok := s.Status()
	if !ok {
		return false
	}
	return now.Sub(st.StartedAt) <= 3*s.cfg.PollInterval
}

// Tracker returns the tracker fed by this service
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

func (s *Service) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var pruneC <-chan time.Time
	if s.pruner != nil && s.cfg.PositionRetention > 0 {
		pruneTicker := time.NewTicker(s.cfg.PruneInterval)
		defer pruneTicker.Stop()
		pruneC = pruneTicker.C
	}

	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-pruneC:
			s.prune(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunCycle runs one poll cycle. It returns false without doing anything if
// another cycle is still running.
func (s *Service) RunCycle(ctx context.Context) (CycleStatus, bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous poll cycle still running, skipping")
		return CycleStatus{}, false
	}
	defer s.running.Store(false)

	start := time.Now()
	snap := s.fetcher.FetchFleetSnapshot(ctx, s.cfg.Fleet)

	st := CycleStatus{
		StartedAt:   start,
		Requested:   snap.Requested,
		Resolved:    len(snap.Records),
		Counts:      snap.Counts,
		Missing:     snap.Missing,
		Transitions: make(map[string]int),
	}
	if len(snap.SourceErrors) > 0 {
		st.SourceErrors = make(map[string]string, len(snap.SourceErrors))
		for src, fe := range snap.SourceErrors {
			st.SourceErrors[string(src)] = fe.Error()
		}
	}
	if snap.Err != nil {
		s.logger.Warn("Fallback source failed",
			logger.String("source", string(snap.Err.Source)),
			logger.String("kind", string(snap.Err.Kind)),
			logger.Error(snap.Err))
	}

	for _, rec := range snap.Records {
		if ctx.Err() != nil {
			break
		}
		out, err := s.tracker.Process(ctx, rec)
		switch {
		case err == nil:
			st.Processed++
			st.Transitions[out.Transition.String()]++
		case isDrop(err):
			st.Dropped++
			s.logger.Debug("Dropped observation",
				logger.String("icao", rec.ICAO),
				logger.Error(err))
		default:
			st.Failed++
			s.logger.Error("Failed to process observation",
				logger.String("icao", rec.ICAO),
				logger.Error(err))
		}
	}

	st.Duration = time.Since(start)
	s.tracker.metrics.ObserveCycle(st.Duration, st.Processed, st.Failed)

	s.mu.Lock()
	s.last = &st
	s.mu.Unlock()

	s.logger.Debug("Poll cycle completed",
		logger.Int("requested", st.Requested),
		logger.Int("resolved", st.Resolved),
		logger.Int("processed", st.Processed),
		logger.Int("dropped", st.Dropped),
		logger.Int("failed", st.Failed),
		logger.Duration("elapsed", st.Duration))

	return st, true
}

func (s *Service) prune(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.PositionRetention)
	n, err := s.pruner.PrunePositions(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to prune position history", logger.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Pruned position history",
			logger.Int64("deleted", n),
			logger.Time("before", cutoff))
	}
}

func isDrop(err error) bool {
	return errors.Is(err, ErrNoPosition) || errors.Is(err, ErrInvalidICAO) || errors.Is(err, ErrStaleObservation)
}
