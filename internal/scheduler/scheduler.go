package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/apiwatch/apiwatch/internal/storage"
)

// TenantRunner runs the tenant-flavor bulk test pass
type TenantRunner interface {
	RunAllTenants()
}

// SnapshotStore provides the fleet state fed to the metrics exporter
type SnapshotStore interface {
	Snapshot() (*storage.Snapshot, error)
}

// MetricsUpdater is an interface for updating metrics
type MetricsUpdater interface {
	UpdateMetrics(*storage.Snapshot)
}

// Scheduler triggers the fleet test run on a fixed interval
type Scheduler struct {
	runner         TenantRunner
	store          SnapshotStore
	interval       time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	metricsUpdater MetricsUpdater
	mu             sync.RWMutex
	lastRunTime    time.Time
	totalRuns      int
}

// Config contains scheduler configuration
type Config struct {
	Runner         TenantRunner
	Store          SnapshotStore
	Interval       time.Duration
	MetricsUpdater MetricsUpdater
}

// NewScheduler creates a new scheduler
func NewScheduler(config Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:         config.Runner,
		store:          config.Store,
		interval:       config.Interval,
		ctx:            ctx,
		cancel:         cancel,
		metricsUpdater: config.MetricsUpdater,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	log.Printf("Starting scheduler with interval: %v", s.interval)

	// Run once immediately
	s.runOnce()

	// Start ticker for periodic execution
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	log.Println("Stopping scheduler...")
	s.cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

// runOnce executes one fleet test pass
func (s *Scheduler) runOnce() {
	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.totalRuns++
	s.mu.Unlock()

	log.Println("Starting test execution cycle")

	s.runner.RunAllTenants()

	// Update metrics
	if s.metricsUpdater != nil {
		snapshot, err := s.store.Snapshot()
		if err != nil {
			log.Printf("Error getting snapshot for metrics: %v", err)
		} else {
			s.metricsUpdater.UpdateMetrics(snapshot)
		}
	}

	log.Println("Test execution cycle completed")
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"last_run_time": s.lastRunTime,
		"total_runs":    s.totalRuns,
		"interval":      s.interval.String(),
	}
}

// RunNow triggers an immediate execution cycle
func (s *Scheduler) RunNow() {
	go s.runOnce()
}
