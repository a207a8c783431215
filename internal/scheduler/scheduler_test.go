package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/apiwatch/apiwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	mu   sync.Mutex
	runs int
}

func (r *countingRunner) RunAllTenants() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type staticStore struct {
	snapshot *storage.Snapshot
}

func (s *staticStore) Snapshot() (*storage.Snapshot, error) {
	return s.snapshot, nil
}

type recordingUpdater struct {
	mu        sync.Mutex
	snapshots []*storage.Snapshot
}

func (u *recordingUpdater) UpdateMetrics(s *storage.Snapshot) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.snapshots = append(u.snapshots, s)
}

func (u *recordingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.snapshots)
}

func TestSchedulerRunsImmediatelyOnStart(t *testing.T) {
	runner := &countingRunner{}
	updater := &recordingUpdater{}
	s := NewScheduler(Config{
		Runner:         runner,
		Store:          &staticStore{snapshot: &storage.Snapshot{}},
		Interval:       time.Hour,
		MetricsUpdater: updater,
	})

	s.Start()
	defer s.Stop()

	assert.Equal(t, 1, runner.count())
	assert.Equal(t, 1, updater.count())

	stats := s.GetStats()
	assert.Equal(t, 1, stats["total_runs"])
	assert.Equal(t, time.Hour.String(), stats["interval"])
}

func TestSchedulerTicks(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(Config{
		Runner:   runner,
		Store:    &staticStore{snapshot: &storage.Snapshot{}},
		Interval: 20 * time.Millisecond,
	})

	s.Start()
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	require.GreaterOrEqual(t, runner.count(), 2)
}

func TestRunNow(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(Config{
		Runner:   runner,
		Store:    &staticStore{snapshot: &storage.Snapshot{}},
		Interval: time.Hour,
	})
	defer s.Stop()

	s.RunNow()

	deadline := time.Now().Add(2 * time.Second)
	for runner.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, runner.count())
}
