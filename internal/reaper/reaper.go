// Package reaper runs the background sweep that removes expired auth state.
package reaper

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"keymint-go/internal/metrics"
)

// Sweepable is anything holding time-bounded entries the reaper can drop.
type Sweepable interface {
	SweepExpired(now time.Time) int
}

type target struct {
	name string
	s    Sweepable
}

// Reaper sweeps registered targets on a fixed interval, making cleanup
// deterministic instead of relying on per-entry deferred deletion.
type Reaper struct {
	interval time.Duration
	targets  []target
	logger   zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reaper sweeping every interval.
func New(interval time.Duration, logger zerolog.Logger) *Reaper {
	return &Reaper{
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Register adds a sweep target. Must be called before Start.
func (r *Reaper) Register(name string, s Sweepable) {
	r.targets = append(r.targets, target{name: name, s: s})
}

// Start begins the sweep loop.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// SweepOnce runs a single sweep pass over all targets and returns the total
// number of entries removed.
func (r *Reaper) SweepOnce(now time.Time) int {
	total := 0
	for _, t := range r.targets {
		removed := t.s.SweepExpired(now)
		if removed > 0 {
			metrics.EntriesReaped.WithLabelValues(t.name).Add(float64(removed))
			r.logger.Debug().
				Str("target", t.name).
				Int("removed", removed).
				Msg("swept expired entries")
		}
		total += removed
	}
	return total
}

func (r *Reaper) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.SweepOnce(now)
		}
	}
}
