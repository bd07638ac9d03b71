package reaper

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeSweepable struct {
	removed int
	sweeps  atomic.Int32
}

func (f *fakeSweepable) SweepExpired(now time.Time) int {
	f.sweeps.Add(1)
	return f.removed
}

func TestReaper_SweepOnce(t *testing.T) {
	r := New(time.Minute, zerolog.Nop())

	a := &fakeSweepable{removed: 2}
	b := &fakeSweepable{removed: 0}
	r.Register("sessions", a)
	r.Register("web_logins", b)

	total := r.SweepOnce(time.Now())
	assert.Equal(t, 2, total)
	assert.Equal(t, int32(1), a.sweeps.Load())
	assert.Equal(t, int32(1), b.sweeps.Load())
}

func TestReaper_SweepOnce_NoTargets(t *testing.T) {
	r := New(time.Minute, zerolog.Nop())
	assert.Equal(t, 0, r.SweepOnce(time.Now()))
}

func TestReaper_Loop(t *testing.T) {
	r := New(10*time.Millisecond, zerolog.Nop())
	s := &fakeSweepable{}
	r.Register("sessions", s)

	r.Start()
	assert.Eventually(t, func() bool {
		return s.sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond, "ticker never fired")
	r.Stop()

	// No sweeps after Stop returns.
	after := s.sweeps.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, s.sweeps.Load())
}
