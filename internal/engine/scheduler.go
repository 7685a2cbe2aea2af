package engine

import (
	"time"

	"github.com/sentinelstack/sentinel-engine/internal/models"
)

// TriggerConfig controls the debounce state machine.
type TriggerConfig struct {
	// ConsecutiveThreshold is the number of consecutive exceedances needed
	// before a fire is considered.
	ConsecutiveThreshold int
	// MinInterval is both the minimum spacing between fires and the cooldown
	// duration entered after each fire.
	MinInterval time.Duration
}

// Scheduler decides when a persistent exceedance becomes an actionable
// trigger. Owned exclusively by the pipeline loop; no internal locking.
//
// The counter resets to zero on any non-exceeding score. A fire requires the
// counter to reach ConsecutiveThreshold while at least MinInterval has
// elapsed since the previous fire; firing resets the counter, stamps the
// fire time, and enters cooldown. Exceedances keep counting during cooldown
// but cannot fire until it elapses.
type Scheduler struct {
	cfg       TriggerConfig
	count     int
	lastFired time.Time
	epoch     uint64
}

// NewScheduler creates a scheduler in the Idle state.
func NewScheduler(cfg TriggerConfig) *Scheduler {
	if cfg.ConsecutiveThreshold < 1 {
		cfg.ConsecutiveThreshold = 1
	}
	return &Scheduler{cfg: cfg}
}

// Observe feeds one score outcome into the state machine. It returns whether
// the trigger fired and, if so, the new trigger epoch.
func (s *Scheduler) Observe(exceeded bool, now time.Time) (bool, uint64) {
	if !exceeded {
		s.count = 0
		return false, 0
	}
	s.count++
	if s.count < s.cfg.ConsecutiveThreshold {
		return false, 0
	}
	if !s.lastFired.IsZero() && now.Sub(s.lastFired) < s.cfg.MinInterval {
		// Cooldown active: keep counting, do not fire.
		return false, 0
	}
	s.count = 0
	s.lastFired = now
	s.epoch++
	return true, s.epoch
}

// Phase reports the externally visible state at the given instant.
func (s *Scheduler) Phase(now time.Time) models.TriggerPhase {
	if !s.lastFired.IsZero() && now.Sub(s.lastFired) < s.cfg.MinInterval {
		return models.TriggerCooldown
	}
	if s.count > 0 {
		if s.count >= s.cfg.ConsecutiveThreshold {
			return models.TriggerReadyToFire
		}
		return models.TriggerAccumulating
	}
	return models.TriggerIdle
}

// Count returns the current consecutive-exceedance counter.
func (s *Scheduler) Count() int { return s.count }

// LastFired returns the timestamp of the most recent fire (zero if none).
func (s *Scheduler) LastFired() time.Time { return s.lastFired }

// Epoch returns the number of fires so far.
func (s *Scheduler) Epoch() uint64 { return s.epoch }

// SetConfig swaps the trigger parameters. Applies prospectively; the counter
// and fire history are preserved.
func (s *Scheduler) SetConfig(cfg TriggerConfig) {
	if cfg.ConsecutiveThreshold < 1 {
		cfg.ConsecutiveThreshold = 1
	}
	s.cfg = cfg
}
