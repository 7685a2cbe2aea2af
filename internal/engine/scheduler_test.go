package engine

import (
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-engine/internal/models"
)

func TestSchedulerFiresAtConsecutiveThreshold(t *testing.T) {
	s := NewScheduler(TriggerConfig{ConsecutiveThreshold: 3, MinInterval: 0})
	now := time.Unix(1000, 0)

	for i := 0; i < 2; i++ {
		if fired, _ := s.Observe(true, now); fired {
			t.Fatalf("fired after %d exceedances, threshold is 3", i+1)
		}
	}
	fired, epoch := s.Observe(true, now)
	if !fired || epoch != 1 {
		t.Fatalf("expected fire with epoch 1, got fired=%v epoch=%d", fired, epoch)
	}
	if s.Count() != 0 {
		t.Fatalf("firing must reset the counter, got %d", s.Count())
	}
}

func TestSchedulerResetsOnNonExceedance(t *testing.T) {
	s := NewScheduler(TriggerConfig{ConsecutiveThreshold: 2, MinInterval: 0})
	now := time.Unix(1000, 0)

	s.Observe(true, now)
	s.Observe(false, now)
	if s.Count() != 0 {
		t.Fatalf("non-exceedance must reset the counter immediately")
	}
	if fired, _ := s.Observe(true, now); fired {
		t.Fatalf("single exceedance after reset must not fire")
	}
}

func TestSchedulerCooldownBlocksSecondFire(t *testing.T) {
	s := NewScheduler(TriggerConfig{ConsecutiveThreshold: 2, MinInterval: time.Minute})
	base := time.Unix(1000, 0)

	s.Observe(true, base)
	if fired, _ := s.Observe(true, base); !fired {
		t.Fatalf("expected first fire")
	}
	if s.Phase(base.Add(time.Second)) != models.TriggerCooldown {
		t.Fatalf("expected cooldown phase after fire")
	}

	// Counting continues during cooldown but cannot fire.
	during := base.Add(30 * time.Second)
	s.Observe(true, during)
	if fired, _ := s.Observe(true, during); fired {
		t.Fatalf("fire during cooldown")
	}
	if s.Count() != 2 {
		t.Fatalf("cooldown must preserve the counter, got %d", s.Count())
	}

	// Once the interval elapses the accumulated count can fire again.
	after := base.Add(time.Minute)
	fired, epoch := s.Observe(true, after)
	if !fired || epoch != 2 {
		t.Fatalf("expected second fire after cooldown, got fired=%v epoch=%d", fired, epoch)
	}
}

func TestSchedulerPhases(t *testing.T) {
	s := NewScheduler(TriggerConfig{ConsecutiveThreshold: 3, MinInterval: time.Minute})
	now := time.Unix(1000, 0)

	if s.Phase(now) != models.TriggerIdle {
		t.Fatalf("fresh scheduler should be idle")
	}
	s.Observe(true, now)
	if s.Phase(now) != models.TriggerAccumulating {
		t.Fatalf("one exceedance should accumulate")
	}
	s.Observe(false, now)
	if s.Phase(now) != models.TriggerIdle {
		t.Fatalf("reset should return to idle")
	}
}

func TestSchedulerScenarioA(t *testing.T) {
	// capacity=5, decimation=1, consecutive-threshold=2, min-interval=0:
	// five quiet points then two exceedances fire exactly once, on the 2nd.
	s := NewScheduler(TriggerConfig{ConsecutiveThreshold: 2, MinInterval: 0})
	now := time.Unix(1000, 0)

	fires := 0
	for i := 0; i < 5; i++ {
		if fired, _ := s.Observe(false, now); fired {
			fires++
		}
	}
	if fired, _ := s.Observe(true, now); fired {
		fires++
		t.Fatalf("fired on the first exceedance")
	}
	if fired, _ := s.Observe(true, now); fired {
		fires++
	}
	if fires != 1 {
		t.Fatalf("expected exactly one fire, got %d", fires)
	}
}
