package window

import (
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-engine/internal/models"
)

func measurement(seq uint64) models.Measurement {
	return models.Measurement{
		Sequence:  seq,
		Timestamp: time.Unix(int64(seq), 0),
		Values:    map[string]float64{"temp": float64(seq)},
	}
}

func TestPushEvictsOldestFIFO(t *testing.T) {
	s := New(3)
	for seq := uint64(1); seq <= 5; seq++ {
		s.Push(measurement(seq))
	}

	if !s.Full() {
		t.Fatalf("expected full window")
	}
	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	for i, want := range []uint64{3, 4, 5} {
		if snap[i].Sequence != want {
			t.Errorf("snapshot[%d] sequence = %d, want %d", i, snap[i].Sequence, want)
		}
	}
}

func TestLenTracksFillBelowCapacity(t *testing.T) {
	s := New(5)
	for seq := uint64(1); seq <= 3; seq++ {
		s.Push(measurement(seq))
	}
	if s.Full() {
		t.Fatalf("window should not be full at 3/5")
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New(2)
	s.Push(measurement(1))

	snap := s.Snapshot()
	snap[0].Values["temp"] = 99

	again := s.Snapshot()
	if again[0].Values["temp"] != 1 {
		t.Fatalf("mutating a snapshot leaked into the store")
	}
}

func TestResizeKeepsMostRecent(t *testing.T) {
	s := New(4)
	for seq := uint64(1); seq <= 4; seq++ {
		s.Push(measurement(seq))
	}

	s.Resize(2)
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Sequence != 3 || snap[1].Sequence != 4 {
		t.Fatalf("resize kept wrong entries: %+v", snap)
	}

	// Growing keeps everything and leaves room.
	s.Resize(5)
	s.Push(measurement(5))
	if s.Len() != 3 || s.Full() {
		t.Fatalf("unexpected state after grow: len=%d full=%v", s.Len(), s.Full())
	}
}
