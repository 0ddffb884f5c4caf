package metrics

import (
	"testing"
	"time"
)

func newTestTracker(now *time.Time) *Tracker {
	tr := NewTracker(time.Minute)
	tr.now = func() time.Time { return *now }
	tr.started = *now
	return tr
}

func TestSnapshotRollingWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)

	tr.Record(now.Add(-90*time.Second), 1000, 100) // outside window, dropped
	tr.Record(now.Add(-30*time.Second), 300, 15)
	tr.Record(now, 200, 10)

	snap := tr.Snapshot()
	if snap.CPM != 500 || snap.Backspaces != 25 {
		t.Fatalf("snapshot = %+v, want cpm 500 backspaces 25", snap)
	}
	if !snap.LastInput.Equal(now) {
		t.Errorf("last input = %v", snap.LastInput)
	}

	now = now.Add(45 * time.Second)
	snap = tr.Snapshot()
	if snap.CPM != 200 || snap.Backspaces != 10 {
		t.Errorf("after 45s: %+v", snap)
	}
}

func TestSnapshotScalesToMinute(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(30 * time.Second)
	tr.now = func() time.Time { return now }
	tr.Record(now, 100, 0)
	if got := tr.Snapshot().CPM; got != 200 {
		t.Errorf("cpm = %v, want 200", got)
	}
}

func TestIdleFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	if got := tr.IdleFor(now.Add(time.Minute)); got != time.Minute {
		t.Errorf("idle since start = %v", got)
	}
	tr.Record(now, 5, 0)
	if got := tr.IdleFor(now.Add(10 * time.Minute)); got != 10*time.Minute {
		t.Errorf("idle = %v", got)
	}
	if got := tr.IdleFor(now.Add(-time.Second)); got != 0 {
		t.Errorf("negative idle = %v", got)
	}
}

func TestRecordClampsFutureInput(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(&now)
	tr.Record(now.Add(24*time.Hour), 5, 0)

	if snap := tr.Snapshot(); !snap.LastInput.Equal(now) {
		t.Errorf("last input = %v, want %v", snap.LastInput, now)
	}
	if got := tr.IdleFor(now.Add(5 * time.Minute)); got != 5*time.Minute {
		t.Errorf("idle = %v, want 5m", got)
	}
}
