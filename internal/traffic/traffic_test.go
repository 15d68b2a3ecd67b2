package traffic

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
	return NewTracker(clock.Now), clock
}

// TestRequestCount_Empty verifies that RequestCount returns 0 when nothing
// has been recorded within the time window.
func TestRequestCount_Empty(t *testing.T) {
	var tr Tracker
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

func TestRecordDenied_AndCounts(t *testing.T) {
	tr, _ := newFakeTracker()
	tr.RecordSuccess()
	tr.RecordDenied()
	tr.RecordDenied()
	if n := tr.DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := tr.RequestCount(time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
}

// TestErrorRate_DeniedExcluded verifies that denials do not count toward the
// error rate denominator.
func TestErrorRate_DeniedExcluded(t *testing.T) {
	tr, _ := newFakeTracker()
	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()
	errors, total := tr.ErrorRate(time.Minute)
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
}

func TestErrorRate_WindowExpires(t *testing.T) {
	tr, clock := newFakeTracker()
	tr.RecordError()
	clock.Advance(2 * time.Minute)
	tr.RecordSuccess()
	errors, total := tr.ErrorRate(time.Minute)
	if errors != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1) after the error aged out", errors, total)
	}
}

func TestDegraded(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		errors    int
		pct       int
		want      bool
	}{
		{"empty", 0, 0, 50, false},
		{"below threshold", 3, 1, 50, false},
		{"at threshold", 1, 1, 50, true},
		{"all errors", 0, 2, 50, true},
		{"disabled", 0, 5, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, _ := newFakeTracker()
			for i := 0; i < tc.successes; i++ {
				tr.RecordSuccess()
			}
			for i := 0; i < tc.errors; i++ {
				tr.RecordError()
			}
			if got := tr.Degraded(time.Minute, tc.pct); got != tc.want {
				t.Errorf("Degraded() = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestPrune verifies that outcomes older than five minutes are dropped on the next write.
func TestPrune(t *testing.T) {
	tr, clock := newFakeTracker()
	tr.RecordError()
	clock.Advance(6 * time.Minute)
	tr.RecordSuccess()
	if n := len(tr.errorTimes); n != 0 {
		t.Errorf("errorTimes len = %d, want 0 after prune", n)
	}
}

func TestReset(t *testing.T) {
	tr, _ := newFakeTracker()
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()
	tr.Reset()
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}
