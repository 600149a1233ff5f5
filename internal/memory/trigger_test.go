package memory

import "testing"

func TestSummaryTriggerCrossed(t *testing.T) {
	trig := NewSummaryTrigger(50)
	cases := []struct {
		prev, total int64
		wantEnd     int64
		wantCrossed bool
	}{
		{0, 1, 0, false},
		{48, 49, 0, false},
		{49, 50, 50, true},
		{50, 51, 0, false},
		{99, 100, 100, true},
		// Burst: several commits between checks still lands on the boundary.
		{47, 53, 50, true},
		{45, 151, 150, true},
		// No motion, no trigger.
		{50, 50, 0, false},
		{60, 55, 0, false},
	}
	for _, tc := range cases {
		end, crossed := trig.Crossed(tc.prev, tc.total)
		if crossed != tc.wantCrossed || end != tc.wantEnd {
			t.Fatalf("Crossed(%d, %d) = (%d, %v), want (%d, %v)",
				tc.prev, tc.total, end, crossed, tc.wantEnd, tc.wantCrossed)
		}
	}
}

func TestSummaryTriggerDefaultCadence(t *testing.T) {
	trig := NewSummaryTrigger(0)
	if trig.Every() != 50 {
		t.Fatalf("Every() = %d, want 50", trig.Every())
	}
}
