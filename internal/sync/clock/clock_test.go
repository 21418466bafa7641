package clock

import (
	"testing"
	"time"
)

func TestClockMonotonicWithinSameMillisecond(t *testing.T) {
	fixed := time.UnixMilli(1_000_000)
	c := NewWithSource(func() time.Time { return fixed })

	a := c.Now()
	b := c.Now()

	if !a.Before(b) {
		t.Fatalf("expected %v before %v", a, b)
	}
	if a.Physical != b.Physical {
		t.Fatalf("expected same physical component, got %d and %d", a.Physical, b.Physical)
	}
	if b.Logical != a.Logical+1 {
		t.Fatalf("expected logical counter to advance by 1, got %d -> %d", a.Logical, b.Logical)
	}
}

func TestClockAdvancesWhenWallTimeMoves(t *testing.T) {
	current := time.UnixMilli(1_000_000)
	c := NewWithSource(func() time.Time { return current })

	a := c.Now()
	current = current.Add(5 * time.Millisecond)
	b := c.Now()

	if b.Physical != a.Physical+5 {
		t.Fatalf("expected physical to advance by 5ms, got %d -> %d", a.Physical, b.Physical)
	}
	if b.Logical != 0 {
		t.Fatalf("expected logical to reset to 0, got %d", b.Logical)
	}
}

func TestObserveIsCausallyConsistent(t *testing.T) {
	fixed := time.UnixMilli(1_000_000)
	c := NewWithSource(func() time.Time { return fixed })

	remote := HLC{Physical: 1_000_050, Logical: 3}
	result := c.Observe(remote)

	if !remote.Before(result) {
		t.Fatalf("expected result %v to be strictly after remote %v", result, remote)
	}
}

func TestHLCCompare(t *testing.T) {
	cases := []struct {
		a, b HLC
		want int
	}{
		{HLC{1, 0}, HLC{2, 0}, -1},
		{HLC{2, 0}, HLC{1, 0}, 1},
		{HLC{1, 1}, HLC{1, 2}, -1},
		{HLC{1, 1}, HLC{1, 1}, 0},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
