package window

import (
	"testing"
	"time"
)

func TestCurrentStart_Aligned(t *testing.T) {
	c := NewClock(15 * time.Minute)

	instants := []time.Time{
		time.Unix(1767186000, 0),
		time.Unix(1767186000, 1),
		time.Unix(1767186899, 999_999_999),
		time.Unix(1767186900, 0),
		time.Unix(0, 0),
		time.Unix(-1, 0),
		time.Unix(1767186456, 123_000_000),
	}

	for _, now := range instants {
		start := c.CurrentStart(now)
		if start%900 != 0 {
			t.Errorf("CurrentStart(%v) = %d, not a multiple of 900", now.Unix(), start)
		}
		if start > now.Unix() {
			t.Errorf("CurrentStart(%v) = %d, after now", now.Unix(), start)
		}
		if now.Unix() >= start+900 {
			t.Errorf("CurrentStart(%v) = %d, now is past window end", now.Unix(), start)
		}
	}
}

func TestNextStart_NoDrift(t *testing.T) {
	c := NewClock(15 * time.Minute)
	base := time.Unix(1767186000, 0)

	for i := 0; i < 5000; i++ {
		now := base.Add(time.Duration(i) * 997 * time.Millisecond)
		if got := c.NextStart(now) - c.CurrentStart(now); got != 900 {
			t.Fatalf("NextStart-CurrentStart at %v = %d, want 900", now, got)
		}
	}
}

func TestMillisUntilNext_Range(t *testing.T) {
	c := NewClock(15 * time.Minute)

	tests := []struct {
		name string
		now  time.Time
		want int64
	}{
		{"exact boundary", time.Unix(1767186000, 0), 900_000},
		{"one ms in", time.Unix(1767186000, int64(time.Millisecond)), 899_999},
		{"sub ms before end", time.Unix(1767186899, 999_500_000), 1},
		{"last ms", time.Unix(1767186899, 999_000_000), 1},
		{"midway", time.Unix(1767186450, 0), 450_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.MillisUntilNext(tt.now)
			if got != tt.want {
				t.Errorf("MillisUntilNext() = %d, want %d", got, tt.want)
			}
			if got <= 0 || got > 900_000 {
				t.Errorf("MillisUntilNext() = %d, out of (0, 900000]", got)
			}
		})
	}
}

func TestMillisUntilNext_Sweep(t *testing.T) {
	c := NewClock(5 * time.Minute)
	base := time.Unix(1767186000, 0)

	for i := 0; i < 10000; i++ {
		now := base.Add(time.Duration(i) * 61 * time.Millisecond)
		ms := c.MillisUntilNext(now)
		if ms <= 0 || ms > 300_000 {
			t.Fatalf("MillisUntilNext(%v) = %d, out of range", now, ms)
		}
	}
}

func TestCurrent(t *testing.T) {
	c := NewClock(15 * time.Minute)
	now := time.Unix(1767186123, 0)

	w := c.Current(now)
	if w.Start != 1767186000 {
		t.Errorf("Start = %d, want 1767186000", w.Start)
	}
	if w.End() != 1767186900 {
		t.Errorf("End = %d, want 1767186900", w.End())
	}
	if !w.Contains(now) {
		t.Error("window should contain now")
	}
	if w.Contains(time.Unix(1767186900, 0)) {
		t.Error("window end is exclusive")
	}
}

func TestNewClock_InvalidLength(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Minute, 1500 * time.Millisecond} {
		if got := NewClock(d).Length; got != DefaultLength {
			t.Errorf("NewClock(%v).Length = %v, want %v", d, got, DefaultLength)
		}
	}
}

func TestFormatCountdown(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{15 * time.Minute, "15:00"},
		{14*time.Minute + 5*time.Second, "14:05"},
		{59 * time.Second, "0:59"},
		{1500 * time.Millisecond, "0:01"},
		{999 * time.Millisecond, "0:00"},
		{-time.Second, "0:00"},
	}

	for _, tt := range tests {
		if got := FormatCountdown(tt.d); got != tt.want {
			t.Errorf("FormatCountdown(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
