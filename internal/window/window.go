// Package window computes the fixed-length market windows that recurring
// markets rotate through.
package window

import (
	"fmt"
	"time"
)

// DefaultLength is the window length of the 15-minute up/down markets.
const DefaultLength = 15 * time.Minute

// Window is a half-open interval [Start, Start+Length) identified by its
// aligned start in epoch seconds.
type Window struct {
	Start  int64
	Length time.Duration
}

// End returns the epoch seconds of the exclusive end of the window.
func (w Window) End() int64 {
	return w.Start + int64(w.Length/time.Second)
}

// StartTime returns the window start as a time.Time.
func (w Window) StartTime() time.Time {
	return time.Unix(w.Start, 0)
}

// EndTime returns the window end as a time.Time.
func (w Window) EndTime() time.Time {
	return time.Unix(w.End(), 0)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	s := t.Unix()
	return s >= w.Start && s < w.End()
}

// Clock does window arithmetic for a fixed window length. It has no state
// besides the length and never fails.
type Clock struct {
	Length time.Duration
}

// NewClock returns a Clock for the given length, falling back to
// DefaultLength when length is not a positive whole number of seconds.
func NewClock(length time.Duration) Clock {
	if length < time.Second || length%time.Second != 0 {
		length = DefaultLength
	}
	return Clock{Length: length}
}

func (c Clock) seconds() int64 {
	s := int64(c.Length / time.Second)
	if s <= 0 {
		return int64(DefaultLength / time.Second)
	}
	return s
}

// CurrentStart floors now to the nearest multiple of the window length.
func (c Clock) CurrentStart(now time.Time) int64 {
	s := now.Unix()
	w := c.seconds()
	start := s - s%w
	if s%w < 0 {
		// pre-epoch instants floor towards negative infinity
		start -= w
	}
	return start
}

// NextStart returns the start of the window after the one containing now.
func (c Clock) NextStart(now time.Time) int64 {
	return c.CurrentStart(now) + c.seconds()
}

// Current returns the window containing now.
func (c Clock) Current(now time.Time) Window {
	return Window{Start: c.CurrentStart(now), Length: time.Duration(c.seconds()) * time.Second}
}

// MillisUntilNext returns the milliseconds left until the next window
// starts. The result is always in (0, length].
func (c Clock) MillisUntilNext(now time.Time) int64 {
	return c.NextStart(now)*1000 - now.UnixMilli()
}

// UntilNext is MillisUntilNext as a time.Duration.
func (c Clock) UntilNext(now time.Time) time.Duration {
	return time.Duration(c.MillisUntilNext(now)) * time.Millisecond
}

// FormatCountdown renders d as M:SS, minutes unpadded.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// FormatTime renders an epoch-seconds timestamp as a local wall-clock time.
func FormatTime(ts int64) string {
	return time.Unix(ts, 0).Format("3:04 PM")
}
