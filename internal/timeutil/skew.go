// Package timeutil provides small helpers for rounding and combining clock-skew durations.
//
// The gateway uses these when handing TTLs and heartbeat intervals to the shared state
// store, which only understands whole-second expirations.
package timeutil

import (
	"math"
	"time"
)

// SkewSecondsCeil rounds d up to a whole number of seconds, floored at zero.
func SkewSecondsCeil(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int64(secs)
}

// NormalizeSkew rounds d up to the nearest whole second.
func NormalizeSkew(d time.Duration) time.Duration {
	return time.Duration(SkewSecondsCeil(d)) * time.Second
}

// AddSkewUnix adds skew (rounded up to whole seconds) to a unix timestamp, saturating at
// math.MaxInt64 instead of overflowing.
func AddSkewUnix(unixSeconds int64, skew time.Duration) int64 {
	add := SkewSecondsCeil(skew)
	if add == 0 {
		return unixSeconds
	}
	if unixSeconds > math.MaxInt64-add {
		return math.MaxInt64
	}
	return unixSeconds + add
}
