package series

import (
	"math"
	"time"
)

// Pair is one validated [timestamp, value] entry from the wire.
// Seconds is a Unix timestamp in seconds and may carry a fraction.
type Pair struct {
	Seconds float64
	Value   float64
}

// Instant converts the wire timestamp to a millisecond-resolution instant.
func (p Pair) Instant() time.Time {
	return time.UnixMilli(int64(math.Round(p.Seconds * 1000)))
}

// Sample represents a single stored observation.
type Sample struct {
	Time  time.Time `json:"ts"`
	Value float64   `json:"v"`
}

// Second returns the sample's timestamp truncated to the Unix second.
func (s Sample) Second() int64 {
	return s.Time.Unix()
}

// mean collapses a non-empty group into one sample whose value and
// timestamp are the arithmetic means of the group.
func mean(group []Sample) Sample {
	if len(group) == 1 {
		return group[0]
	}
	base := group[0].Time
	var offset time.Duration
	var sum float64
	for _, s := range group {
		offset += s.Time.Sub(base)
		sum += s.Value
	}
	n := len(group)
	return Sample{
		Time:  base.Add(offset / time.Duration(n)),
		Value: sum / float64(n),
	}
}
