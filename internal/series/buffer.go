package series

import "sync"

// Buffer holds the bounded rolling history of one observable.
//
// Samples are kept in ascending time order with at most one sample per
// second. Merge and Decimate keep the length at or below MaxLen; anything
// compacted away is gone for good.
type Buffer struct {
	mu      sync.RWMutex
	samples []Sample
}

// NewBuffer creates an empty history buffer.
func NewBuffer() *Buffer {
	return &Buffer{samples: make([]Sample, 0, MaxLen+1)}
}

// Merge folds a raw batch into the buffer and returns the samples that were
// appended or amended, oldest first.
//
// The batch is coalesced per second first. If its first sample falls into the
// same second as the buffer's last sample, the two values are averaged into
// the stored sample (keeping its timestamp) instead of appending. Samples
// older than the stored tail are dropped.
func (b *Buffer) Merge(batch []Pair) []Sample {
	incoming := Coalesce(batch)
	if len(incoming) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var applied []Sample
	if n := len(b.samples); n > 0 {
		last := &b.samples[n-1]
		fresh := incoming[:0:0]
		for _, s := range incoming {
			if s.Second() >= last.Second() {
				fresh = append(fresh, s)
			}
		}
		incoming = fresh
		if len(incoming) > 0 && incoming[0].Second() == last.Second() {
			last.Value = (last.Value + incoming[0].Value) / 2
			applied = append(applied, *last)
			incoming = incoming[1:]
		}
	}

	b.samples = append(b.samples, incoming...)
	applied = append(applied, incoming...)
	b.decimateLocked()
	return applied
}

// Decimate compacts the buffer until it fits MaxLen. It is a no-op while
// the buffer is within capacity.
func (b *Buffer) Decimate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decimateLocked()
}

func (b *Buffer) decimateLocked() {
	for len(b.samples) > MaxLen {
		b.samples = Decimate(b.samples)
	}
}

// Samples returns a copy of the stored samples in chronological order.
func (b *Buffer) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Sample, len(b.samples))
	copy(result, b.samples)
	return result
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Last returns the most recent sample, if any.
func (b *Buffer) Last() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}
