package series

import "sort"

const (
	// MaxLen caps the number of samples retained per observable.
	MaxLen = 200
	// DecimationFactor is the number of consecutive older samples merged
	// into one during a decimation pass.
	DecimationFactor = 2
	// HeadFraction marks the split between the compacted older history and
	// the full-resolution recent tail.
	HeadFraction = 0.6
)

// Coalesce turns a raw batch into at most one sample per second.
//
// A single pair is converted directly. Larger batches are grouped by
// integer second and each group is replaced by its mean value at the mean
// instant of its members. The result is ordered by second.
func Coalesce(batch []Pair) []Sample {
	switch len(batch) {
	case 0:
		return nil
	case 1:
		return []Sample{{Time: batch[0].Instant(), Value: batch[0].Value}}
	}

	raw := make([]Sample, len(batch))
	for i, p := range batch {
		raw[i] = Sample{Time: p.Instant(), Value: p.Value}
	}
	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].Second() < raw[j].Second()
	})

	out := make([]Sample, 0, len(raw))
	start := 0
	for i := 1; i <= len(raw); i++ {
		if i < len(raw) && raw[i].Second() == raw[start].Second() {
			continue
		}
		out = append(out, mean(raw[start:i]))
		start = i
	}
	return out
}

// Decimate runs one two-tier retention pass over samples and returns the
// compacted slice. The older HeadFraction of the input keeps its first sample
// verbatim and averages the rest in groups of DecimationFactor; the recent
// remainder is copied unchanged. Inputs of length <= 1 are returned as is.
func Decimate(samples []Sample) []Sample {
	n := len(samples)
	if n <= 1 {
		return samples
	}
	split := int(float64(n) * HeadFraction)
	if split < 1 {
		return samples
	}
	head, tail := samples[:split], samples[split:]

	out := make([]Sample, 0, 1+(split-1+DecimationFactor-1)/DecimationFactor+len(tail))
	out = append(out, head[0])
	for i := 1; i < len(head); i += DecimationFactor {
		end := i + DecimationFactor
		if end > len(head) {
			end = len(head)
		}
		out = append(out, mean(head[i:end]))
	}
	return append(out, tail...)
}
