package lib

import "fmt"
import "sync/atomic"

// AverageInt64 computes running mean/variance of a stream of int64
// samples using Welford's incremental method. The sample count and sum
// are atomic, so Samples/Sum/Mean stay exact under concurrent Add
// calls; the variance accumulator is not synchronized, so Variance/Sd
// are exact only when Add calls are serialized.
type AverageInt64 struct {
	samples atomic.Int64
	total   atomic.Int64
	// variance accumulator (Welford); callers needing exact variance
	// under heavy concurrent writers should serialize Add() externally.
	sumsq float64
	s     float64
}

// Add a new sample.
func (av *AverageInt64) Add(sample int64) {
	av.samples.Add(1)
	av.total.Add(sample)
	n := av.samples.Load()
	delta := float64(sample) - av.s
	av.s += delta / float64(n)
	av.sumsq += delta * (float64(sample) - av.s)
}

// Samples return number of samples seen so far.
func (av *AverageInt64) Samples() int64 {
	return av.samples.Load()
}

// Count alias for Samples, matches well known statistics libraries.
func (av *AverageInt64) Count() int64 {
	return av.Samples()
}

// Sum total of all samples.
func (av *AverageInt64) Sum() int64 {
	return av.total.Load()
}

// Mean of all samples seen so far.
func (av *AverageInt64) Mean() float64 {
	if n := av.samples.Load(); n > 0 {
		return float64(av.total.Load()) / float64(n)
	}
	return 0
}

// Variance of all samples seen so far.
func (av *AverageInt64) Variance() float64 {
	if n := av.samples.Load(); n > 1 {
		return av.sumsq / float64(n-1)
	}
	return 0
}

// Sd standard deviation of all samples seen so far.
func (av *AverageInt64) Sd() float64 {
	variance := av.Variance()
	if variance == 0 {
		return 0
	}
	x := variance
	// Newton's method sqrt, avoids importing math solely for Sqrt.
	guess := x
	for i := 0; i < 32; i++ {
		guess = (guess + x/guess) / 2
	}
	return guess
}

// String implements fmt.Stringer.
func (av *AverageInt64) String() string {
	return fmt.Sprintf(
		"{samples: %v, mean: %v, variance: %v}",
		av.Samples(), av.Mean(), av.Variance())
}

// HistogramInt64 buckets int64 samples into fixed-width buckets between
// [min, max), tracking overflow/underflow counts outside that range,
// so a distribution is kept without unbounded memory. No package of
// this module records into it yet; only its own tests use it.
type HistogramInt64 struct {
	min, max, width int64
	counts          []int64
	lowerdrop       int64
	upperdrop       int64
	samples         int64
}

// NewHistogramInt64 create a histogram spanning [min, max) split into
// `nbuckets` equal-width buckets.
func NewHistogramInt64(min, max int64, nbuckets int) *HistogramInt64 {
	width := (max - min) / int64(nbuckets)
	if width <= 0 {
		width = 1
	}
	return &HistogramInt64{
		min: min, max: max, width: width,
		counts: make([]int64, nbuckets),
	}
}

// Add a new sample into its bucket.
func (h *HistogramInt64) Add(sample int64) {
	h.samples++
	switch {
	case sample < h.min:
		h.lowerdrop++
	case sample >= h.max:
		h.upperdrop++
	default:
		idx := (sample - h.min) / h.width
		if int(idx) >= len(h.counts) {
			idx = int64(len(h.counts) - 1)
		}
		h.counts[idx]++
	}
}

// Counts return the bucket counts, underflow count and overflow count.
func (h *HistogramInt64) Counts() ([]int64, int64, int64) {
	return h.counts, h.lowerdrop, h.upperdrop
}

// Samples total number of samples added so far.
func (h *HistogramInt64) Samples() int64 {
	return h.samples
}
