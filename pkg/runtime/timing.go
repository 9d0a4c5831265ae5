package runtime

import "sort"

// timingBucket is a Welford online estimator of mean execution time (in
// milliseconds) for one observed batch size. Variance is tracked but not
// currently consulted by any scheduling decision.
type timingBucket struct {
	size  int
	count int64
	mean  float64
	m2    float64
}

// observe folds one new sample (milliseconds) into the bucket's running
// mean/variance via Welford's algorithm.
func (b *timingBucket) observe(ms float64) {
	b.count++
	delta := ms - b.mean
	b.mean += delta / float64(b.count)
	delta2 := ms - b.mean
	b.m2 += delta * delta2
}

func (b *timingBucket) variance() float64 {
	if b.count < 2 {
		return 0
	}
	return b.m2 / float64(b.count-1)
}

// timingTable holds one bucket per observed batch size for a single model,
// kept sorted by size so cost estimation can binary-search it.
type timingTable struct {
	buckets []*timingBucket
}

// record folds a sample into the bucket for size, inserting a new bucket
// (keeping the slice sorted) on first observation for that size.
func (t *timingTable) record(size int, ms float64) {
	i := sort.Search(len(t.buckets), func(i int) bool { return t.buckets[i].size >= size })
	if i < len(t.buckets) && t.buckets[i].size == size {
		t.buckets[i].observe(ms)
		return
	}
	b := &timingBucket{size: size}
	b.observe(ms)
	t.buckets = append(t.buckets, nil)
	copy(t.buckets[i+1:], t.buckets[i:])
	t.buckets[i] = b
}

// estimate returns the predicted execution time (milliseconds) for a batch
// of size n, or (0, false) if the table has no samples to extrapolate from.
//
// If a bucket's size matches n exactly, its mean is used directly.
// Otherwise the smallest bucket with size >= n is scaled down linearly by
// size/n; if n exceeds every recorded size, the largest bucket is scaled up
// the same way.
func (t *timingTable) estimate(n int) (float64, bool) {
	if len(t.buckets) == 0 {
		return 0, false
	}
	i := sort.Search(len(t.buckets), func(i int) bool { return t.buckets[i].size >= n })
	if i < len(t.buckets) && t.buckets[i].size == n {
		return t.buckets[i].mean, true
	}
	var ref *timingBucket
	if i < len(t.buckets) {
		ref = t.buckets[i]
	} else {
		ref = t.buckets[len(t.buckets)-1]
	}
	if ref.size == 0 {
		return 0, true
	}
	return ref.mean * float64(n) / float64(ref.size), true
}
