package metrics

import "container/heap"

// medianEstimator maintains a running median over a stream of float64
// samples using the classic two-heap (max-heap of lows, min-heap of highs)
// technique, giving O(log n) updates and O(1) reads without retaining the
// full sample set.
type medianEstimator struct {
	low  maxHeap // the smaller half, largest on top
	high minHeap // the larger half, smallest on top
}

func newMedianEstimator() *medianEstimator {
	return &medianEstimator{}
}

func (m *medianEstimator) Add(v float64) {
	if m.low.Len() == 0 || v <= m.low[0] {
		heap.Push(&m.low, v)
	} else {
		heap.Push(&m.high, v)
	}

	// Rebalance so len(low) is either equal to len(high) or one more.
	if m.low.Len() > m.high.Len()+1 {
		heap.Push(&m.high, heap.Pop(&m.low))
	} else if m.high.Len() > m.low.Len() {
		heap.Push(&m.low, heap.Pop(&m.high))
	}
}

func (m *medianEstimator) Median() float64 {
	if m.low.Len() == 0 {
		return 0
	}
	if m.low.Len() > m.high.Len() {
		return m.low[0]
	}
	return (m.low[0] + m.high[0]) / 2
}

type maxHeap []float64

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(float64)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

type minHeap []float64

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(float64)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
