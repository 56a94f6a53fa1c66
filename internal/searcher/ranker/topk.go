// Package ranker keeps the best K scored records seen by concurrent scan
// workers.
package ranker

import (
	"container/heap"
	"sync"
)

// Hit is a scored database record.
type Hit struct {
	Ordinal int     `json:"ordinal"`
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
}

// Better reports whether a ranks ahead of b: higher score first, and on
// equal scores the lower ordinal.
func Better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Ordinal < b.Ordinal
}

// TopK is a bounded min-heap under a mutex. Because Better is a total order
// on distinct ordinals, the retained set does not depend on the order in
// which hits are offered.
type TopK struct {
	mu sync.Mutex
	k  int
	h  hitHeap
}

// New returns a TopK retaining at most k hits; k must be positive.
func New(k int) *TopK {
	if k < 1 {
		k = 1
	}
	return &TopK{k: k, h: make(hitHeap, 0, min(k, 1024))}
}

// Offer considers one hit.
func (t *TopK) Offer(h Hit) {
	t.mu.Lock()
	t.offer(h)
	t.mu.Unlock()
}

// OfferAll considers a batch of hits under a single lock acquisition.
func (t *TopK) OfferAll(hits []Hit) {
	t.mu.Lock()
	for _, h := range hits {
		t.offer(h)
	}
	t.mu.Unlock()
}

func (t *TopK) offer(h Hit) {
	if len(t.h) < t.k {
		heap.Push(&t.h, h)
		return
	}
	if Better(h, t.h[0]) {
		t.h[0] = h
		heap.Fix(&t.h, 0)
	}
}

func (t *TopK) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.h)
}

// Results drains the heap and returns the hits best first. The TopK is
// empty afterwards.
func (t *TopK) Results() []Hit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Hit, len(t.h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(Hit)
	}
	return out
}

// hitHeap keeps the worst retained hit at the root.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }

func (h hitHeap) Less(i, j int) bool { return Better(h[j], h[i]) }

func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) {
	*h = append(*h, x.(Hit))
}

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
