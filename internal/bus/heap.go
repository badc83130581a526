package bus

import "polymarket-mm/pkg/types"

// eventHeap is a container/heap implementation ordered strictly by
// Event.Priority (smaller fires first), matching the source's
// dataclass(order=True) semantics where every field but priority is
// excluded from comparison.
type eventHeap []types.Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(types.Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
