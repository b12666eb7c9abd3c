// Package queue provides a bounded top-k collector used by the index
// backends to keep the best-scoring candidates during a scan.
package queue

import "sort"

// Item is a scored slot.
type Item struct {
	Slot  uint32
	Score float32
}

// TopK keeps the k highest-scoring items seen so far using a min-heap on
// score, so each candidate costs O(log k) at worst and O(1) when it cannot
// enter the result set.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a collector for the k best items.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]Item, 0, k)}
}

// Push offers an item to the collector.
func (t *TopK) Push(slot uint32, score float32) {
	if t.k <= 0 {
		return
	}
	if len(t.items) < t.k {
		t.items = append(t.items, Item{Slot: slot, Score: score})
		t.siftUp(len(t.items) - 1)
		return
	}
	if score <= t.items[0].Score {
		return
	}
	t.items[0] = Item{Slot: slot, Score: score}
	t.siftDown(0)
}

// Len returns the number of collected items.
func (t *TopK) Len() int { return len(t.items) }

// MinScore returns the lowest score currently retained, or false when the
// collector has not reached capacity yet.
func (t *TopK) MinScore() (float32, bool) {
	if len(t.items) < t.k || len(t.items) == 0 {
		return 0, false
	}
	return t.items[0].Score, true
}

// Drain returns the collected items in descending score order and resets
// the collector.
func (t *TopK) Drain() []Item {
	out := t.items
	t.items = nil
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (t *TopK) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if t.items[i].Score >= t.items[parent].Score {
			break
		}
		t.items[i], t.items[parent] = t.items[parent], t.items[i]
		i = parent
	}
}

func (t *TopK) siftDown(i int) {
	n := len(t.items)
	for {
		smallest := i
		if l := 2*i + 1; l < n && t.items[l].Score < t.items[smallest].Score {
			smallest = l
		}
		if r := 2*i + 2; r < n && t.items[r].Score < t.items[smallest].Score {
			smallest = r
		}
		if smallest == i {
			return
		}
		t.items[i], t.items[smallest] = t.items[smallest], t.items[i]
		i = smallest
	}
}
