package scheduler

import "container/heap"

// dueQueue is a min-heap of records keyed by scheduled instant. Records with
// the same instant keep insertion order.
type dueQueue []*record

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	a, b := q[i].scheduled(), q[j].scheduled()
	if a.Equal(b) {
		return q[i].seq < q[j].seq
	}
	return a.Before(b)
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	r := x.(*record)
	r.index = len(*q)
	*q = append(*q, r)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil // allow GC
	r.index = -1
	*q = old[:n-1]
	return r
}

func (q dueQueue) peek() *record {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// drain removes every record in ascending order and leaves the queue empty.
func (q *dueQueue) drain() []*record {
	out := make([]*record, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, heap.Pop(q).(*record))
	}
	return out
}
