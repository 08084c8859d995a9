package dispatch

import "time"

// sendQueue is a min-heap of pending sends keyed by fire time. It is not
// self-locking; the dispatcher's mutex guards all access. Cancellation is
// lazy: a popped entry whose instance is no longer pending is skipped.
type sendQueue []*queuedSend

type queuedSend struct {
	instanceID string
	at         time.Time
	seq        uint64 // tie-breaker preserving enqueue order
}

func (q sendQueue) Len() int { return len(q) }

func (q sendQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q sendQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *sendQueue) Push(x interface{}) {
	*q = append(*q, x.(*queuedSend))
}

func (q *sendQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
