package core

import (
	"container/heap"
	"time"

	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// Reply is what a Transaction's callback receives: either a terminal or
// MORE-flagged reply header with its body, or a terminal error (ErrTimeout
// from the deadline sweep, or the error passed to PeerState.Reset, which
// is ErrConnReset when Reset is given nil).
type Reply struct {
	Header *wire.CommandHeader
	Body   []byte
	Err    error
}

// Stats accumulates per-transaction bookkeeping, mirroring the teacher
// protocol's SequenceNumber/latency bookkeeping style in pkg/mcast/protocol.go.
type Stats struct {
	BytesSent        int64
	BytesRecv        int64
	SendQueueLatency time.Duration
	RecvQueueLatency time.Duration
	Replies          int
}

// Transaction represents an outstanding request awaiting one or more
// replies, as described in spec §3.
type Transaction struct {
	ID       uint64
	Opcode   wire.Opcode
	Start    time.Time
	Wait     time.Duration
	Deadline time.Time
	Peer     *PeerState
	Callback func(Reply)

	Stats Stats

	// running is true while Callback is executing; the deadline sweep
	// skips a transaction with running set, matching spec §4.3's rule
	// that a transaction whose callback is currently running is absent
	// from the deadline index.
	running bool

	// heapIndex is maintained by container/heap's Swap so that removal
	// by id is O(log n) instead of O(n).
	heapIndex int
}

// touch recomputes Deadline from now + Wait, the update that happens on
// insertion and on MORE-flag reinsertion.
func (t *Transaction) touch(now time.Time) {
	t.Deadline = now.Add(t.Wait)
}

// deadlineHeap is a container/heap-ordered min-heap of *Transaction keyed
// by (Deadline, ID), giving O(log n) next-to-expire lookup and O(log n)
// arbitrary removal by id when paired with the index map PeerState keeps —
// the "balanced tree or skiplist" structure the design notes call for.
type deadlineHeap []*Transaction

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	if h[i].Deadline.Equal(h[j].Deadline) {
		return h[i].ID < h[j].ID
	}
	return h[i].Deadline.Before(h[j].Deadline)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *deadlineHeap) Push(x any) {
	t := x.(*Transaction)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*deadlineHeap)(nil)
