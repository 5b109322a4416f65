package gateway

import (
	"sync"

	"github.com/sharetube/roomcluster/internal/wire"
)

// outboundQueueCap bounds the never-dropped FIFO side of a session's
// outbound queue (§5).
const outboundQueueCap = 256

// outboundQueue is one session's backpressure boundary between a room's
// Raft goroutine (which calls EnqueueImportant/EnqueueStateUpdate and must
// never block) and that session's own writer goroutine. ROOM_STATE_UPDATE
// is the one message kind this wire design ever coalesces: a fresher
// snapshot always supersedes a stale one, so it lives in a single
// overwritable slot rather than the FIFO. Every other push (CONNECTED,
// ROOM_CREATED, ROOM_JOINED, ROOM_LEFT, LEADER_CHANGED, ERROR) is never
// dropped; if the FIFO fills up the session is considered too far behind to
// keep and is closed (§5).
type outboundQueue struct {
	mu       sync.Mutex
	queue    []wire.Frame
	pending  *wire.RoomStateUpdateMsg
	closed   bool
	overflow bool
	signal   chan struct{}
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{signal: make(chan struct{}, 1)}
}

func (q *outboundQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// EnqueueImportant appends f to the never-dropped FIFO. It returns false
// once the queue has already overflowed or closed, at which point the
// caller's push is simply lost — the session is on its way down anyway.
func (q *outboundQueue) EnqueueImportant(f wire.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.overflow {
		return false
	}
	if len(q.queue) >= outboundQueueCap {
		q.overflow = true
		q.wake()
		return false
	}

	q.queue = append(q.queue, f)
	q.wake()
	return true
}

// EnqueueStateUpdate replaces any not-yet-sent snapshot with msg. It never
// grows the backlog: only the latest state matters to a client that is
// about to receive it (§5).
func (q *outboundQueue) EnqueueStateUpdate(msg wire.RoomStateUpdateMsg) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.pending = &msg
	q.wake()
}

// drain empties both the FIFO and the pending-state slot for the writer
// goroutine to flush, reporting whether the FIFO had already overflowed.
func (q *outboundQueue) drain() ([]wire.Frame, *wire.RoomStateUpdateMsg, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	frames := q.queue
	q.queue = nil
	state := q.pending
	q.pending = nil
	overflowed := q.overflow

	return frames, state, overflowed
}

func (q *outboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
