package imageapi

import (
	"sync"
	"time"
)

// PendingOp is a unit of render work requested by the request-handling
// context and executed only by the render loop.
type PendingOp struct {
	// Payload is a complete full-frame JPEG, nil for a dismiss.
	Payload []byte
	Dismiss bool

	Timeout time.Duration
	Start   time.Time

	id uint64
}

// OpQueue is the single-slot, version-counted handoff between the two
// execution contexts. Submitting moves ownership of the payload into the
// queue; taking moves it out. A new submission replaces any unconsumed
// prior operation: stale uploads are discarded, not buffered, so at most
// one operation is ever pending and the last write wins.
//
// This is the only sanctioned path by which request handlers influence
// render state.
type OpQueue struct {
	mu        sync.Mutex
	op        PendingOp
	submitted uint64
	consumed  uint64
}

// Submit stores op as the pending operation, dropping any unconsumed
// predecessor and its payload.
func (q *OpQueue) Submit(op PendingOp) {
	q.mu.Lock()
	q.submitted++
	op.id = q.submitted
	q.op = op
	q.mu.Unlock()
}

// TryTakeDue returns the pending operation, if any. It returns nothing
// while renderBusy is set (a long render-context operation such as a
// full-frame decode is underway) and is idempotent under spurious
// re-checks: the render loop records the last id it consumed and a given
// submission is handed out exactly once.
//
// Only the render loop may call this.
func (q *OpQueue) TryTakeDue(renderBusy bool) (PendingOp, bool) {
	if renderBusy {
		return PendingOp{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consumed == q.submitted {
		return PendingOp{}, false
	}
	q.consumed = q.submitted
	op := q.op
	q.op = PendingOp{}
	return op, true
}
