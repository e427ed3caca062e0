package scheduler

import "github.com/nucleos/nucleos/runtime/task"

// runQueue is a per-priority FIFO of ready threads. A thread is a member of
// at most one queue (ready or wait) at a time.
type runQueue struct {
	tids []task.TID
}

func (q *runQueue) push(tid task.TID) {
	q.tids = append(q.tids, tid)
}

func (q *runQueue) pop() (task.TID, bool) {
	if len(q.tids) == 0 {
		return task.NoTID, false
	}
	tid := q.tids[0]
	q.tids = q.tids[1:]
	return tid, true
}

func (q *runQueue) remove(tid task.TID) bool {
	for i, id := range q.tids {
		if id == tid {
			q.tids = append(q.tids[:i], q.tids[i+1:]...)
			return true
		}
	}
	return false
}

func (q *runQueue) len() int { return len(q.tids) }

// snapshot returns the queue content in dispatch order.
func (q *runQueue) snapshot() []task.TID {
	out := make([]task.TID, len(q.tids))
	copy(out, q.tids)
	return out
}
