package scheduler

import "github.com/nucleos/nucleos/runtime/task"

// WaitQueue holds threads blocked on a synchronization object or sleep
// deadline. Membership is exclusive with ready-queue membership. Wakeups are
// FIFO within the queue; the queue references threads only transiently while
// they are blocked and never owns them.
//
// All mutation happens inside scheduler methods under the scheduler lock;
// the type itself is just storage plus a name for diagnostics.
type WaitQueue struct {
	name string
	tids []task.TID
}

// Name returns the diagnostic name the queue was created with.
func (w *WaitQueue) Name() string { return w.name }

func (w *WaitQueue) push(tid task.TID) {
	w.tids = append(w.tids, tid)
}

func (w *WaitQueue) popFront() (task.TID, bool) {
	if len(w.tids) == 0 {
		return task.NoTID, false
	}
	tid := w.tids[0]
	w.tids = w.tids[1:]
	return tid, true
}

func (w *WaitQueue) remove(tid task.TID) bool {
	for i, id := range w.tids {
		if id == tid {
			w.tids = append(w.tids[:i], w.tids[i+1:]...)
			return true
		}
	}
	return false
}
