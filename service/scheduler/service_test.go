package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/internal/clock"
	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/service/pagealloc"
	"github.com/nucleos/nucleos/service/registry"
)

const testEntry = 0x400000

type fixture struct {
	sched    *Service
	registry *registry.Service
	switcher *arch.SimSwitcher
	clk      *clock.Source
	kernel   task.PID
	idle     task.TID
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	pages := pagealloc.New(pagealloc.Config{TotalPages: 512, PageSize: 4096, Base: 0x100000})
	reg := registry.New(pages, registry.Config{MaxProcesses: 16, MaxThreads: 64, StackPages: 1})
	switcher := &arch.SimSwitcher{}
	clk := &clock.Source{}
	sched, err := New(reg, switcher, clk, config)
	require.NoError(t, err)

	kernel, err := reg.CreateProcess("kernel", task.NoPID, 0, 0, task.Limits{})
	require.NoError(t, err)
	kernel.SetState(task.ProcStateActive)

	idle, err := reg.CreateThread(kernel.ID, "idle", testEntry, 0, task.PriorityIdle)
	require.NoError(t, err)
	require.NoError(t, sched.SetIdle(idle.ID))

	return &fixture{sched: sched, registry: reg, switcher: switcher, clk: clk, kernel: kernel.ID, idle: idle.ID}
}

func (f *fixture) spawn(t *testing.T, name string, prio task.Priority) task.TID {
	t.Helper()
	thread, err := f.registry.CreateThread(f.kernel, name, testEntry, 0, prio)
	require.NoError(t, err)
	require.NoError(t, f.sched.Admit(thread.ID))
	return thread.ID
}

func (f *fixture) state(t *testing.T, tid task.TID) task.State {
	t.Helper()
	thread, err := f.registry.Thread(tid)
	require.NoError(t, err)
	return thread.GetState()
}

func TestDispatchStrictPriority(t *testing.T) {
	f := newFixture(t, Config{})

	low := f.spawn(t, "low", task.PriorityLow)
	high := f.spawn(t, "high", task.PriorityHigh)
	normal := f.spawn(t, "normal", task.PriorityNormal)

	assert.Equal(t, high, f.sched.Dispatch())
	assert.Equal(t, task.StateRunning, f.state(t, high))

	_, err := f.sched.Exit()
	require.NoError(t, err)
	assert.Equal(t, normal, f.sched.Current())

	_, err = f.sched.Exit()
	require.NoError(t, err)
	assert.Equal(t, low, f.sched.Current())

	_, err = f.sched.Exit()
	require.NoError(t, err)
	assert.Equal(t, f.idle, f.sched.Current(), "idle is always selectable")
}

func TestFIFOWithinLevelAndFairness(t *testing.T) {
	f := newFixture(t, Config{})

	a := f.spawn(t, "a", task.PriorityNormal)
	b := f.spawn(t, "b", task.PriorityNormal)
	c := f.spawn(t, "c", task.PriorityNormal)

	// N same-priority threads, none blocking: each dispatched once within
	// N yield cycles, in admission order.
	var order []task.TID
	order = append(order, f.sched.Dispatch())
	for i := 0; i < 2; i++ {
		tid, err := f.sched.Yield()
		require.NoError(t, err)
		order = append(order, tid)
	}
	assert.Equal(t, []task.TID{a, b, c}, order)

	// The cycle repeats.
	tid, err := f.sched.Yield()
	require.NoError(t, err)
	assert.Equal(t, a, tid)
}

func TestSliceExpiryDemotesToTail(t *testing.T) {
	f := newFixture(t, Config{})

	a := f.spawn(t, "a", task.PriorityNormal)
	b := f.spawn(t, "b", task.PriorityNormal)
	require.Equal(t, a, f.sched.Dispatch())

	// Normal slice is 8 ticks; the 8th expires it.
	for i := 0; i < 7; i++ {
		f.sched.Tick()
		assert.Equal(t, a, f.sched.Current())
	}
	f.sched.Tick()
	assert.Equal(t, b, f.sched.Current(), "slice exhaustion hands the level to its next thread")
	assert.Equal(t, []task.TID{a}, f.sched.ReadyQueue(task.PriorityNormal))
}

func TestTickPreemptsForHigherLevel(t *testing.T) {
	f := newFixture(t, Config{})

	low := f.spawn(t, "low", task.PriorityLow)
	require.Equal(t, low, f.sched.Dispatch())

	high := f.spawn(t, "high", task.PriorityHigh)
	assert.Equal(t, low, f.sched.Current(), "admission alone does not preempt")

	// Dispatched at or before the next tick boundary.
	f.sched.Tick()
	assert.Equal(t, high, f.sched.Current())
	assert.Equal(t, task.StateReady, f.state(t, low))
	assert.Equal(t, uint64(1), f.sched.Preemptions())
}

func TestRuntimeAccounting(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.spawn(t, "a", task.PriorityNormal)
	require.Equal(t, a, f.sched.Dispatch())

	for i := 0; i < 5; i++ {
		f.sched.Tick()
	}
	thread, err := f.registry.Thread(a)
	require.NoError(t, err)
	assert.Equal(t, clock.Ticks(5), thread.Runtime)

	proc, err := f.registry.Process(f.kernel)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), proc.CPUTime)
}

func TestAgingPromotesStarvedThread(t *testing.T) {
	f := newFixture(t, Config{AgingInterval: 4, AgingThreshold: 8, LoadInterval: 16})

	hog := f.spawn(t, "hog", task.PriorityHigh)
	starved := f.spawn(t, "starved", task.PriorityLow)
	require.Equal(t, hog, f.sched.Dispatch())

	// The hog never blocks; strict priority would starve the low thread
	// forever. Aging must promote it level by level until it runs.
	ranStarved := false
	for i := 0; i < 60 && !ranStarved; i++ {
		f.sched.Tick()
		ranStarved = f.sched.Current() == starved
	}
	assert.True(t, ranStarved, "aging failed to rescue the starved thread")

	// The boost is transient: once dispatched, the base level is restored.
	thread, err := f.registry.Thread(starved)
	require.NoError(t, err)
	assert.Equal(t, task.PriorityLow, thread.Priority)
	assert.Equal(t, task.PriorityLow, thread.Base)
}

func TestSleepAndTimedWake(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.spawn(t, "a", task.PriorityNormal)
	require.Equal(t, a, f.sched.Dispatch())

	require.NoError(t, f.sched.Sleep(5))
	assert.Equal(t, task.StateSleeping, f.state(t, a))
	assert.Equal(t, f.idle, f.sched.Current())

	for i := 0; i < 4; i++ {
		f.sched.Tick()
		assert.Equal(t, f.idle, f.sched.Current())
	}
	f.sched.Tick()
	assert.Equal(t, a, f.sched.Current(), "sleeper resumes once the deadline tick arrives")
}

func TestBlockAndWake(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.spawn(t, "a", task.PriorityNormal)
	require.Equal(t, a, f.sched.Dispatch())

	wq := f.sched.NewWaitQueue("test-wq")
	blocked, err := f.sched.Block(wq)
	require.NoError(t, err)
	assert.Equal(t, a, blocked)
	assert.Equal(t, task.StateBlocked, f.state(t, a))
	assert.Equal(t, "test-wq", func() string {
		thread, _ := f.registry.Thread(a)
		return thread.WaitingOn
	}())
	assert.Equal(t, f.idle, f.sched.Current())

	woken, ok := f.sched.Wake(wq)
	require.True(t, ok)
	assert.Equal(t, a, woken)
	assert.Equal(t, task.StateReady, f.state(t, a))

	f.sched.Tick()
	assert.Equal(t, a, f.sched.Current())
}

func TestWakeAllPreservesFIFO(t *testing.T) {
	f := newFixture(t, Config{})
	wq := f.sched.NewWaitQueue("barrier")

	var blockOrder []task.TID
	for _, name := range []string{"a", "b", "c"} {
		tid := f.spawn(t, name, task.PriorityNormal)
		f.sched.Dispatch()
		for f.sched.Current() != tid {
			_, err := f.sched.Yield()
			require.NoError(t, err)
		}
		_, err := f.sched.Block(wq)
		require.NoError(t, err)
		blockOrder = append(blockOrder, tid)
	}

	assert.Equal(t, 3, f.sched.QueueLen(wq))
	assert.Equal(t, 3, f.sched.WakeAll(wq))
	assert.Equal(t, blockOrder, f.sched.ReadyQueue(task.PriorityNormal), "wakeup order is block order")
}

func TestAddressSpaceSwitchOnProcessCrossing(t *testing.T) {
	f := newFixture(t, Config{})

	other, err := f.registry.CreateProcess("other", f.kernel, 0, 0, task.Limits{})
	require.NoError(t, err)
	other.SetState(task.ProcStateActive)

	k1 := f.spawn(t, "k1", task.PriorityNormal)
	k2 := f.spawn(t, "k2", task.PriorityNormal)

	u1, err := f.registry.CreateThread(other.ID, "u1", testEntry, 0, task.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, f.sched.Admit(u1.ID))

	require.Equal(t, k1, f.sched.Dispatch())
	crossings := f.switcher.SpaceSwaps

	// Same process: no address-space switch.
	tid, err := f.sched.Yield()
	require.NoError(t, err)
	require.Equal(t, k2, tid)
	assert.Equal(t, crossings, f.switcher.SpaceSwaps)

	// Crossing into the other process switches spaces.
	tid, err = f.sched.Yield()
	require.NoError(t, err)
	require.Equal(t, u1.ID, tid)
	assert.Equal(t, crossings+1, f.switcher.SpaceSwaps)
}

func TestContextSwitchRecordsSwap(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.spawn(t, "a", task.PriorityNormal)

	swaps := f.switcher.Swaps
	require.Equal(t, a, f.sched.Dispatch())
	assert.Equal(t, swaps+1, f.switcher.Swaps)

	thread, err := f.registry.Thread(a)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), thread.Switches)
}

func TestIdleHaltsUntilInterrupt(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, f.idle, f.sched.Dispatch())
	assert.Greater(t, f.switcher.Halts, 0)
}

func TestLoadAverageTracksRunnable(t *testing.T) {
	f := newFixture(t, Config{AgingInterval: 50, AgingThreshold: 100, LoadInterval: 2})

	f.spawn(t, "a", task.PriorityNormal)
	f.spawn(t, "b", task.PriorityNormal)
	f.sched.Dispatch()

	assert.Zero(t, f.sched.LoadAverage())
	for i := 0; i < 10; i++ {
		f.sched.Tick()
	}
	load := f.sched.LoadAverage()
	assert.Greater(t, load, 0.5)
	assert.LessOrEqual(t, load, 2.0)
}

func TestAdmitRequiresNewState(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.spawn(t, "a", task.PriorityNormal)
	assert.ErrorIs(t, f.sched.Admit(a), ErrBadState)
	assert.ErrorIs(t, f.sched.Admit(task.TID(55)), registry.ErrNotFound)
}

func TestYieldWithoutCurrent(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.sched.Yield()
	assert.ErrorIs(t, err, ErrNoCurrent)
}

func TestRetireAndInterrupt(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.spawn(t, "a", task.PriorityNormal)
	b := f.spawn(t, "b", task.PriorityNormal)
	require.Equal(t, a, f.sched.Dispatch())

	// Retire a ready thread: pulled from its queue, zombie.
	require.NoError(t, f.sched.Retire(b))
	assert.Equal(t, task.StateZombie, f.state(t, b))
	assert.Empty(t, f.sched.ReadyQueue(task.PriorityNormal))

	// A running thread cannot be retired out from under itself.
	assert.ErrorIs(t, f.sched.Retire(a), ErrBadState)

	// Interrupt pulls a sleeper back ahead of its deadline.
	require.NoError(t, f.sched.Sleep(100))
	require.NoError(t, f.sched.Interrupt(a))
	assert.Equal(t, task.StateReady, f.state(t, a))
	f.sched.Tick()
	assert.Equal(t, a, f.sched.Current())
}

func TestDispatchSkipsVanishedThread(t *testing.T) {
	f := newFixture(t, Config{})
	gone := f.spawn(t, "gone", task.PriorityNormal)
	stays := f.spawn(t, "stays", task.PriorityNormal)

	// Tear the first thread's registry entry down while its TID still sits
	// in the ready queue; dispatch must step over the stale entry.
	thread, err := f.registry.Thread(gone)
	require.NoError(t, err)
	thread.SetState(task.StateZombie)
	require.NoError(t, f.registry.DestroyThread(gone))

	assert.Equal(t, stays, f.sched.Dispatch())

	// With nothing live queued the idle thread is selected, not a stale TID.
	_, err = f.sched.Exit()
	require.NoError(t, err)
	assert.Equal(t, f.idle, f.sched.Current())
}
