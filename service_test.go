package nucleos

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleos/nucleos/model/image"
	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/service/pagealloc"
	"github.com/nucleos/nucleos/service/registry"
)

func testConfig() *Config {
	config := DefaultConfig()
	config.Memory = pagealloc.Config{TotalPages: 2048, PageSize: 4096, Base: 0x100000}
	config.Registry = registry.Config{MaxProcesses: 32, MaxThreads: 128, StackPages: 1}
	config.HeapPages = 256
	config.TickInterval = time.Millisecond
	return config
}

func testImage(name string) *image.Image {
	return &image.Image{
		Name:  name,
		Entry: 0x40,
		Segments: []image.Segment{
			{Name: "text", Pages: 1, Data: []byte(name + " text")},
		},
	}
}

func TestNewComposesServices(t *testing.T) {
	s, err := New(WithConfig(testConfig()))
	require.NoError(t, err)

	assert.NotNil(t, s.Pages())
	assert.NotNil(t, s.Heap())
	assert.NotNil(t, s.Registry())
	assert.NotNil(t, s.Scheduler())
	assert.NotNil(t, s.Sync())
	assert.NotNil(t, s.Lifecycle())
	assert.NotNil(t, s.Syscalls())
	assert.NotNil(t, s.Loader())

	// The heap arena is charged against physical memory up front.
	assert.Equal(t, 2048-256, s.Pages().Stats().FreePages)
}

func TestNewRejectsBadConfig(t *testing.T) {
	config := testConfig()
	config.HeapPages = 0
	_, err := New(WithConfig(config))
	assert.Error(t, err)

	config = testConfig()
	config.TickInterval = 0
	_, err = New(WithConfig(config))
	assert.Error(t, err)
}

func TestBootCreatesKernelAndIdle(t *testing.T) {
	s, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	r := s.Runtime()
	ctx := context.Background()

	require.NoError(t, r.Boot(ctx))
	assert.Equal(t, task.PID(0), r.Kernel())

	kernel, err := s.Registry().Process(r.Kernel())
	require.NoError(t, err)
	assert.Equal(t, task.ProcStateActive, kernel.GetState())

	idle, err := s.Registry().Thread(r.Idle())
	require.NoError(t, err)
	assert.Equal(t, task.PriorityIdle, idle.Base)

	// With nothing else runnable the idle thread holds the CPU.
	assert.Equal(t, r.Idle(), s.Scheduler().Dispatch())

	// Boot runs once; a second call keeps the existing tables.
	require.NoError(t, r.Boot(ctx))
	assert.Len(t, s.Registry().Processes(), 1)
}

func TestStartProgram(t *testing.T) {
	s, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	r := s.Runtime()
	ctx := context.Background()

	_, err = r.StartProgram(ctx, testImage("early"), task.PriorityNormal)
	assert.Error(t, err, "programs require a booted runtime")

	require.NoError(t, r.Boot(ctx))
	pid, err := r.StartProgram(ctx, testImage("init"), task.PriorityNormal)
	require.NoError(t, err)

	proc, err := s.Registry().Process(pid)
	require.NoError(t, err)
	assert.Equal(t, r.Kernel(), proc.Parent)
	assert.Equal(t, task.ProcStateActive, proc.GetState())
	require.Len(t, proc.Space.Pages, 1)
	assert.Equal(t, proc.Space.Pages[0]+0x40, proc.Space.Entry)

	// The main thread displaces idle on the next dispatch.
	require.Len(t, proc.ThreadIDs(), 1)
	main := proc.ThreadIDs()[0]
	assert.Equal(t, main, s.Scheduler().Dispatch())

	thread, err := s.Registry().Thread(main)
	require.NoError(t, err)
	assert.Equal(t, proc.Space.Entry, thread.Context.RIP)
}

func TestStartProgramFailureLeavesNoResidue(t *testing.T) {
	config := testConfig()
	// Room for the idle thread and one program thread only.
	config.Registry.MaxThreads = 2
	s, err := New(WithConfig(config))
	require.NoError(t, err)
	r := s.Runtime()
	ctx := context.Background()

	require.NoError(t, r.Boot(ctx))
	first, err := r.StartProgram(ctx, testImage("init"), task.PriorityNormal)
	require.NoError(t, err)

	// The thread table is full: the second program fails, and its
	// half-built process must not keep a table slot.
	_, err = r.StartProgram(ctx, testImage("late"), task.PriorityNormal)
	require.Error(t, err)
	assert.Len(t, s.Registry().Processes(), 2)
	assert.Len(t, s.Registry().Threads(), 2)

	// Freeing capacity makes the same start succeed.
	firstProc, err := s.Registry().Process(first)
	require.NoError(t, err)
	tid := firstProc.ThreadIDs()[0]
	require.NoError(t, s.Scheduler().Retire(tid))
	require.NoError(t, s.Registry().DestroyThread(tid))
	_, err = r.StartProgram(ctx, testImage("late"), task.PriorityNormal)
	require.NoError(t, err)
}

func TestStartBoot(t *testing.T) {
	s, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	r := s.Runtime()
	ctx := context.Background()

	spec := `
programs:
  - name: init
    entry: 0x10
    segments:
      - name: text
        pages: 1
  - name: logd
    segments:
      - name: text
        pages: 2
`
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.yaml"), []byte(spec), 0o644))

	require.NoError(t, r.Boot(ctx))
	pids, err := r.StartBoot(ctx, filepath.Join(dir, "boot"))
	require.NoError(t, err)
	require.Len(t, pids, 2)

	for i, name := range []string{"init", "logd"} {
		proc, perr := s.Registry().Process(pids[i])
		require.NoError(t, perr)
		assert.Equal(t, name, proc.Name)
		assert.Equal(t, task.ProcStateActive, proc.GetState())
	}
}

func TestRuntimeStartShutdown(t *testing.T) {
	s, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	r := s.Runtime()
	ctx := context.Background()

	assert.Error(t, r.Start(ctx), "start requires boot")

	require.NoError(t, r.Boot(ctx))
	_, err = r.StartProgram(ctx, testImage("spin"), task.PriorityNormal)
	require.NoError(t, err)
	s.Scheduler().Dispatch()

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Start(ctx), "start is idempotent")

	// The interrupt loop drives ticks; the load average picks up the
	// runnable program.
	assert.Eventually(t, func() bool {
		return s.Scheduler().LoadAverage() > 0
	}, 2*time.Second, 5*time.Millisecond)

	r.Shutdown()
	r.Shutdown()
}

func TestSyscallRoundTripThroughRuntime(t *testing.T) {
	s, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	r := s.Runtime()
	ctx := context.Background()

	require.NoError(t, r.Boot(ctx))
	_, err = r.StartProgram(ctx, testImage("shell"), task.PriorityNormal)
	require.NoError(t, err)
	s.Scheduler().Dispatch()

	res := s.Syscalls().Fork(ctx)
	require.Zero(t, res.Errno)
	child := task.PID(res.Value)

	childProc, err := s.Registry().Process(child)
	require.NoError(t, err)
	assert.Equal(t, "shell", childProc.Name)
}
