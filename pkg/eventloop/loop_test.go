package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePoller lets tests drive EventLoop.Run without real file descriptors.
// Wait sleeps for a millisecond, ignoring its timeout, then returns
// whatever events the test pushed via fire in the meantime.
type fakePoller struct {
	mu      sync.Mutex
	added   map[int]uint32
	pending []Event
	closed  bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{added: make(map[int]uint32)}
}

func (p *fakePoller) Add(fd int, events uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added[fd] = events
	return nil
}

func (p *fakePoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.added, fd)
	return nil
}

func (p *fakePoller) Wait(timeoutMs int) ([]Event, error) {
	time.Sleep(time.Millisecond) // yield so Post/fire can interleave in tests
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out, nil
}

func (p *fakePoller) fire(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, ev)
}

func (p *fakePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestAddFDDispatchesOnReadiness(t *testing.T) {
	poller := newFakePoller()
	loop, err := New(Config{Poller: poller, MaxWait: 10 * time.Millisecond})
	require.NoError(t, err)

	called := make(chan int, 1)
	require.NoError(t, loop.AddFD(5, func(fd int) { called <- fd }))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	defer cancel()

	poller.fire(Event{Fd: 5, Events: Readable})

	select {
	case fd := <-called:
		assert.Equal(t, 5, fd)
	case <-time.After(time.Second):
		t.Fatal("fd callback never fired")
	}
}

func TestRemoveFDStopsDispatch(t *testing.T) {
	poller := newFakePoller()
	loop, err := New(Config{Poller: poller})
	require.NoError(t, err)

	require.NoError(t, loop.AddFD(5, func(int) {}))
	require.NoError(t, loop.RemoveFD(5))
	_, stillAdded := poller.added[5]
	assert.False(t, stillAdded)
}

func TestStartTimerFiresAfterDeadline(t *testing.T) {
	poller := newFakePoller()
	loop, err := New(Config{Poller: poller, MaxWait: 5 * time.Millisecond})
	require.NoError(t, err)

	fired := make(chan struct{})
	loop.StartTimer(10*time.Millisecond, func() { close(fired) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	defer cancel()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelTimerPreventsFire(t *testing.T) {
	poller := newFakePoller()
	loop, err := New(Config{Poller: poller, MaxWait: 5 * time.Millisecond})
	require.NoError(t, err)

	fired := false
	id := loop.StartTimer(10*time.Millisecond, func() { fired = true })
	loop.CancelTimer(id)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	time.Sleep(40 * time.Millisecond)
	cancel()

	assert.False(t, fired)
}

func TestPostRunsOnLoopThread(t *testing.T) {
	poller := newFakePoller()
	loop, err := New(Config{Poller: poller, MaxWait: 5 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	defer cancel()

	loop.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted work never ran")
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	poller := newFakePoller()
	loop, err := New(Config{Poller: poller, MaxWait: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run never returned after cancel")
	}
}
