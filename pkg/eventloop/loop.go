// Package eventloop implements the per-IPCP event loop and
// flow-allocation dispatcher: a single-threaded cooperative dispatcher
// multiplexing kernel up-calls, timers, and management-flow ingress
// (spec.md §4.1).
package eventloop

import (
	"context"
	"fmt"
	"time"

	"github.com/rina-project/ipcpd/internal/logger"
	"github.com/rina-project/ipcpd/pkg/metrics"
)

// FDCallback is invoked on the loop goroutine when fd becomes readable.
// Per spec.md §5, callbacks observed by one loop execute in arrival order
// on the loop thread and never run concurrently with one another.
type FDCallback func(fd int)

// Config configures an EventLoop.
type Config struct {
	// Poller is the readiness backend. Production callers pass
	// NewEpollPoller(); tests inject a fake.
	Poller Poller
	// Metrics is optional; a nil value disables instrumentation.
	Metrics *metrics.EventLoopMetrics
	// MaxWait bounds how long a single poll iteration blocks when no timer
	// is sooner, so the loop periodically revisits ctx.Done() and the post
	// queue even with no registered fds.
	MaxWait time.Duration
}

// EventLoop is the single-threaded dispatcher described in spec.md §4.1:
// file descriptor read callbacks, a monotonic timer min-heap, and a post
// queue for work that must run on the loop thread (timer callbacks must
// not call issue_request synchronously — they post work instead, per
// spec.md §79).
type EventLoop struct {
	poller  Poller
	metrics *metrics.EventLoopMetrics
	maxWait time.Duration

	fdCallbacks map[int]FDCallback
	timers      *timerWheel

	postCh chan func()

	now func() int64
}

// New creates an EventLoop. Poller must be non-nil; production callers
// typically pass NewEpollPoller().
func New(cfg Config) (*EventLoop, error) {
	if cfg.Poller == nil {
		return nil, fmt.Errorf("eventloop: Poller is required")
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = time.Second
	}
	return &EventLoop{
		poller:      cfg.Poller,
		metrics:     cfg.Metrics,
		maxWait:     maxWait,
		fdCallbacks: make(map[int]FDCallback),
		timers:      newTimerWheel(),
		postCh:      make(chan func(), 256),
		now:         func() int64 { return time.Now().UnixNano() },
	}, nil
}

// AddFD registers a read callback for fd (fdcb_add).
func (l *EventLoop) AddFD(fd int, cb FDCallback) error {
	if err := l.poller.Add(fd, Readable); err != nil {
		return err
	}
	l.fdCallbacks[fd] = cb
	l.metrics.SetFDCallbacks(len(l.fdCallbacks))
	return nil
}

// RemoveFD unregisters a previously added fd (fdcb_del).
func (l *EventLoop) RemoveFD(fd int) error {
	delete(l.fdCallbacks, fd)
	l.metrics.SetFDCallbacks(len(l.fdCallbacks))
	return l.poller.Remove(fd)
}

// StartTimer schedules callback to run on the loop thread after d elapses,
// returning a TimerID usable with CancelTimer.
func (l *EventLoop) StartTimer(d time.Duration, callback func()) TimerID {
	id := l.timers.schedule(l.now()+d.Nanoseconds(), callback)
	l.metrics.SetTimersPending(len(l.timers.entries))
	return id
}

// CancelTimer cancels a pending timer; a no-op if it already fired.
func (l *EventLoop) CancelTimer(id TimerID) {
	l.timers.cancel(id)
	l.metrics.SetTimersPending(len(l.timers.entries))
}

// Post queues work to run on the loop thread at the next iteration. This is
// how code outside the loop (or a timer callback, which must not call
// issue_request synchronously) hands work back to it.
func (l *EventLoop) Post(work func()) {
	l.postCh <- work
}

// Run drives the loop until ctx is cancelled or the poller returns a fatal
// error. Each iteration: drains the post queue, computes a wait bound from
// the nearest timer deadline (capped at MaxWait), polls for fd readiness,
// dispatches ready fds, then fires any timers whose deadline has passed.
func (l *EventLoop) Run(ctx context.Context) error {
	defer l.poller.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		l.drainPosted()

		start := l.now()
		timeoutMs := l.waitTimeoutMs()
		events, err := l.poller.Wait(timeoutMs)
		if err != nil {
			return fmt.Errorf("eventloop: poll failed: %w", err)
		}

		for _, ev := range events {
			cb, ok := l.fdCallbacks[ev.Fd]
			if !ok {
				continue
			}
			cb(ev.Fd)
		}

		l.fireDueTimers()

		elapsed := float64(l.now()-start) / 1e9
		l.metrics.ObserveIteration(elapsed)
	}
}

func (l *EventLoop) drainPosted() {
	for {
		select {
		case work := <-l.postCh:
			work()
		default:
			return
		}
	}
}

func (l *EventLoop) waitTimeoutMs() int {
	maxMs := int(l.maxWait.Milliseconds())
	deadline, ok := l.timers.nextDeadline()
	if !ok {
		return maxMs
	}
	remainingMs := int((deadline - l.now()) / int64(time.Millisecond))
	if remainingMs < 0 {
		return 0
	}
	if remainingMs > maxMs {
		return maxMs
	}
	return remainingMs
}

func (l *EventLoop) fireDueTimers() {
	due := l.timers.popDue(l.now())
	l.metrics.SetTimersPending(len(l.timers.entries))
	for _, e := range due {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("eventloop: timer callback panicked", "timer_id", e.id, "recover", r)
				}
			}()
			e.callback()
		}()
	}
}
