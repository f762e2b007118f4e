package eventloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Event is one readiness notification returned from a Poller's Wait.
type Event struct {
	Fd     int
	Events uint32
}

// Readable and Writable mirror the epoll event bits an EventLoop cares
// about; callers combine them with bitwise OR when calling Add.
const (
	Readable = unix.EPOLLIN
	Writable = unix.EPOLLOUT
)

// Poller is the minimal readiness-notification surface EventLoop needs.
// Abstracted behind an interface (rather than calling unix.Epoll* directly
// from loop.go) so unit tests can inject a fake poller and exercise
// fdcb_add/fdcb_del/timer-wheel logic without real file descriptors.
type Poller interface {
	Add(fd int, events uint32) error
	Remove(fd int) error
	Wait(timeoutMs int) ([]Event, error)
	Close() error
}

// epollPoller is the production Poller, backed by Linux epoll. Grounded on
// golang.org/x/sys/unix, already a dependency of the teacher's
// pkg/controlplane/runtime filesystem watchers — the same package, used
// here for epoll_create1/epoll_ctl/epoll_wait instead of inotify.
type epollPoller struct {
	epfd int
}

// NewEpollPoller creates a production epoll-backed Poller.
func NewEpollPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &epollPoller{epfd: fd}, nil
}

func (p *epollPoller) Add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Wait(timeoutMs int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}
		out := make([]Event, n)
		for i := 0; i < n; i++ {
			out[i] = Event{Fd: int(raw[i].Fd), Events: raw[i].Events}
		}
		return out, nil
	}
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
