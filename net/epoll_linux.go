//go:build linux

package net

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"

	"kcore/errors"
	"kcore/ipc/eventfd"
	"kcore/ksync"
	"kcore/vfs"
)

// Pollable is the minimal readiness contract Poll/Select/EpollSet all
// operate against — every Socket satisfies it, and so does any
// PollableInode with a WaitQueue exposed the same way.
type Pollable interface {
	Poll(events vfs.PollMask) vfs.PollMask
	WaitQueue() *ksync.WaitQueue
}

// HostPollable is a Pollable additionally backed by a real host file
// descriptor (ipc/eventfd.HostBacked is the one example in this tree),
// letting EpollSet register it directly with the host's epoll instead
// of bridging it.
type HostPollable interface {
	Pollable
	HostFD() int
}

type epollMember struct {
	pollable Pollable
	events   vfs.PollMask
	bridge   *eventfd.HostBacked // non-nil for bridged (non-host) pollables
	stop     chan struct{}
}

// EpollSet is the host-accelerated epoll backend behind the portable
// Pollable contract: members that expose a real host fd are registered
// directly with epoll_ctl; members that don't get bridged through a
// host-backed eventfd that a background goroutine signals whenever the
// member's own WaitQueue fires, so a single epoll_wait call can still
// block across a mix of host-native and pure-simulation pollables.
type EpollSet struct {
	fd int

	mu      sync.Mutex
	members map[int]*epollMember // host fd -> member
}

// NewEpollSet creates a host epoll instance via epoll_create1.
func NewEpollSet() (*EpollSet, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, errors.Wrap(err, errors.Io, "net", "epoll_create1")
	}
	return &EpollSet{fd: fd, members: map[int]*epollMember{}}, nil
}

// Add registers a pollable for the given events. Host-backed pollables
// are added straight to the host epoll set; others get a bridging
// eventfd whose counter a goroutine increments on every WaitQueue
// wakeup that leaves the pollable ready.
func (es *EpollSet) Add(p Pollable, events vfs.PollMask) error {
	if hp, ok := p.(HostPollable); ok {
		return es.addFD(hp.HostFD(), &epollMember{pollable: p, events: events}, events)
	}

	bridge, err := eventfd.NewHostBacked(0, 0)
	if err != nil {
		return err
	}
	m := &epollMember{pollable: p, events: events, bridge: bridge, stop: make(chan struct{})}
	if err := es.addFD(bridge.FD(), m, events); err != nil {
		bridge.Close()
		return err
	}
	go bridgeWakeups(p, events, bridge, m.stop)
	return nil
}

func (es *EpollSet) addFD(fd int, m *epollMember, events vfs.PollMask) error {
	var epollEvents uint32
	if events&vfs.PollIn != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&vfs.PollOut != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	ev := &unix.EpollEvent{Events: epollEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(es.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return errors.Wrap(err, errors.Io, "net", "epoll_ctl_add")
	}
	es.mu.Lock()
	es.members[fd] = m
	es.mu.Unlock()
	return nil
}

// Remove unregisters a previously added host fd, stopping its bridge
// goroutine if it had one.
func (es *EpollSet) Remove(fd int) {
	es.mu.Lock()
	m, ok := es.members[fd]
	delete(es.members, fd)
	es.mu.Unlock()
	if !ok {
		return
	}
	unix.EpollCtl(es.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if m.bridge != nil {
		close(m.stop)
		m.bridge.Close()
	}
}

// Wait blocks in epoll_wait for up to timeoutMillis (-1 blocks
// indefinitely) and returns the pollables that became ready, draining
// any bridged eventfd counters it observes along the way.
func (es *EpollSet) Wait(maxEvents int, timeoutMillis int) ([]Pollable, error) {
	raw := make([]unix.EpollEvent, maxEvents)
	n, err := unix.EpollWait(es.fd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.Io, "net", "epoll_wait")
	}

	ready := make([]Pollable, 0, n)
	es.mu.Lock()
	defer es.mu.Unlock()
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		m, ok := es.members[fd]
		if !ok {
			continue
		}
		if m.bridge != nil {
			var drain [8]byte
			m.bridge.Read(drain[:])
		}
		ready = append(ready, m.pollable)
	}
	return ready, nil
}

// Close tears down the epoll instance and every bridge goroutine still
// running for a non-host-backed member.
func (es *EpollSet) Close() error {
	es.mu.Lock()
	members := es.members
	es.members = nil
	es.mu.Unlock()
	for _, m := range members {
		if m.bridge != nil {
			close(m.stop)
			m.bridge.Close()
		}
	}
	return unix.Close(es.fd)
}

func bridgeWakeups(p Pollable, events vfs.PollMask, bridge *eventfd.HostBacked, stop <-chan struct{}) {
	counter := make([]byte, 8)
	binary.LittleEndian.PutUint64(counter, 1)
	for {
		if p.Poll(events) != 0 {
			bridge.Write(counter)
		}
		w := ksync.NewWaker(0)
		p.WaitQueue().RegisterWaker(w)
		select {
		case <-w.C():
		case <-stop:
			p.WaitQueue().RemoveWaker(w)
			return
		}
	}
}
