package net

import (
	"kcore/ksync"
	"kcore/timer"
	"kcore/vfs"
)

// PollEntry is one file-descriptor's worth of work for Poll: the events
// the caller asked about, and the events actually observed ready.
type PollEntry struct {
	Socket  Socket
	Events  vfs.PollMask
	Revents vfs.PollMask
}

// Poll is poll(2)'s underlying primitive: it evaluates every entry's
// readiness, blocks (registering one shared waker across every entry's
// wait queue so a readiness change on any of them wakes the call) when
// none are ready yet, and returns once at least one is ready or timeout
// jiffies have elapsed. timeout == timer.MaxJiffies blocks indefinitely;
// timeout == 0 polls once without blocking. It returns the count of
// ready entries and the jiffies remaining from timeout when it returned,
// per §4.13's "remaining-time update on completion".
func Poll(entries []*PollEntry, timeout timer.Jiffies) (int, timer.Jiffies, error) {
	var deadline timer.Jiffies
	indefinite := timeout == timer.MaxJiffies
	if !indefinite {
		deadline = timer.Now() + timeout
	}

	for {
		ready := evaluate(entries)
		if ready > 0 {
			if indefinite {
				return ready, 0, nil
			}
			now := timer.Now()
			if now >= deadline {
				return ready, 0, nil
			}
			return ready, deadline - now, nil
		}
		if timeout == 0 {
			return 0, 0, nil
		}

		w := ksync.NewWaker(0)
		for _, e := range entries {
			e.Socket.WaitQueue().RegisterWaker(w)
		}

		if indefinite {
			<-w.C()
		} else {
			now := timer.Now()
			if now >= deadline {
				unregister(entries, w)
				return 0, 0, nil
			}
			fired := make(chan struct{}, 1)
			tm := timer.New(func() { fired <- struct{}{} }, deadline)
			tm.Activate()
			select {
			case <-w.C():
				tm.Cancel()
			case <-fired:
				unregister(entries, w)
				return 0, 0, nil
			}
		}
		unregister(entries, w)
	}
}

func evaluate(entries []*PollEntry) int {
	ready := 0
	for _, e := range entries {
		e.Revents = e.Socket.Poll(e.Events)
		if e.Revents != 0 {
			ready++
		}
	}
	return ready
}

func unregister(entries []*PollEntry, w *ksync.Waker) {
	for _, e := range entries {
		e.Socket.WaitQueue().RemoveWaker(w)
	}
}

// Select maps select(2)'s fd-set triples onto Poll: every socket in
// read/write/except is combined into one internal PollEntry list
// (OR-ing PollIn/PollOut/PollErr as applicable to a socket appearing in
// more than one set), blocked on together, and the result is split back
// into three ready slices.
func Select(read, write, except []Socket, timeout timer.Jiffies) (readyRead, readyWrite, readyExcept []Socket, remaining timer.Jiffies, err error) {
	wanted := map[Socket]vfs.PollMask{}
	order := make([]Socket, 0, len(read)+len(write)+len(except))
	addWant := func(s Socket, mask vfs.PollMask) {
		if _, seen := wanted[s]; !seen {
			order = append(order, s)
		}
		wanted[s] |= mask
	}
	for _, s := range read {
		addWant(s, vfs.PollIn)
	}
	for _, s := range write {
		addWant(s, vfs.PollOut)
	}
	for _, s := range except {
		addWant(s, vfs.PollErr)
	}

	entries := make([]*PollEntry, len(order))
	for i, s := range order {
		entries[i] = &PollEntry{Socket: s, Events: wanted[s]}
	}

	_, remaining, err = Poll(entries, timeout)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	for _, e := range entries {
		if e.Revents&vfs.PollIn != 0 {
			readyRead = append(readyRead, e.Socket)
		}
		if e.Revents&vfs.PollOut != 0 {
			readyWrite = append(readyWrite, e.Socket)
		}
		if e.Revents&vfs.PollErr != 0 {
			readyExcept = append(readyExcept, e.Socket)
		}
	}
	return readyRead, readyWrite, readyExcept, remaining, nil
}
