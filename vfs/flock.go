package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"

	"kcore/errors"
)

const flockShardCount = 64

// flockKey identifies an advisory-lockable object by the device it lives
// on and its inode number, stable across mount overlays since Resolve
// always canonicalizes through the owning Mount before a caller reaches
// this far.
type flockKey struct {
	DevID, InodeID uint64
}

func (k flockKey) shard() uint64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(k.DevID >> (8 * i))
		buf[8+i] = byte(k.InodeID >> (8 * i))
	}
	return xxhash.Sum64(buf[:]) % flockShardCount
}

// waiter is one blocked flock(2) caller.
type waiter struct {
	exclusive bool
	done      chan struct{}
}

// lockState tracks in-process holders of one flock key: either one
// exclusive holder or any number of shared holders, plus a FIFO wait
// list for fairness.
type lockState struct {
	mu        sync.Mutex
	exclusive bool
	holders   int
	waiters   []*waiter
}

// FlockManager implements advisory whole-file locking (flock(2)
// semantics) sharded by (devID, inodeID) so unrelated files never
// contend on the same mutex. Each shard also serializes against
// cross-process holders via a github.com/gofrs/flock file lock rooted
// in a per-shard backing directory, so two simulated kernel instances
// sharing a host filesystem still see each other's locks.
type FlockManager struct {
	backingDir string
	shards     [flockShardCount]struct {
		mu    sync.Mutex
		locks map[flockKey]*lockState
	}
}

// NewFlockManager creates a manager whose cross-process lock files live
// under backingDir. An empty backingDir disables the cross-process path
// and restricts locking to in-process callers, which is sufficient for
// a single kernel-core simulation instance.
func NewFlockManager(backingDir string) *FlockManager {
	m := &FlockManager{backingDir: backingDir}
	for i := range m.shards {
		m.shards[i].locks = make(map[flockKey]*lockState)
	}
	return m
}

func (m *FlockManager) shardFor(key flockKey) *struct {
	mu    sync.Mutex
	locks map[flockKey]*lockState
} {
	return &m.shards[key.shard()]
}

func (m *FlockManager) stateFor(key flockKey) *lockState {
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	st, ok := shard.locks[key]
	if !ok {
		st = &lockState{}
		shard.locks[key] = st
	}
	return st
}

func (m *FlockManager) crossProcessPath(key flockKey) string {
	if m.backingDir == "" {
		return ""
	}
	return filepath.Join(m.backingDir, fmt.Sprintf("shard-%d", key.shard()), fmt.Sprintf("%d-%d.lock", key.DevID, key.InodeID))
}

// Lock acquires an advisory lock on the object identified by devID/
// inodeID, blocking until it can. exclusive selects LOCK_EX vs LOCK_SH.
func (m *FlockManager) Lock(devID, inodeID uint64, exclusive bool) (func(), error) {
	key := flockKey{devID, inodeID}
	st := m.stateFor(key)

	st.mu.Lock()
	for st.exclusive || (exclusive && st.holders > 0) {
		w := &waiter{exclusive: exclusive, done: make(chan struct{})}
		st.waiters = append(st.waiters, w)
		st.mu.Unlock()
		<-w.done
		st.mu.Lock()
	}
	if exclusive {
		st.exclusive = true
	}
	st.holders++
	st.mu.Unlock()

	var release func() error
	if path := m.crossProcessPath(key); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, errors.Io, "vfs/flock", "lock")
		}
		fl := flock.New(path)
		if exclusive {
			if err := fl.Lock(); err != nil {
				return nil, errors.Wrap(err, errors.Io, "vfs/flock", "lock")
			}
		} else {
			if err := fl.RLock(); err != nil {
				return nil, errors.Wrap(err, errors.Io, "vfs/flock", "lock")
			}
		}
		release = fl.Unlock
	}

	return func() {
		if release != nil {
			_ = release()
		}
		st.mu.Lock()
		st.holders--
		if st.holders == 0 {
			st.exclusive = false
		}
		var woken []*waiter
		if len(st.waiters) > 0 && !st.exclusive {
			woken = st.waiters
			st.waiters = nil
		}
		st.mu.Unlock()
		for _, w := range woken {
			close(w.done)
		}
	}, nil
}

// LockInode resolves inode's (DevID, InodeID) and locks it, rejecting
// inode kinds flock(2) does not apply to (device and FIFO nodes).
func (m *FlockManager) LockInode(inode Inode, exclusive bool) (func(), error) {
	meta := inode.Metadata()
	if meta.Kind != KindRegular && meta.Kind != KindDirectory {
		return nil, errors.ErrNotAFlockTarget
	}
	return m.Lock(meta.DevID, meta.InodeID, exclusive)
}

// TryLock attempts Lock without blocking, returning ok=false if the
// object is already held incompatibly.
func (m *FlockManager) TryLock(devID, inodeID uint64, exclusive bool) (func(), bool) {
	key := flockKey{devID, inodeID}
	st := m.stateFor(key)

	st.mu.Lock()
	if st.exclusive || (exclusive && st.holders > 0) {
		st.mu.Unlock()
		return nil, false
	}
	if exclusive {
		st.exclusive = true
	}
	st.holders++
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		st.holders--
		if st.holders == 0 {
			st.exclusive = false
		}
		woken := st.waiters
		st.waiters = nil
		st.mu.Unlock()
		for _, w := range woken {
			close(w.done)
		}
	}, true
}
