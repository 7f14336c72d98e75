// Package refhost is a pure-Go, single-process reference implementation
// of host.Callback, used by this module's own tests and by callers that
// just want to exercise CozyFS without wiring a real futex/mmap host.
// It is not a substitute for a production host: spec.md §1 treats
// platform-specific host callback implementations as an external
// collaborator, and this is the one collaborator this module supplies
// to keep its own test suite self-contained.
//
// The wait/wake simulation is grounded in the teacher's
// manager/locker.LockerManager: a bucketed map of channel-backed gates
// keyed by resource identity, generalized here from a per-key mutex to
// a per-address condition variable. Malloc/Free are grounded in the
// teacher's manager/memory.MemoryManager: a power-of-two bucketed pool
// of reusable buffers, since transaction patches are allocated and
// freed in a tight churn (every writable-address miss during a
// transaction) that a pool amortizes far better than a bare make().
package refhost

import (
	"sync"
	"time"
	"unsafe"

	"github.com/cozyfs/cozyfs/host"
)

// Host is a reference host.Callback. Obtain one with New; the zero
// value has no waiter map or pool and is not usable.
type Host struct {
	mu      sync.Mutex
	parkers map[uintptr]*parkers
	pool    *sizedPool
}

type parkers struct {
	cond *sync.Cond
	gen  uint64
}

var _ host.Callback = (*Host)(nil)

// New returns a ready-to-use reference host.
func New() *Host {
	return &Host{
		parkers: make(map[uintptr]*parkers),
		pool:    newSizedPool(4096, 1<<20),
	}
}

// Malloc returns a byte slice of at least n bytes, drawn from a
// size-bucketed pool when n falls in the pool's range.
func (h *Host) Malloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	return h.pool.get(n)
}

// Free returns p to the pool it was drawn from, or drops it for the
// garbage collector to reclaim if it came from outside the pool's
// range.
func (h *Host) Free(p []byte) bool {
	h.pool.put(p)
	return true
}

func (h *Host) gate(word *uint64) *parkers {
	key := uintptr(unsafe.Pointer(word))

	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.parkers[key]
	if !ok {
		p = &parkers{cond: sync.NewCond(&h.mu)}
		h.parkers[key] = p
	}
	return p
}

// Wait parks the calling goroutine until *word changes from observed or
// timeoutMs elapses.
func (h *Host) Wait(word *uint64, observed uint64, timeoutMs int) bool {
	p := h.gate(word)

	h.mu.Lock()
	defer h.mu.Unlock()

	if *word != observed {
		return true
	}

	startGen := p.gen
	if timeoutMs != host.InfiniteWait {
		timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			h.mu.Lock()
			p.gen++
			p.cond.Broadcast()
			h.mu.Unlock()
		})
		defer timer.Stop()
	}

	for *word == observed && p.gen == startGen {
		p.cond.Wait()
	}
	return *word != observed
}

// Wake releases every goroutine parked on word.
func (h *Host) Wake(word *uint64) bool {
	p := h.gate(word)

	h.mu.Lock()
	p.gen++
	p.cond.Broadcast()
	h.mu.Unlock()
	return true
}

// Sync is a no-op for the in-memory reference host.
func (h *Host) Sync() bool {
	return true
}

// TimeMillis returns the current UTC time in milliseconds.
func (h *Host) TimeMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
