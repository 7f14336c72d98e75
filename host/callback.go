// Package host describes the boundary between the CozyFS engine and its
// embedder: memory allocation for transaction patches, parking/waking
// on the lock word, msync-style durability, and a time source. spec.md
// §1 and §6 name these as external collaborators specified only by their
// interface — the production futex/mmap/VirtualAlloc-backed
// implementations are the embedder's responsibility, not this module's.
//
// The spec's own description of the boundary is a single function
// pointer dispatched through a small operation enumeration (cozyfs.h's
// cozyfs_callback); Sysop below documents that enumeration for anyone
// porting a callback from another language binding, but the Go surface
// callers actually implement is the Callback interface, the same way
// the teacher exposes manager/storage.StorageManager as an interface
// rather than a single dispatch function.
package host

// Sysop names the six operations the original C callback dispatched on.
// It exists for documentation and cross-binding parity, not as a Go
// call surface.
type Sysop int

const (
	SysopMalloc Sysop = iota
	SysopFree
	SysopWait
	SysopWake
	SysopSync
	SysopTime
)

func (op Sysop) String() string {
	switch op {
	case SysopMalloc:
		return "MALLOC"
	case SysopFree:
		return "FREE"
	case SysopWait:
		return "WAIT"
	case SysopWake:
		return "WAKE"
	case SysopSync:
		return "SYNC"
	case SysopTime:
		return "TIME"
	default:
		return "UNKNOWN"
	}
}

// InfiniteWait is passed to Callback.Wait to mean "no timeout".
const InfiniteWait = -1

// Callback is the set of host services a Session needs to operate on a
// shared buffer across processes.
type Callback interface {
	// Malloc returns a page-sized-or-larger byte slice used to hold one
	// transaction patch. A nil return means allocation failed.
	Malloc(n int) []byte

	// Free releases a slice previously returned by Malloc. It reports
	// whether the release succeeded.
	Free(p []byte) bool

	// Wait parks the calling goroutine until *word no longer equals
	// observed, or until timeoutMs elapses (InfiniteWait for no limit).
	// It reports whether it returned because of a wake (true) or a
	// timeout (false); a spurious wake is always safe since callers
	// re-check the word themselves.
	Wait(word *uint64, observed uint64, timeoutMs int) bool

	// Wake releases all waiters parked on word. It reports success.
	Wake(word *uint64) bool

	// Sync flushes the buffer to its backing medium, when there is one.
	// It reports success; implementations backed by plain RAM may
	// always return true.
	Sync() bool

	// TimeMillis returns the current UTC time in milliseconds since the
	// epoch. A return of 0 signals failure.
	TimeMillis() uint64
}
