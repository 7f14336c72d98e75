// Package lockword implements the single 64-bit timeout lock that
// coordinates writers across processes and detects attachers that died
// holding it: component 4.5 of spec.md. It is grounded in the teacher's
// manager/locker.LockerManager — generalized from a per-key map of
// channel-gated locks down to one global word, with the teacher's
// in-process channel gate replaced by the host's WAIT/WAKE callback —
// and directly in the original cozyfs.c's trylock/unlock/refresh_lock.
package lockword

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cozyfs/cozyfs/host"
)

// CrashInfo reports what Acquire observed about the lock's prior holder.
type CrashInfo struct {
	// PriorHolderCrashed is true when the word held a non-zero, expired
	// ticket at acquire time: the prior holder never released cleanly,
	// so the buffer may be torn and must be treated as corrupt until
	// backup.Restore runs.
	PriorHolderCrashed bool
}

// Acquire attempts to take the lock at *word, reading the current time
// in Unix milliseconds from cb on every attempt. holdMs is how far into
// the future the ticket we store should expire; waitMs bounds how long to keep
// retrying (host.InfiniteWait for no bound).
//
// On success it returns our ticket (the expiry timestamp we stored) and
// whether the prior holder appears to have crashed. On failure it
// returns (0, CrashInfo{}, false). log receives one debug line per
// successful acquisition; pass zap.NewNop() to silence it.
func Acquire(cb host.Callback, log *zap.Logger, word *uint64, holdMs, waitMs int) (ticket uint64, info CrashInfo, ok bool) {
	deadline := -1
	if waitMs != host.InfiniteWait {
		deadline = waitMs
	}

	for {
		now := cb.TimeMillis()
		if now == 0 {
			return 0, CrashInfo{}, false
		}

		current := atomic.LoadUint64(word)
		if current < now {
			newTicket := now + uint64(holdMs)
			if atomic.CompareAndSwapUint64(word, current, newTicket) {
				if current != 0 {
					// The prior holder's release store was never
					// observed: fence before trusting anything the
					// buffer says until it has been restored.
					atomic.LoadUint64(word)
					log.Debug("lock acquired from expired holder", zap.Uint64("ticket", newTicket))
					return newTicket, CrashInfo{PriorHolderCrashed: true}, true
				}
				log.Debug("lock acquired", zap.Uint64("ticket", newTicket))
				return newTicket, CrashInfo{}, true
			}
			// Lost the race; retry without waiting.
			continue
		}

		// Word not expired yet. Wait until it is, or until our own
		// deadline runs out.
		waitFor := int(current - now)
		if deadline >= 0 {
			if deadline <= 0 {
				return 0, CrashInfo{}, false
			}
			if waitFor > deadline {
				waitFor = deadline
			}
		}

		// We cannot learn from the host how much of waitFor actually
		// elapsed before a wake, so charge the full slice against our
		// deadline; this can only make Acquire give up earlier than
		// strictly necessary, never later.
		cb.Wait(word, current, waitFor)
		if deadline >= 0 {
			deadline -= waitFor
		}
	}
}

// Release gives up a lock previously returned by Acquire. It reports
// ok=false (and does not touch the word) if our ticket had already
// expired and been stolen by someone else.
func Release(cb host.Callback, log *zap.Logger, word *uint64, ticket uint64) bool {
	if !atomic.CompareAndSwapUint64(word, ticket, 0) {
		log.Debug("lock release found a stolen ticket", zap.Uint64("ticket", ticket))
		return false
	}
	cb.Wake(word)
	log.Debug("lock released", zap.Uint64("ticket", ticket))
	return true
}

// Refresh extends our held lock's expiry. It reads the current time in
// milliseconds from cb; postponeMs is how far past that time the new
// expiry should land. It returns the new ticket and true on success, or
// (0, false) if our ticket had already expired.
func Refresh(cb host.Callback, log *zap.Logger, word *uint64, ticket uint64, postponeMs int) (uint64, bool) {
	now := cb.TimeMillis()
	newTicket := now + uint64(postponeMs)
	if ticket < now || !atomic.CompareAndSwapUint64(word, ticket, newTicket) {
		log.Warn("lock refresh failed, ticket already expired", zap.Uint64("ticket", ticket))
		return 0, false
	}
	log.Debug("lock refreshed", zap.Uint64("ticket", newTicket))
	return newTicket, true
}

// Load performs the relaxed, lock-free read of the word that spec.md
// §5 permits without holding the lock.
func Load(word *uint64) uint64 {
	return atomic.LoadUint64(word)
}
