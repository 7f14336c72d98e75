package cozyfs

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cozyfs/cozyfs/internal/logging"
)

// Option configures Init and Attach, mirroring the teacher's own
// Option/DefaultOptions/Check shape, generalized from a btree's
// key/value/buffer-pool knobs to CozyFS's backup, timeout, and logging
// knobs.
type Option struct {
	// EnableBackup splits the buffer into two halves and keeps a
	// dual-region snapshot (spec.md §4.6). Disable for a buffer that is
	// itself already durable some other way, or when recovery is not
	// needed.
	EnableBackup bool

	// BackupThrottle is the minimum interval between two successful
	// PerformBackup calls (spec.md §4.6's "not-before" parameter).
	BackupThrottle time.Duration

	// LockHoldTimeout is how far into the future a successful Acquire
	// sets the lock word's expiry (spec.md §4.5).
	LockHoldTimeout time.Duration

	// WaitTimeout bounds how long Acquire keeps retrying a lock word
	// that is currently held by someone else, per spec.md §4.5's
	// Acquire(wait_timeout_ms, hold_timeout_ms) contract and §6's
	// per-call wait-timeout knob. Zero (the default) waits
	// indefinitely.
	WaitTimeout time.Duration

	// Logger receives structured events for lock acquisition, crash
	// detection, backups, and transaction boundaries. Defaults to a
	// no-op logger if nil.
	Logger *zap.Logger
}

// DefaultOption returns the option set new callers should start from,
// mirroring the teacher's DefaultOptions.
func DefaultOption() Option {
	return Option{
		EnableBackup:    true,
		BackupThrottle:  3 * time.Second,
		LockHoldTimeout: 5 * time.Second,
		Logger:          logging.Nop(),
	}
}

// ErrZeroLockHoldTimeout is returned by Check when LockHoldTimeout is
// non-positive, which would let a held lock expire instantly.
var ErrZeroLockHoldTimeout = errors.New("cozyfs: LockHoldTimeout must be positive")

// Check validates opt, filling in a no-op Logger if none was set.
func (opt *Option) Check() error {
	if opt.LockHoldTimeout <= 0 {
		return ErrZeroLockHoldTimeout
	}
	if opt.Logger == nil {
		opt.Logger = logging.Nop()
	}
	return nil
}
