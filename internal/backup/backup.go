// Package backup implements the dual-region atomic snapshot mechanism:
// component 4.6 of spec.md. It is grounded directly in the original
// cozyfs.c's perform_backup/restore_backup (which this package resolves
// — the original leaves the copy step a literal "my_memcpy(???)") and,
// for its atomic-flip shape, in the teacher's manager/storage interface
// convention of treating a page's bytes as an opaque blob a manager
// copies around without interpreting them.
package backup

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cozyfs/cozyfs/host"
	"github.com/cozyfs/cozyfs/internal/wire"
)

// HalfZero and HalfOne are the backup-flag values selecting which half
// is active.
// Disabled means backup mode is off entirely (no split buffer).
const (
	Disabled int32 = -1
	HalfZero int32 = 0
	HalfOne  int32 = 1
)

// ErrCorrupt is returned by Restore when the prior holder crashed but
// backup mode is disabled, so there is no known-good half to fall back
// to.
var ErrCorrupt = errors.New("backup: crash detected but backup mode is disabled")

// LoadFlag performs the relaxed read of the backup flag that spec.md
// §5 permits without holding the lock.
func LoadFlag(flag *int32) int32 {
	return atomic.LoadInt32(flag)
}

// ActiveBase returns the byte offset, within the whole attached buffer,
// of the currently active half's base. halfLen is 0 when backup mode is
// disabled (the "active half" is then the entire buffer).
func ActiveBase(flag int32, halfLen int) int {
	if flag == Disabled || flag == HalfZero {
		return 0
	}
	return halfLen
}

// nonVolatileRange returns the byte range of one half that IS copied
// between halves — i.e. the whole half except the RootVolatile prefix
// at its start.
func nonVolatileRange(halfBase, halfLen int) (start, end int) {
	return halfBase + int(wire.RootBodyOffset), halfBase + halfLen
}

// Perform flips the active half and copies its previously-inactive
// sibling's non-volatile bytes over it, if backup mode is on and
// nowMs-lastBackupMs has crossed notBeforeMs. buf is the whole attached
// buffer; flag and lastBackupMs point at the live RootVolatile fields
// (always at buffer offset 0). It must be called while holding the
// lock. log receives one debug line per cycle actually performed; pass
// zap.NewNop() to silence it.
func Perform(cb host.Callback, log *zap.Logger, buf []byte, flag *int32, lastBackupMs *uint64, notBeforeMs uint64) {
	current := atomic.LoadInt32(flag)
	if current == Disabled {
		return
	}

	now := cb.TimeMillis()
	if now == 0 {
		return
	}
	if now < atomic.LoadUint64(lastBackupMs)+notBeforeMs {
		return
	}

	halfLen := len(buf) / 2
	oldActiveBase := ActiveBase(current, halfLen)

	next := HalfOne
	if current == HalfOne {
		next = HalfZero
	}
	atomic.StoreInt32(flag, next)

	newActiveBase := ActiveBase(next, halfLen)
	srcStart, srcEnd := nonVolatileRange(oldActiveBase, halfLen)
	dstStart, _ := nonVolatileRange(newActiveBase, halfLen)
	copy(buf[dstStart:dstStart+(srcEnd-srcStart)], buf[srcStart:srcEnd])

	atomic.StoreUint64(lastBackupMs, now)
	log.Debug("backup cycle performed", zap.Int32("newActiveHalf", next))
}

// Restore copies the inactive (presumed good) half's non-volatile bytes
// over the active (possibly torn) half, preserving the volatile prefix.
// It must be called immediately after Acquire reports the prior holder
// crashed, before any other read of shared state. It returns ErrCorrupt
// if backup mode is disabled.
func Restore(log *zap.Logger, buf []byte, flag *int32) error {
	current := atomic.LoadInt32(flag)
	if current == Disabled {
		return ErrCorrupt
	}

	halfLen := len(buf) / 2
	activeBase := ActiveBase(current, halfLen)
	inactiveBase := halfLen
	if activeBase == halfLen {
		inactiveBase = 0
	}

	srcStart, srcEnd := nonVolatileRange(inactiveBase, halfLen)
	dstStart, _ := nonVolatileRange(activeBase, halfLen)
	copy(buf[dstStart:dstStart+(srcEnd-srcStart)], buf[srcStart:srcEnd])
	log.Warn("restored active half from backup")
	return nil
}
