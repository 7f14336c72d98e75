package cozyfs

import (
	"errors"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/cozyfs/cozyfs/host"
	"github.com/cozyfs/cozyfs/internal/backup"
	"github.com/cozyfs/cozyfs/internal/lockword"
	"github.com/cozyfs/cozyfs/internal/patch"
	"github.com/cozyfs/cozyfs/internal/wire"
)

// TxnMode records whether a Session currently has an open transaction,
// mirroring the original cozyfs.c's TRANSACTION_OFF/TRANSACTION_ON/
// TRANSACTION_TIMEOUT trio (spec.md §4.7). TxnTimeout is entered when
// Idle's periodic lockword.Refresh discovers our ticket had already
// expired: the buffer may already be owned by another attacher, so the
// open transaction's patches must be discarded rather than applied.
type TxnMode int

const (
	TxnOff TxnMode = iota
	TxnOn
	TxnTimeout
)

// Session is one attacher's live view of a CozyFS buffer: the buffer
// itself, the host callback it was attached with, and the per-attacher
// state (transaction patches, held ticket) that never persists into
// the buffer. Its public methods, except Stat and ForceRestore, take a
// per-Session mutex, so calls made on one Session from several
// goroutines (such as an IdleLoop running beside the caller) execute
// one at a time.
type Session struct {
	mu sync.Mutex

	buf []byte
	cb  host.Callback
	uid uint32
	opt Option
	log *zap.Logger

	mode    TxnMode
	ticket  uint64
	patches patch.Table
}

// ErrBufferTooSmall is returned by Init and Attach when buf cannot hold
// even the root page (times two, if backup mode is requested).
var ErrBufferTooSmall = errors.New("cozyfs: buffer too small")

// minBufferLen returns the smallest buffer Init will accept for the
// given backup setting.
func minBufferLen(enableBackup bool) int {
	if enableBackup {
		return 2 * wire.PageSize
	}
	return wire.PageSize
}

// Init formats a fresh buffer: zeroes the buffer (both halves in
// backup mode), sets up the
// backup flag, and lays down the root directory's first DirectoryPage,
// per spec.md §6's "two regions... initialized identically" and §4.2's
// root-entity bootstrap. buf must already be sized to hold every page
// the filesystem will ever use; CozyFS never grows a buffer after
// Init, matching the original cozyfs.c's fixed-capacity cozyfs_init.
func Init(buf []byte, opt Option) error {
	if err := opt.Check(); err != nil {
		return err
	}
	if len(buf) < minBufferLen(opt.EnableBackup) {
		return ErrBufferTooSmall
	}

	halfLen := len(buf)
	if opt.EnableBackup {
		halfLen = len(buf) / 2
	}
	totalPages := uint32(halfLen / wire.PageSize)

	zeroHalf := func(base int) {
		for i := range buf[base : base+halfLen] {
			buf[base+i] = 0
		}
	}
	zeroHalf(0)
	if opt.EnableBackup {
		zeroHalf(halfLen)
	}

	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))
	vol.Lock = 0
	if opt.EnableBackup {
		vol.BackupFlag = backup.HalfZero
	} else {
		vol.BackupFlag = backup.Disabled
	}
	vol.LastBackupTime = 0

	formatHalf := func(base int) {
		body := (*wire.RootBody)(unsafe.Pointer(&buf[base+int(wire.RootBodyOffset)]))
		body.Magic = wire.Magic
		body.FormatVersion = wire.CurrentVersion
		body.Generation = 1
		body.NextAccountID = 1
		body.FreeDirPages = wire.InvalidOffset
		body.FreeGenericPages = wire.InvalidOffset
		body.OverflowHandles = wire.InvalidOffset
		body.OverflowUsers = wire.InvalidOffset
		body.TotalPages = totalPages
		body.NumPages = 2 // root page + root directory's first DirectoryPage
		body.RootEntity = wire.Entity{
			Refs:  1,
			Flags: wire.EntityDir,
			Head:  wire.PageSize,
			Tail:  wire.PageSize,
		}
		for i := range body.Handles {
			body.Handles[i] = wire.Handle{Gen: 1, Ent: wire.InvalidOffset}
		}

		rootDir := (*wire.DirectoryPage)(unsafe.Pointer(&buf[base+wire.PageSize]))
		initDirPage(rootDir)
	}
	formatHalf(0)
	if opt.EnableBackup {
		formatHalf(halfLen)
	}

	return nil
}

// Attach opens an existing, already-Init'd buffer for use. uid is the
// account id recorded as the owner of entities this Session creates;
// 0 means "no owner enforcement", matching the teacher's style of
// accepting a caller identity without imposing authorization of its
// own (spec.md never asks CozyFS to enforce permissions).
func Attach(buf []byte, uid uint32, cb host.Callback, opt Option) (*Session, error) {
	if err := opt.Check(); err != nil {
		return nil, err
	}
	if len(buf) < minBufferLen(opt.EnableBackup) {
		return nil, ErrBufferTooSmall
	}
	if err := validateFormat(buf, opt.EnableBackup); err != nil {
		return nil, err
	}
	s := &Session{
		buf: buf,
		cb:  cb,
		uid: uid,
		opt: opt,
		log: opt.Logger,
	}
	return s, nil
}

func (s *Session) volatile() *wire.RootVolatile {
	return (*wire.RootVolatile)(unsafe.Pointer(&s.buf[0]))
}

func (s *Session) halfLen() int {
	if !s.opt.EnableBackup {
		return len(s.buf)
	}
	return len(s.buf) / 2
}

func (s *Session) activeBase() int {
	if !s.opt.EnableBackup {
		return 0
	}
	return backup.ActiveBase(backup.LoadFlag(&s.volatile().BackupFlag), s.halfLen())
}

func (s *Session) activeHalf() []byte {
	base := s.activeBase()
	return s.buf[base : base+s.halfLen()]
}

// resolve returns a read-only pointer to off within the active half,
// routed through any open transaction's patch table.
func (s *Session) resolve(off wire.Offset) unsafe.Pointer {
	return s.patches.Resolve(s.activeHalf(), off)
}

// resolveWritable is like resolve, but shadows off's page first if a
// transaction is open and the page is not yet shadowed. Outside a
// transaction it writes directly into the active half, matching
// spec.md §4.1's "patches exist only for the duration of one open
// transaction".
func (s *Session) resolveWritable(off wire.Offset) (unsafe.Pointer, error) {
	if s.mode == TxnOff {
		return unsafe.Pointer(&s.activeHalf()[off]), nil
	}
	return s.patches.ResolveWritable(s.cb, s.activeHalf(), off)
}

func (s *Session) rootBody() *wire.RootBody {
	return (*wire.RootBody)(s.resolve(wire.RootBodyOffset))
}

func (s *Session) rootBodyWritable() (*wire.RootBody, error) {
	p, err := s.resolveWritable(wire.RootBodyOffset)
	if err != nil {
		return nil, err
	}
	return (*wire.RootBody)(p), nil
}

// enter acquires the exclusive lock (if not already held by an open
// transaction) and, if the prior holder crashed, restores the active
// half from its sibling before returning. Every public operation that
// touches shared state wraps itself in enter/leave, per spec.md §4.5.
func (s *Session) enter() error {
	if s.mode == TxnTimeout {
		return ErrTimedOut
	}
	if s.mode == TxnOn {
		// Already holding the lock for the open transaction's duration.
		return nil
	}
	waitMs := host.InfiniteWait
	if s.opt.WaitTimeout > 0 {
		waitMs = int(s.opt.WaitTimeout.Milliseconds())
	}
	ticket, info, ok := lockword.Acquire(s.cb, s.log, &s.volatile().Lock, int(s.opt.LockHoldTimeout.Milliseconds()), waitMs)
	if !ok {
		return ErrTimedOut
	}
	s.ticket = ticket
	if info.PriorHolderCrashed {
		s.log.Warn("prior holder crashed while holding the lock, restoring from backup")
		if err := backup.Restore(s.log, s.buf, &s.volatile().BackupFlag); err != nil {
			lockword.Release(s.cb, s.log, &s.volatile().Lock, s.ticket)
			return ErrCorrupt
		}
	}
	return nil
}

func (s *Session) leave() {
	if s.mode == TxnOn {
		return
	}
	if s.opt.EnableBackup {
		backup.Perform(s.cb, s.log, s.buf, &s.volatile().BackupFlag, &s.volatile().LastBackupTime, uint64(s.opt.BackupThrottle.Milliseconds()))
	}
	lockword.Release(s.cb, s.log, &s.volatile().Lock, s.ticket)
	s.ticket = 0
}

// Idle lets a Session perform housekeeping without an operation to
// piggyback on, matching cozyfs_idle. Outside a transaction this is an
// opportunistic backup cycle; with a transaction open, it refreshes
// our held ticket so a long-running transaction doesn't let the lock
// expire out from under it, per spec.md §4.7. If the refresh finds our
// ticket already expired, the Session moves to TxnTimeout and every
// subsequent operation fails with ErrTimedOut until the caller ends the
// transaction with TransactionCommit or TransactionRollback, both of
// which discard the patches and report ErrTimedOut. Callers on a timer
// should call this periodically.
func (s *Session) Idle() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case TxnTimeout:
		return ErrTimedOut
	case TxnOn:
		newTicket, ok := lockword.Refresh(s.cb, s.log, &s.volatile().Lock, s.ticket, int(s.opt.LockHoldTimeout.Milliseconds()))
		if !ok {
			s.log.Warn("transaction's held lock expired before it closed")
			s.mode = TxnTimeout
			return ErrTimedOut
		}
		s.ticket = newTicket
		return nil
	default:
		if err := s.enter(); err != nil {
			return err
		}
		s.leave()
		return nil
	}
}
