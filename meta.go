package cozyfs

import (
	"errors"
	"unsafe"

	"github.com/cozyfs/cozyfs/internal/backup"
	"github.com/cozyfs/cozyfs/internal/wire"
)

// ErrBadMagic and ErrUnsupportedVersion are returned by Attach when
// buf was never formatted by Init, or was formatted by an
// incompatible layout version, the same check the teacher's own
// meta.go performs against its magic/version pair before trusting a
// page as a valid root.
var (
	ErrBadMagic           = errors.New("cozyfs: buffer was not formatted by cozyfs.Init")
	ErrUnsupportedVersion = errors.New("cozyfs: buffer format version is not supported")
)

// validateFormat checks the magic and version stamp of whichever half
// the backup flag currently selects as active.
func validateFormat(buf []byte, enableBackup bool) error {
	halfLen := len(buf)
	if enableBackup {
		halfLen = len(buf) / 2
	}
	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))
	base := backup.ActiveBase(backup.LoadFlag(&vol.BackupFlag), halfLen)

	body := (*wire.RootBody)(unsafe.Pointer(&buf[base+int(wire.RootBodyOffset)]))
	if body.Magic != wire.Magic {
		return ErrBadMagic
	}
	if body.FormatVersion > wire.CurrentVersion {
		return ErrUnsupportedVersion
	}
	return nil
}

// InitRefresh re-initializes only the lock word, backup flag, and
// last-backup-time of an already-formatted buffer, leaving the
// directory tree untouched. It implements spec.md §6's init
// "refresh_only" parameter, useful for clearing a stuck lock on a
// buffer known to otherwise be consistent.
func InitRefresh(buf []byte, opt Option) error {
	if err := opt.Check(); err != nil {
		return err
	}
	if len(buf) < minBufferLen(opt.EnableBackup) {
		return ErrBufferTooSmall
	}
	if err := validateFormat(buf, opt.EnableBackup); err != nil {
		return err
	}

	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))
	vol.Lock = 0
	if opt.EnableBackup {
		vol.BackupFlag = backup.HalfZero
	} else {
		vol.BackupFlag = backup.Disabled
	}
	vol.LastBackupTime = 0
	return nil
}
