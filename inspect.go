package cozyfs

import "github.com/cozyfs/cozyfs/internal/backup"

// Stat summarizes root-page metadata for diagnostics, the read-only
// surface cmd/cozyfsctl's "stat" subcommand reports.
type Stat struct {
	Generation   uint64
	TotalPages   uint32
	NumPages     uint32
	EnableBackup bool
	ActiveHalf   int32
	LockExpiry   uint64
}

// Stat reads root-page metadata without taking the lock, the same
// relaxed-read posture spec.md §5 grants the lock word and backup
// flag.
func (s *Session) Stat() Stat {
	body := s.rootBody()
	flag := backup.LoadFlag(&s.volatile().BackupFlag)
	return Stat{
		Generation:   body.Generation,
		TotalPages:   body.TotalPages,
		NumPages:     body.NumPages,
		EnableBackup: flag != backup.Disabled,
		ActiveHalf:   flag,
		LockExpiry:   s.volatile().Lock,
	}
}

// ForceRestore runs backup.Restore unconditionally, for an operator
// repairing a buffer left behind by a process that crashed and was
// never re-attached by a live session (so Acquire's own crash-steal
// detection never ran). It bypasses the lock entirely and must only be
// used when the caller knows no other attacher is using the buffer.
func (s *Session) ForceRestore() error {
	return backup.Restore(s.log, s.buf, &s.volatile().BackupFlag)
}
