package cozyfs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cozyfs/cozyfs"
	"github.com/cozyfs/cozyfs/host/refhost"
)

func newAttached(t *testing.T, enableBackup bool) (*cozyfs.Session, []byte) {
	t.Helper()
	buf := make([]byte, 1<<20)
	opt := cozyfs.DefaultOption()
	opt.EnableBackup = enableBackup
	require.NoError(t, cozyfs.Init(buf, opt))

	s, err := cozyfs.Attach(buf, 0, refhost.New(), opt)
	require.NoError(t, err)
	return s, buf
}

// Scenario: empty round trip — format, attach, nothing created, stat
// reflects a fresh root directory.
func TestEmptyRoundTrip(t *testing.T) {
	s, _ := newAttached(t, true)
	stat := s.Stat()
	require.Equal(t, uint64(1), stat.Generation)
	require.True(t, stat.EnableBackup)
}

func TestMkdirCreateAndNestedEntities(t *testing.T) {
	s, _ := newAttached(t, true)

	require.NoError(t, s.Mkdir("/a"))
	require.NoError(t, s.Mkdir("/a/b"))
	require.NoError(t, s.Create("/a/b/file.txt"))

	// Creating the very first entry inside a freshly created empty
	// subdirectory must not crash: this exercises the fix for
	// createEntity's InvalidOffset tail handling.
	require.NoError(t, s.Mkdir("/a/c"))
	require.NoError(t, s.Create("/a/c/only.txt"))
}

func TestMkdirDuplicateNameRejected(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Mkdir("/a"))
	require.Error(t, s.Mkdir("/a"))
}

func TestRmdirRequiresEmpty(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Mkdir("/a"))
	require.NoError(t, s.Create("/a/f"))

	require.Error(t, s.Rmdir("/a"))

	require.NoError(t, s.Unlink("/a/f"))
	require.NoError(t, s.Rmdir("/a"))
}

func TestPathNormalization(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Mkdir("/a"))
	require.NoError(t, s.Mkdir("/a/b"))

	// "./" and ".." should normalize to the same target.
	require.NoError(t, s.Create("/a/./b/../b/leaf"))

	fd, err := s.Open("/a/b/leaf")
	require.NoError(t, err)
	require.NoError(t, s.Close(fd))
}

func TestWriteReadRoundTrip(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Create("/file"))

	fd, err := s.Open("/file")
	require.NoError(t, err)

	payload := []byte("hello, cozyfs")
	n, err := s.Write(fd, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	require.NoError(t, s.Close(fd))

	fd2, err := s.Open("/file")
	require.NoError(t, err)
	dst := make([]byte, len(payload))
	n, err = s.Read(fd2, dst, 0)
	require.NoError(t, err)
	require.Equal(t, payload, dst[:n])
	require.NoError(t, s.Close(fd2))
}

func TestWriteAcrossMultiplePages(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Create("/big"))
	fd, err := s.Open("/big")
	require.NoError(t, err)

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := s.Write(fd, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NoError(t, s.Close(fd))

	fd2, err := s.Open("/big")
	require.NoError(t, err)
	dst := make([]byte, len(payload))
	n, err = s.Read(fd2, dst, 0)
	require.NoError(t, err)
	require.Equal(t, payload, dst[:n])
	require.NoError(t, s.Close(fd2))
}

func TestReadConsumeFlag(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Create("/file"))
	fd, err := s.Open("/file")
	require.NoError(t, err)
	_, err = s.Write(fd, []byte("abc"))
	require.NoError(t, err)

	dst := make([]byte, 3)
	n, err := s.Read(fd, dst, cozyfs.FlagConsume)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// File is now empty.
	dst2 := make([]byte, 3)
	n, err = s.Read(fd, dst2, cozyfs.FlagRestart)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, s.Close(fd))
}

func TestReadConsumePartialRejected(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Create("/file"))
	fd, err := s.Open("/file")
	require.NoError(t, err)
	_, err = s.Write(fd, []byte("abcdef"))
	require.NoError(t, err)

	dst := make([]byte, 3) // smaller than remaining content
	_, err = s.Read(fd, dst, cozyfs.FlagConsume)
	require.ErrorIs(t, err, cozyfs.ErrInvalid)
	require.NoError(t, s.Close(fd))
}

// Scenario: hard link and refcount — two names resolve to the same
// inode; content written through one handle is visible through a
// handle opened via the other name; removing one name leaves the
// other intact until the last link drops the refcount to zero.
func TestHardLinkRefcount(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Create("/orig"))
	require.NoError(t, s.Link("/orig", "/alias"))

	fd, err := s.Open("/orig")
	require.NoError(t, err)
	_, err = s.Write(fd, []byte("shared"))
	require.NoError(t, err)
	require.NoError(t, s.Close(fd))

	fd2, err := s.Open("/alias")
	require.NoError(t, err)
	dst := make([]byte, 6)
	n, err := s.Read(fd2, dst, 0)
	require.NoError(t, err)
	require.Equal(t, "shared", string(dst[:n]))
	require.NoError(t, s.Close(fd2))

	require.NoError(t, s.Unlink("/orig"))

	fd3, err := s.Open("/alias")
	require.NoError(t, err)
	dst3 := make([]byte, 6)
	n, err = s.Read(fd3, dst3, 0)
	require.NoError(t, err)
	require.Equal(t, "shared", string(dst3[:n]))
	require.NoError(t, s.Close(fd3))

	require.NoError(t, s.Unlink("/alias"))
	_, err = s.Open("/alias")
	require.ErrorIs(t, err, cozyfs.ErrNotExist)
}

func TestLinkRejectsDirectory(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Mkdir("/dir"))
	err := s.Link("/dir", "/alias")
	require.ErrorIs(t, err, cozyfs.ErrPerm)
}

// Scenario: transaction rollback — writes made during an open
// transaction never reach the buffer if it is rolled back.
func TestTransactionRollback(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Create("/file"))

	require.NoError(t, s.TransactionBegin())
	require.NoError(t, s.Mkdir("/should-vanish"))
	require.NoError(t, s.TransactionRollback())

	_, err := s.Open("/should-vanish")
	require.ErrorIs(t, err, cozyfs.ErrNotExist)
}

// Scenario: transaction commit visibility — changes made during a
// transaction are visible to a second, independent attacher once
// committed.
func TestTransactionCommitVisibleAcrossAttachers(t *testing.T) {
	buf := make([]byte, 1<<20)
	opt := cozyfs.DefaultOption()
	require.NoError(t, cozyfs.Init(buf, opt))

	s1, err := cozyfs.Attach(buf, 0, refhost.New(), opt)
	require.NoError(t, err)

	require.NoError(t, s1.TransactionBegin())
	require.NoError(t, s1.Mkdir("/committed"))
	require.NoError(t, s1.TransactionCommit())

	s2, err := cozyfs.Attach(buf, 0, refhost.New(), opt)
	require.NoError(t, err)

	// "/committed" resolves and is a directory: Open on it fails with
	// EISDIR rather than ENOENT, proving the path exists.
	_, openErr := s2.Open("/committed")
	require.ErrorIs(t, openErr, cozyfs.ErrIsDir)
}

func TestTransactionDoubleBeginRejected(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.TransactionBegin())
	require.ErrorIs(t, s.TransactionBegin(), cozyfs.ErrAlreadyInTransaction)
	require.NoError(t, s.TransactionRollback())
}

func TestTransactionCommitWithoutBeginRejected(t *testing.T) {
	s, _ := newAttached(t, true)
	require.ErrorIs(t, s.TransactionCommit(), cozyfs.ErrNoTransaction)
}

// Scenario: crash recovery — a session that never released its lock
// (simulating a crash) is detected and restored from backup by the
// next attacher's first operation.
func TestCrashRecovery(t *testing.T) {
	buf := make([]byte, 1<<20)
	opt := cozyfs.DefaultOption()
	opt.LockHoldTimeout = 10 * time.Millisecond
	require.NoError(t, cozyfs.Init(buf, opt))

	cb := refhost.New()
	s1, err := cozyfs.Attach(buf, 0, cb, opt)
	require.NoError(t, err)
	require.NoError(t, s1.Mkdir("/before-crash"))

	require.NoError(t, s1.TransactionBegin()) // holds the lock, never released
	require.NoError(t, s1.Mkdir("/torn"))

	time.Sleep(20 * time.Millisecond) // let the held ticket expire

	s2, err := cozyfs.Attach(buf, 0, cb, opt)
	require.NoError(t, err)

	// s2's first write-capable op steals the expired lock, detects the
	// crash, and restores from the backed-up (pre-transaction) half.
	require.NoError(t, s2.Mkdir("/after-recovery"))

	_, err = s2.Open("/before-crash")
	require.Error(t, err) // it's a directory; Open on a dir is EISDIR
	require.ErrorIs(t, err, cozyfs.ErrIsDir)
}

func TestUsersAndOwnership(t *testing.T) {
	s, _ := newAttached(t, true)
	uid, err := s.Mkusr("alice")
	require.NoError(t, err)
	require.NotZero(t, uid)

	require.NoError(t, s.Create("/owned"))
	require.NoError(t, s.Chown("/owned", uid))

	require.ErrorIs(t, s.Rmusr(uid), cozyfs.ErrPerm)

	require.NoError(t, s.Chown("/owned", 0))
	require.NoError(t, s.Rmusr(uid))
}

func TestChmodReadOnlyFlag(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Create("/f"))
	require.NoError(t, s.Chmod("/f", cozyfs.ReadOnly))
}

func TestIdleLoopRuns(t *testing.T) {
	s, _ := newAttached(t, true)
	loop := cozyfs.StartIdleLoop(s, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	loop.Stop()
}

// Scenario: a transaction held open long enough for its ticket to
// expire is caught by Idle's refresh, and Commit afterward reports
// ErrTimedOut instead of silently applying patches against a buffer
// another attacher may already own.
func TestIdleDetectsExpiredTransactionTicket(t *testing.T) {
	buf := make([]byte, 1<<20)
	opt := cozyfs.DefaultOption()
	opt.LockHoldTimeout = 10 * time.Millisecond
	require.NoError(t, cozyfs.Init(buf, opt))

	s, err := cozyfs.Attach(buf, 0, refhost.New(), opt)
	require.NoError(t, err)

	require.NoError(t, s.TransactionBegin())
	require.NoError(t, s.Mkdir("/should-not-apply"))

	time.Sleep(20 * time.Millisecond) // let the held ticket expire

	require.ErrorIs(t, s.Idle(), cozyfs.ErrTimedOut)
	require.ErrorIs(t, s.TransactionCommit(), cozyfs.ErrTimedOut)
}

// Scenario: the inline handle array (333 slots) fills up, forcing an
// overflow page; that overflow slot is freed and then reallocated.
// allocHandle must compute the same flat index forEachHandle would
// have produced, or the packed fd becomes unresolvable.
func TestHandleOverflowSlotReuseResolvesFD(t *testing.T) {
	s, _ := newAttached(t, true)
	require.NoError(t, s.Create("/f"))

	fds := make([]int, 0, 334)
	for i := 0; i < 334; i++ {
		fd, err := s.Open("/f")
		require.NoError(t, err)
		fds = append(fds, fd)
	}

	// The 334th Open allocated the first overflow slot. Free it, then
	// allocate again: the new handle reuses that freed overflow slot.
	overflowFD := fds[len(fds)-1]
	require.NoError(t, s.Close(overflowFD))

	reused, err := s.Open("/f")
	require.NoError(t, err)

	dst := make([]byte, 0)
	_, err = s.Read(reused, dst, 0)
	require.NoError(t, err)
	require.NoError(t, s.Close(reused))

	for _, fd := range fds[:len(fds)-1] {
		require.NoError(t, s.Close(fd))
	}
}
