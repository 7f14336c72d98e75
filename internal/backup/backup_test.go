package backup

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cozyfs/cozyfs/host/refhost"
	"github.com/cozyfs/cozyfs/internal/wire"
)

func newFormattedBuf(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 2*wire.PageSize)
	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))
	vol.BackupFlag = HalfZero

	for _, base := range []int{0, wire.PageSize} {
		body := (*wire.RootBody)(unsafe.Pointer(&buf[base+int(wire.RootBodyOffset)]))
		body.Generation = 1
	}
	return buf
}

func TestActiveBase(t *testing.T) {
	require.Equal(t, 0, ActiveBase(Disabled, 4096))
	require.Equal(t, 0, ActiveBase(HalfZero, 4096))
	require.Equal(t, 4096, ActiveBase(HalfOne, 4096))
}

func TestPerformFlipsAndCopies(t *testing.T) {
	buf := newFormattedBuf(t)
	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))

	activeBody := (*wire.RootBody)(unsafe.Pointer(&buf[int(wire.RootBodyOffset)]))
	activeBody.Generation = 42

	cb := refhost.New()
	Perform(cb, zap.NewNop(), buf, &vol.BackupFlag, &vol.LastBackupTime, 0)

	require.Equal(t, HalfOne, vol.BackupFlag)
	newActive := (*wire.RootBody)(unsafe.Pointer(&buf[wire.PageSize+int(wire.RootBodyOffset)]))
	require.Equal(t, uint64(42), newActive.Generation)
}

func TestPerformThrottled(t *testing.T) {
	buf := newFormattedBuf(t)
	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))
	cb := refhost.New()

	Perform(cb, zap.NewNop(), buf, &vol.BackupFlag, &vol.LastBackupTime, 0)
	require.Equal(t, HalfOne, vol.BackupFlag)

	// A second call with a huge not-before window should not flip again.
	Perform(cb, zap.NewNop(), buf, &vol.BackupFlag, &vol.LastBackupTime, 1<<40)
	require.Equal(t, HalfOne, vol.BackupFlag)
}

func TestPerformDisabledIsNoop(t *testing.T) {
	buf := newFormattedBuf(t)
	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))
	vol.BackupFlag = Disabled
	cb := refhost.New()

	Perform(cb, zap.NewNop(), buf, &vol.BackupFlag, &vol.LastBackupTime, 0)
	require.Equal(t, Disabled, vol.BackupFlag)
}

func TestRestoreCopiesInactiveOverActive(t *testing.T) {
	buf := newFormattedBuf(t)
	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))

	inactiveBody := (*wire.RootBody)(unsafe.Pointer(&buf[wire.PageSize+int(wire.RootBodyOffset)]))
	inactiveBody.Generation = 7

	activeBody := (*wire.RootBody)(unsafe.Pointer(&buf[int(wire.RootBodyOffset)]))
	activeBody.Generation = 999 // torn write from the crash

	require.NoError(t, Restore(zap.NewNop(), buf, &vol.BackupFlag))
	require.Equal(t, uint64(7), activeBody.Generation)
}

func TestRestoreDisabledIsCorrupt(t *testing.T) {
	buf := newFormattedBuf(t)
	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))
	vol.BackupFlag = Disabled

	require.ErrorIs(t, Restore(zap.NewNop(), buf, &vol.BackupFlag), ErrCorrupt)
}

func TestRestorePreservesVolatilePrefix(t *testing.T) {
	buf := newFormattedBuf(t)
	vol := (*wire.RootVolatile)(unsafe.Pointer(&buf[0]))
	vol.Lock = 12345

	require.NoError(t, Restore(zap.NewNop(), buf, &vol.BackupFlag))
	require.Equal(t, uint64(12345), vol.Lock)
}
