package patch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cozyfs/cozyfs/host/refhost"
	"github.com/cozyfs/cozyfs/internal/wire"
)

func TestResolveFallsThroughToHalf(t *testing.T) {
	half := make([]byte, 2*wire.PageSize)
	half[10] = 7

	var tab Table
	p := tab.Resolve(half, 10)
	require.Equal(t, byte(7), *(*byte)(p))
}

func TestResolveWritableShadowsAndIsolates(t *testing.T) {
	half := make([]byte, 2*wire.PageSize)
	half[10] = 7

	cb := refhost.New()
	var tab Table

	p, err := tab.ResolveWritable(cb, half, 10)
	require.NoError(t, err)
	*(*byte)(p) = 99

	// The underlying half is untouched until Apply.
	require.Equal(t, byte(7), half[10])

	// A second ResolveWritable for an offset on the same page reuses the
	// existing shadow rather than creating a second patch.
	_, err = tab.ResolveWritable(cb, half, 11)
	require.NoError(t, err)
	require.Equal(t, 1, tab.Len())
	require.Equal(t, byte(99), *(*byte)(p))
}

func TestApplyWritesPatchesBack(t *testing.T) {
	half := make([]byte, 2*wire.PageSize)
	cb := refhost.New()
	var tab Table

	p, err := tab.ResolveWritable(cb, half, 10)
	require.NoError(t, err)
	*(*byte)(p) = 55

	tab.Apply(half)
	require.Equal(t, byte(55), half[10])
}

func TestResetFreesAndEmpties(t *testing.T) {
	half := make([]byte, 2*wire.PageSize)
	cb := refhost.New()
	var tab Table

	_, err := tab.ResolveWritable(cb, half, 10)
	require.NoError(t, err)
	require.Equal(t, 1, tab.Len())

	tab.Reset(cb)
	require.Equal(t, 0, tab.Len())
}

func TestResolveWritableFullTable(t *testing.T) {
	half := make([]byte, (wire.MaxPatches+1)*wire.PageSize)
	cb := refhost.New()
	var tab Table

	for i := 0; i < wire.MaxPatches; i++ {
		_, err := tab.ResolveWritable(cb, half, wire.Offset(i*wire.PageSize))
		require.NoError(t, err)
	}

	_, err := tab.ResolveWritable(cb, half, wire.Offset(wire.MaxPatches*wire.PageSize))
	require.ErrorIs(t, err, ErrFull)
}
