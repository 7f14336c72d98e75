package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackFD(t *testing.T) {
	fd := PackFD(7, 42)
	gen, index := UnpackFD(fd)
	require.Equal(t, uint16(7), gen)
	require.Equal(t, 42, index)
}

func TestNextGenerationSkipsReservedValues(t *testing.T) {
	require.Equal(t, uint16(2), NextGeneration(1))
	require.Equal(t, uint16(1), NextGeneration(0xFFFE)) // wraps past 0xFFFF to 1
	require.Equal(t, uint16(1), NextGeneration(0))
}

func TestPageOf(t *testing.T) {
	require.Equal(t, Offset(0), PageOf(0))
	require.Equal(t, Offset(0), PageOf(100))
	require.Equal(t, Offset(PageSize), PageOf(PageSize+1))
	require.Equal(t, Offset(PageSize), PageOf(PageSize*2-1))
}

func TestEntityOffsetInPage(t *testing.T) {
	base := EntityOffsetInPage(PageSize, 0)
	next := EntityOffsetInPage(PageSize, 1)
	require.Equal(t, Offset(entitySize), next-base)
}

func TestInlineHandleOffsetDistinct(t *testing.T) {
	require.NotEqual(t, InlineHandleOffset(0), InlineHandleOffset(1))
}

func TestRootBodySizeFitsOnePage(t *testing.T) {
	require.Equal(t, PageSize, int(RootBodyOffset)+int(rootBodySize))
}
