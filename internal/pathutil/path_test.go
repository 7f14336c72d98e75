package pathutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	comps, err := Parse("/a/b/c", 32)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, comps)
}

func TestParseNoLeadingSlash(t *testing.T) {
	comps, err := Parse("a/b", 32)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, comps)
}

func TestParseRoot(t *testing.T) {
	comps, err := Parse("/", 32)
	require.NoError(t, err)
	require.Empty(t, comps)

	comps, err = Parse("", 32)
	require.NoError(t, err)
	require.Empty(t, comps)
}

func TestParseDotDropped(t *testing.T) {
	comps, err := Parse("/a/./b", 32)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, comps)
}

func TestParseDotDotPops(t *testing.T) {
	comps, err := Parse("/a/b/../c", 32)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, comps)
}

func TestParseDotDotPastRoot(t *testing.T) {
	_, err := Parse("/..", 32)
	require.ErrorIs(t, err, ErrPastRoot)
}

func TestParseEmptyComponent(t *testing.T) {
	_, err := Parse("/a//b", 32)
	require.ErrorIs(t, err, ErrEmptyComponent)
}

func TestParseTrailingSlash(t *testing.T) {
	_, err := Parse("/a/", 32)
	require.ErrorIs(t, err, ErrEmptyComponent)
}

func TestParseTooManyComponents(t *testing.T) {
	_, err := Parse("/a/b/c", 2)
	require.ErrorIs(t, err, ErrTooManyComponents)
}
