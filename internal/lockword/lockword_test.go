package lockword

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cozyfs/cozyfs/host/refhost"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	cb := refhost.New()
	log := zap.NewNop()
	var word uint64

	ticket, info, ok := Acquire(cb, log, &word, 1000, -1)
	require.True(t, ok)
	require.False(t, info.PriorHolderCrashed)
	require.NotZero(t, word)

	require.True(t, Release(cb, log, &word, ticket))
	require.Zero(t, Load(&word))
}

func TestReleaseAfterStealFails(t *testing.T) {
	cb := refhost.New()
	log := zap.NewNop()
	var word uint64

	ticket, _, ok := Acquire(cb, log, &word, -1000, -1) // already-expired ticket
	require.True(t, ok)

	// A second acquirer steals it.
	_, info, ok := Acquire(cb, log, &word, 1000, -1)
	require.True(t, ok)
	require.True(t, info.PriorHolderCrashed)

	require.False(t, Release(cb, log, &word, ticket))
}

func TestRefreshExtendsExpiry(t *testing.T) {
	cb := refhost.New()
	log := zap.NewNop()
	var word uint64

	ticket, _, ok := Acquire(cb, log, &word, 1000, -1)
	require.True(t, ok)

	newTicket, ok := Refresh(cb, log, &word, ticket, 2000)
	require.True(t, ok)
	require.Greater(t, newTicket, ticket)
	require.Equal(t, newTicket, Load(&word))
}

func TestRefreshFailsAfterSteal(t *testing.T) {
	cb := refhost.New()
	log := zap.NewNop()
	var word uint64

	ticket, _, ok := Acquire(cb, log, &word, -1000, -1)
	require.True(t, ok)
	_, _, ok = Acquire(cb, log, &word, 1000, -1)
	require.True(t, ok)

	_, ok = Refresh(cb, log, &word, ticket, 1000)
	require.False(t, ok)
}

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	cb := refhost.New()
	log := zap.NewNop()
	var word uint64

	_, _, ok := Acquire(cb, log, &word, 5000, -1)
	require.True(t, ok)

	_, _, ok = Acquire(cb, log, &word, 1000, 10)
	require.False(t, ok)
}
