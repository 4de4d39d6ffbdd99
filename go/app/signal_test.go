package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marginalia/quill/go/ot"
)

func TestDutyCycleFormula(t *testing.T) {
	require.Equal(t, int64(0), DutyCycleOffMsec(74))
	require.Equal(t, int64(6667), DutyCycleOffMsec(75))
	require.Equal(t, int64(60000), DutyCycleOffMsec(150))
	require.Equal(t, int64(60000), DutyCycleOffMsec(151))
	require.Equal(t, int64(0), DutyCycleOffMsec(0))
}

func TestSignalHysteresis(t *testing.T) {
	var lf = 200
	var s = NewTrafficSignal(func() int { return lf })
	s.allow = false
	s.allowAt = 1000
	s.lastNow = 1000

	// Transitioning on at the allowAt boundary forces a full
	// on-period despite heavy load.
	allow, err := s.ShouldAllowTrafficAt(1000)
	require.NoError(t, err)
	require.True(t, allow)
	require.Equal(t, int64(61000), s.forceUntil)

	for _, now := range []int64{1000, 30000, 60999} {
		allow, err = s.ShouldAllowTrafficAt(now)
		require.NoError(t, err)
		require.True(t, allow, "now=%d", now)
	}

	// The instant the window lapses, heavy load turns the signal off
	// for the full computed off-period.
	allow, err = s.ShouldAllowTrafficAt(61000)
	require.NoError(t, err)
	require.False(t, allow)
	require.Equal(t, int64(61000+60000), s.allowAt)

	allow, err = s.ShouldAllowTrafficAt(100000)
	require.NoError(t, err)
	require.False(t, allow)
}

func TestSignalNominalLoadStaysOn(t *testing.T) {
	var lf = 10
	var s = NewTrafficSignal(func() int { return lf })

	allow, err := s.ShouldAllowTrafficAt(0)
	require.NoError(t, err)
	require.True(t, allow)

	// Well past the forced window, nominal load keeps admitting; a
	// spike then turns it off with a short off-period.
	allow, err = s.ShouldAllowTrafficAt(120000)
	require.NoError(t, err)
	require.True(t, allow)

	lf = 80
	allow, err = s.ShouldAllowTrafficAt(120001)
	require.NoError(t, err)
	require.False(t, allow)
	require.Equal(t, int64(120001)+DutyCycleOffMsec(80), s.allowAt)
}

func TestSignalHealthAndShutdown(t *testing.T) {
	var s = NewTrafficSignal(func() int { return 0 })

	allow, err := s.ShouldAllowTrafficAt(0)
	require.NoError(t, err)
	require.True(t, allow)

	s.SetHealth(false)
	allow, err = s.ShouldAllowTrafficAt(1)
	require.NoError(t, err)
	require.False(t, allow)
	require.Equal(t, "unhealthy", s.Reason())

	// Recovery re-admits immediately, no scheduled wait.
	s.SetHealth(true)
	allow, err = s.ShouldAllowTrafficAt(2)
	require.NoError(t, err)
	require.True(t, allow)

	// Shutdown wins over everything and is terminal.
	s.SetShuttingDown()
	allow, err = s.ShouldAllowTrafficAt(3)
	require.NoError(t, err)
	require.False(t, allow)
	require.Equal(t, "shutting down", s.Reason())

	allow, err = s.ShouldAllowTrafficAt(500000)
	require.NoError(t, err)
	require.False(t, allow)
}

func TestSignalRejectsTimeGoingBackwards(t *testing.T) {
	var s = NewTrafficSignal(func() int { return 0 })

	var _, err = s.ShouldAllowTrafficAt(100)
	require.NoError(t, err)

	_, err = s.ShouldAllowTrafficAt(99)
	require.True(t, errors.Is(err, ot.ErrBadUse))

	// Equal timestamps are fine.
	_, err = s.ShouldAllowTrafficAt(100)
	require.NoError(t, err)
}
