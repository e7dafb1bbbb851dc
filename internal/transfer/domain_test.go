package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusInTransit, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusReceived, false},
		{StatusPending, StatusPending, false},
		{StatusInTransit, StatusReceived, true},
		{StatusInTransit, StatusCancelled, false},
		{StatusInTransit, StatusPending, false},
		{StatusReceived, StatusPending, false},
		{StatusReceived, StatusInTransit, false},
		{StatusReceived, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusInTransit, false},
		{StatusCancelled, StatusReceived, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusInTransit.Terminal())
	require.True(t, StatusReceived.Terminal())
	require.True(t, StatusCancelled.Terminal())
}

func TestStatusIsValid(t *testing.T) {
	require.True(t, StatusPending.IsValid())
	require.True(t, StatusReceived.IsValid())
	require.False(t, Status("SHIPPED").IsValid())
	require.False(t, Status("").IsValid())
}
