package systemd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	require.NoError(t, err)
	assert.False(t, listeners.Activated)
	assert.Nil(t, listeners.Metrics)
}

func TestNotifyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	assert.NoError(t, NotifyReady())
	assert.NoError(t, NotifyStopping())
	assert.NoError(t, NotifyWatchdog())
}

func TestWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")

	interval, err := WatchdogInterval()
	require.NoError(t, err)
	assert.Zero(t, interval)
}
