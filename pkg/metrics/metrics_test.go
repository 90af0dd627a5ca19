package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry is process-global and write-once, so the disabled and
// enabled behaviors are exercised in one ordered test.
func TestRegistryLifecycle(t *testing.T) {
	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())

	// Disabled: constructors hand out no-ops that are safe to use.
	m := NewServerMetrics()
	_, isNoop := m.(*noopServerMetrics)
	assert.True(t, isNoop)
	m.RecordConnectionAccepted()
	m.RecordTask("UPLOAD", time.Millisecond, true)

	InitRegistry()
	require.True(t, IsEnabled())
	require.NotNil(t, GetRegistry())

	// Idempotent.
	InitRegistry()

	m = NewServerMetrics()
	_, isNoop = m.(*noopServerMetrics)
	assert.False(t, isNoop)

	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordSessionStart()
	m.RecordSessionEnd()
	m.RecordAuthAttempt("signup", true)
	m.RecordAuthAttempt("login", false)
	m.RecordTask("UPLOAD", 5*time.Millisecond, true)
	m.RecordTask("DELETE", time.Millisecond, false)
	m.RecordBytesTransferred("upload", 1024)
	m.RecordRejection("task_queue_full")

	families, err := GetRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	assert.True(t, names["stashd_connections_accepted_total"])
	assert.True(t, names["stashd_tasks_total"])
	assert.True(t, names["stashd_bytes_transferred_total"])
	assert.True(t, names["stashd_rejections_total"])
}
