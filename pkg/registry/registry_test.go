package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/msys/pkg/registry"
	"github.com/ja7ad/msys/pkg/types"
)

// registry is a process-wide singleton, so its lifecycle is exercised as
// one ordered sequence of subtests rather than independent test funcs.
func TestRegistryLifecycle(t *testing.T) {
	logDir := t.TempDir()

	t.Run("NewSystem before Initialize fails", func(t *testing.T) {
		_, err := registry.NewSystem("early", t.TempDir(), 20*time.Millisecond, types.Bytes(1<<20))
		assert.ErrorIs(t, err, registry.ErrNotInitialized)
	})

	t.Run("Initialize succeeds once", func(t *testing.T) {
		require.NoError(t, registry.Initialize(logDir))
	})

	t.Run("Initialize twice fails", func(t *testing.T) {
		err := registry.Initialize(logDir)
		assert.ErrorIs(t, err, registry.ErrAlreadyInit)
	})

	var id registry.SystemID
	t.Run("NewSystem registers and returns a valid id", func(t *testing.T) {
		var err error
		id, err = registry.NewSystem("demo", t.TempDir(), 20*time.Millisecond, types.Bytes(1<<20))
		require.NoError(t, err)
		assert.NotEqual(t, registry.InvalidSystemID, id)
	})

	t.Run("Get finds the registered system", func(t *testing.T) {
		s, err := registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, "demo", s.Name())
	})

	t.Run("Get on unknown id fails", func(t *testing.T) {
		_, err := registry.Get(registry.SystemID(0xdeadbeef))
		assert.ErrorIs(t, err, registry.ErrSystemNotFound)
	})

	t.Run("QuickSample on empty meter list still resets cleanly", func(t *testing.T) {
		err := registry.QuickSample(id)
		assert.NoError(t, err)
	})

	t.Run("QuickSample on unknown id fails", func(t *testing.T) {
		err := registry.QuickSample(registry.SystemID(0xdeadbeef))
		assert.ErrorIs(t, err, registry.ErrSystemNotFound)
	})

	t.Run("Shutdown halts systems and is idempotent", func(t *testing.T) {
		assert.NotPanics(t, registry.Shutdown)
		assert.NotPanics(t, registry.Shutdown)
	})
}
