//go:build linux && !scramble_system_id

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSystemIDLockedIsMonotonic(t *testing.T) {
	mu.Lock()
	a := newSystemIDLocked()
	b := newSystemIDLocked()
	mu.Unlock()

	assert.Greater(t, b, a)
	assert.NotEqual(t, InvalidSystemID, a)
	assert.NotEqual(t, InvalidSystemID, b)
}
