//go:build linux && scramble_system_id

package registry

import (
	"math/rand"
	"time"
)

// rng backs the PRNG-based SystemID allocator, enabled by building with
// -tags scramble_system_id. This is the optional branch the original
// gates behind #ifdef SCRAMBLE_SYSTEM_ID; the default build uses
// id_counter.go's plain counter instead.
var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

func newSystemIDLocked() SystemID {
	for {
		id := rng.Uint32()
		if id == InvalidSystemID {
			continue
		}
		if _, exists := systems[id]; !exists {
			return id
		}
	}
}
