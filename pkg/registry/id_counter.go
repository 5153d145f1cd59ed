//go:build linux && !scramble_system_id

package registry

import "sync/atomic"

// idCounter backs the default SystemID allocator: a plain monotonic
// counter, matching the original's current_system_id++ default in
// getNewSystemID. The PRNG-based allocator in id_scramble.go only applies
// when built with -tags scramble_system_id, mirroring the original's
// #ifdef SCRAMBLE_SYSTEM_ID branch.
var idCounter atomic.Uint32

func newSystemIDLocked() SystemID {
	for {
		id := idCounter.Add(1)
		if id == InvalidSystemID {
			continue
		}
		if _, exists := systems[id]; !exists {
			return id
		}
	}
}
