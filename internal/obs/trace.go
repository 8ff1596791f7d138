package obs

import (
	"strconv"
	"sync/atomic"
	"time"
)

// RequestIDs issues monotonically increasing request identifiers. IDs are
// unique per process lifetime, not globally.
type RequestIDs struct {
	next uint64
}

// NewRequestIDs returns a generator seeded with the given value. A zero seed
// uses the current time so IDs do not collide across restarts.
func NewRequestIDs(seed uint64) *RequestIDs {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	return &RequestIDs{next: seed}
}

// Next returns the next request ID in hex form.
func (g *RequestIDs) Next() string {
	if g == nil {
		return ""
	}
	return strconv.FormatUint(atomic.AddUint64(&g.next, 1), 16)
}
