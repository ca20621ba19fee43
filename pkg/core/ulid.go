package core

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idEntropy is shared by the dispatcher and the relay, which both mint IDs.
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a ULID naming a debug session or a journal event row. IDs are
// monotonic within the process, so ORDER BY id matches arrival order even
// when the relay records several events in the same millisecond.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}
