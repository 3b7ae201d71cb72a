package decision

import (
	"sync"

	"github.com/rs/xid"
)

// Inflight is a try-lock set keyed by transaction id
type Inflight struct {
	mu   sync.Mutex
	held map[string]xid.ID
}

func NewInflight() *Inflight {
	return &Inflight{held: make(map[string]xid.ID)}
}

// TryAcquire marks id as in flight. The returned release is idempotent and
// only clears the marker it created.
func (f *Inflight) TryAcquire(id string) (func(), bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.held[id]; ok {
		return nil, false
	}

	token := xid.New()
	f.held[id] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.held[id] == token {
				delete(f.held, id)
			}
		})
	}, true
}

// Len returns the number of ids in flight
func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}
