package sink

import (
	"sync"

	"github.com/hongjun500/echo-dtm/internal/action"
)

// Recorder keeps every record in memory, in emission order.
type Recorder struct {
	mu      sync.Mutex
	actions []action.Action
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(a action.Action) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.mu.Unlock()
}

// Actions returns a snapshot copy.
func (r *Recorder) Actions() []action.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]action.Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// For returns the records of one remote, which is the order a single session produced.
func (r *Recorder) For(remote uint64) []action.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []action.Action
	for _, a := range r.actions {
		if a.Remote == remote && a.Kind != action.ServerStart {
			out = append(out, a)
		}
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.actions = nil
	r.mu.Unlock()
}
