package index

import "sync/atomic"

// State is the phase of an indexing run.
type State int32

const (
	StateIdle State = iota
	StateWalking
	StateExtracting
	StateEmbedding
	StateCommitting
	StateDraining
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWalking:
		return "walking"
	case StateExtracting:
		return "extracting"
	case StateEmbedding:
		return "embedding"
	case StateCommitting:
		return "committing"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// stateValue holds the current State. Stages overlap in the pipeline, so it
// reports the furthest stage reached; Draining and Idle are set explicitly.
type stateValue struct {
	v atomic.Int32
}

func (s *stateValue) Load() State { return State(s.v.Load()) }

func (s *stateValue) Set(st State) { s.v.Store(int32(st)) }

// Advance moves forward to st unless the run is already further along or draining.
func (s *stateValue) Advance(st State) {
	for {
		cur := s.v.Load()
		if State(cur) >= st {
			return
		}
		if s.v.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}
