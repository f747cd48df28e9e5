package orchestrator

// State is the lifecycle state of the live world.
type State string

const (
	StateEmpty   State = "empty"   // nothing loaded yet
	StateLoading State = "loading" // a load is running
	StateReady   State = "ready"   // the last load succeeded
	StateStale   State = "stale"   // the last load failed; an older world is live
	StateFailed  State = "failed"  // every load so far failed
)

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	if len(o.sem) > 0 {
		return StateLoading
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	switch {
	case o.last == nil:
		return StateEmpty
	case o.last.OK:
		return StateReady
	case o.current != nil:
		return StateStale
	default:
		return StateFailed
	}
}

// HasWorld reports whether a world is live.
func (o *Orchestrator) HasWorld() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current != nil
}
