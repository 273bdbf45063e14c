package workflows

// StateMachine enforces a strictly linear progression through an ordered set
// of states. The last state is terminal.
type StateMachine[S comparable] struct {
	order []S
	index map[S]int
}

// NewStateMachine creates a state machine over the given canonical order.
// Duplicate states keep their first position.
func NewStateMachine[S comparable](order ...S) *StateMachine[S] {
	sm := &StateMachine[S]{
		order: make([]S, 0, len(order)),
		index: make(map[S]int, len(order)),
	}
	for _, s := range order {
		if _, exists := sm.index[s]; exists {
			continue
		}
		sm.index[s] = len(sm.order)
		sm.order = append(sm.order, s)
	}
	return sm
}

// States returns a copy of the canonical order
func (sm *StateMachine[S]) States() []S {
	out := make([]S, len(sm.order))
	copy(out, sm.order)
	return out
}

// First returns the initial state.
func (sm *StateMachine[S]) First() S {
	var zero S
	if len(sm.order) == 0 {
		return zero
	}
	return sm.order[0]
}

// Terminal returns the final state.
func (sm *StateMachine[S]) Terminal() S {
	var zero S
	if len(sm.order) == 0 {
		return zero
	}
	return sm.order[len(sm.order)-1]
}

// Contains reports whether s belongs to the sequence.
func (sm *StateMachine[S]) Contains(s S) bool {
	_, ok := sm.index[s]
	return ok
}

// Index returns the position of s, or -1 when unknown.
func (sm *StateMachine[S]) Index(s S) int {
	if i, ok := sm.index[s]; ok {
		return i
	}
	return -1
}

// Next returns the successor of s. ok is false for the terminal state and
// for states outside the sequence.
func (sm *StateMachine[S]) Next(s S) (next S, ok bool) {
	i, exists := sm.index[s]
	if !exists || i+1 >= len(sm.order) {
		return next, false
	}
	return sm.order[i+1], true
}

// Previous returns the predecessor of s.
func (sm *StateMachine[S]) Previous(s S) (prev S, ok bool) {
	i, exists := sm.index[s]
	if !exists || i == 0 {
		return prev, false
	}
	return sm.order[i-1], true
}

// Prefix returns every state strictly before s, in order.
func (sm *StateMachine[S]) Prefix(s S) []S {
	i, exists := sm.index[s]
	if !exists {
		return []S{}
	}
	out := make([]S, i)
	copy(out, sm.order[:i])
	return out
}

// IsTerminal reports whether s is the last state.
func (sm *StateMachine[S]) IsTerminal(s S) bool {
	return len(sm.order) > 0 && sm.Index(s) == len(sm.order)-1
}

// CanTransition checks if moving from one state to another is allowed.
// Only the immediate successor is reachable.
func (sm *StateMachine[S]) CanTransition(from, to S) bool {
	next, ok := sm.Next(from)
	return ok && next == to
}

// GetAllowedTransitions returns the allowed next states for a given state
func (sm *StateMachine[S]) GetAllowedTransitions(from S) []S {
	next, ok := sm.Next(from)
	if !ok {
		return []S{}
	}
	return []S{next}
}

// IsPrefix reports whether states is exactly the canonical prefix before s:
// same order, no gaps, no duplicates.
func (sm *StateMachine[S]) IsPrefix(states []S, s S) bool {
	i, exists := sm.index[s]
	if !exists || len(states) != i {
		return false
	}
	for k, st := range states {
		if sm.order[k] != st {
			return false
		}
	}
	return true
}
