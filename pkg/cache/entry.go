package cache

import "time"

// State describes what the engine holds for a month.
type State int

const (
	// StateAbsent means no entry exists.
	StateAbsent State = iota
	// StatePending means the first computation is in flight.
	StatePending
	// StateCompleted means a fresh body is cached.
	StateCompleted
	// StateStale means a body is cached but its TTL has elapsed.
	StateStale
	// StateUpdating means a stale body is served while a refresh runs.
	StateUpdating
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateStale:
		return "stale"
	case StateUpdating:
		return "updating"
	default:
		return "absent"
	}
}

// entry is the value stored per month. Implementations are immutable;
// transitions replace the map value.
type entry interface {
	valid(now time.Time) bool
	body() *Future
	state(now time.Time) State
}

// pendingEntry is an in-flight computation with no previous value.
type pendingEntry struct {
	future *Future
}

func (e *pendingEntry) valid(time.Time) bool { return true }

func (e *pendingEntry) body() *Future { return e.future }

func (e *pendingEntry) state(time.Time) State { return StatePending }

// completedEntry is a realized body with an absolute expiry.
type completedEntry struct {
	future  *Future
	expires time.Time
}

func (e *completedEntry) valid(now time.Time) bool { return now.Before(e.expires) }

func (e *completedEntry) body() *Future { return e.future }

func (e *completedEntry) state(now time.Time) State {
	if e.valid(now) {
		return StateCompleted
	}
	return StateStale
}

// updatingEntry serves old until next has resolved successfully.
type updatingEntry struct {
	old  *completedEntry
	next *pendingEntry
}

func (e *updatingEntry) valid(time.Time) bool { return true }

// body is evaluated on every read so callers switch to the new body as soon
// as it is available, even before the slot is replaced.
func (e *updatingEntry) body() *Future {
	if e.next.future.succeeded() {
		return e.next.future
	}
	return e.old.future
}

func (e *updatingEntry) state(time.Time) State { return StateUpdating }
