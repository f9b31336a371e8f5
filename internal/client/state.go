// Package client is the consuming side of the relay: one reconnecting
// websocket session plus the per-chat message logs it maintains.
package client

// State is the lifecycle state of a Controller's connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateRetryScheduled
	StateGaveUp
	// StateStopped follows an intentional Close and is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateGaveUp:
		return "gave_up"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateIdle:           {StateConnecting, StateStopped},
	StateConnecting:     {StateOpen, StateRetryScheduled, StateGaveUp, StateStopped},
	StateOpen:           {StateRetryScheduled, StateGaveUp, StateStopped},
	StateRetryScheduled: {StateConnecting, StateStopped},
	StateGaveUp:         {StateConnecting, StateStopped},
	StateStopped:        nil,
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
