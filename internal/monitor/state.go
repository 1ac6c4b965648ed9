package monitor

// State is a run loop state.
type State string

const (
	StateIdle       State = "idle"
	StateSampling   State = "sampling"
	StateReporting  State = "reporting"
	StateTerminated State = "terminated"
)

// validTransitions lists the edges of the run loop state machine.
var validTransitions = map[State][]State{
	StateIdle:       {StateSampling, StateTerminated},
	StateSampling:   {StateReporting, StateTerminated},
	StateReporting:  {StateSampling, StateTerminated},
	StateTerminated: {},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reason explains why a run reached StateTerminated.
type Reason string

const (
	ReasonCompleted   Reason = "completed"
	ReasonProcessGone Reason = "process_gone"
	ReasonCancelled   Reason = "cancelled"
	ReasonError       Reason = "error"
)

// Message is the user-facing text for a termination reason.
func (r Reason) Message() string {
	switch r {
	case ReasonCompleted:
		return "monitoring finished"
	case ReasonProcessGone:
		return "process terminated"
	case ReasonCancelled:
		return "monitoring cancelled"
	default:
		return "monitoring stopped on error"
	}
}
