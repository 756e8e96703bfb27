package playback

// State is the playback state of one tenant session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StatePlaying
	StateCompleting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateCompleting:
		return "completing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateIdle:       {StateStarting, StateStopped},
	StateStarting:   {StatePlaying, StateIdle, StateStopped},
	StatePlaying:    {StateCompleting, StateStopped},
	StateCompleting: {StateStarting, StateIdle, StateStopped},
	StateStopped:    {StateStarting, StateIdle},
}

// isValidTransition checks if a state transition is allowed.
func isValidTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
