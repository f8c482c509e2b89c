package pipeline

// State is the audio pipeline's processing state. The consumer goroutine
// owns the state; observers read a published copy.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateWakeDetected
	StateRecording
	StateProcessing
	StateError
)

// String returns the canonical state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateWakeDetected:
		return "WAKE_DETECTED"
	case StateRecording:
		return "RECORDING"
	case StateProcessing:
		return "PROCESSING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions is the state machine's edge set. Any state may enter
// ERROR; ERROR recovers to LISTENING.
var legalTransitions = map[State][]State{
	StateIdle:         {StateListening},
	StateListening:    {StateWakeDetected, StateRecording, StateIdle},
	StateWakeDetected: {StateRecording, StateListening, StateIdle},
	StateRecording:    {StateProcessing, StateListening, StateIdle},
	StateProcessing:   {StateListening, StateIdle},
	StateError:        {StateListening, StateIdle},
}

// canTransition reports whether the edge from → to exists.
func canTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
