package bridge

// State is a lifecycle phase of a Bridge
type State int32

const (
	StateUnloaded State = iota
	StateRegistering
	StateResolving
	StateReady
	StateLoadFailed
)

var stateNames = [...]string{
	StateUnloaded:    "unloaded",
	StateRegistering: "registering",
	StateResolving:   "resolving",
	StateReady:       "ready",
	StateLoadFailed:  "load_failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
