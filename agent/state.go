package agent

import "fmt"

// State is the agent process lifecycle state.
type State int

const (
	NotStarted State = iota
	Running
	// Stopping is the grace period between the terminate signal and exit.
	// Callers see it as running.
	Stopping
	Exited
)

var stateNames = map[State]string{
	NotStarted: "not-started",
	Running:    "running",
	Stopping:   "stopping",
	Exited:     "exited",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsRunning reports whether a process exists in this state.
func (s State) IsRunning() bool {
	return s == Running || s == Stopping
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown agent state %q", text)
}

// Status is a point-in-time view of the manager.
type Status struct {
	State       State  `json:"state"`
	Running     bool   `json:"running"`
	VoiceActive bool   `json:"voiceActive"`
	RunID       string `json:"runId,omitempty"`
	Pid         int    `json:"pid,omitempty"`
	ExitCode    *int   `json:"exitCode,omitempty"`
}
