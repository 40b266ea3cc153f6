package connection

import (
	"fmt"
	"strings"
)

// State is a stage of the connection lifecycle.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnecting
)

var stateNames = []string{"idle", "connecting", "connected", "disconnecting"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if strings.EqualFold(name, string(text)) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown connection state '%s'", text)
}

// Status is a snapshot of the Manager. Address is the target of Connecting and Connected and empty
// otherwise.
type Status struct {
	State   State  `json:"state"`
	Address string `json:"address,omitempty"`
}

func (s Status) String() string {
	if s.Address == "" {
		return s.State.String()
	}
	return fmt.Sprintf("%s(%s)", s.State, s.Address)
}
