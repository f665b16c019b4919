package types

import (
	"database/sql/driver"
	"encoding"
	"encoding/json"
	"github.com/pkg/errors"
)

// State specifies a checkable's monitoring state.
// Services use StateOK through StateUnknown, hosts StateUp and StateDown.
type State uint8

const (
	StateOK State = iota
	StateWarning
	StateCritical
	StateUnknown
	StateUp
	StateDown
)

// IsProblem returns whether the state is neither OK nor Warning for services
// and not Up for hosts.
func (s State) IsProblem() bool {
	switch s {
	case StateOK, StateWarning, StateUp:
		return false
	default:
		return true
	}
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *State) UnmarshalText(bytes []byte) error {
	return s.UnmarshalJSON(bytes)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *State) UnmarshalJSON(data []byte) error {
	var i uint8
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}

	state := State(i)
	if _, ok := states[state]; !ok {
		return badState(data)
	}

	*s = state
	return nil
}

// Value implements the driver.Valuer interface.
func (s State) Value() (driver.Value, error) {
	if v, ok := states[s]; ok {
		return v, nil
	} else {
		return nil, badState(s)
	}
}

// Scan implements the sql.Scanner interface.
func (s *State) Scan(src interface{}) error {
	name, err := scanText(src)
	if err != nil {
		return err
	}

	for state, v := range states {
		if v == name {
			*s = state
			return nil
		}
	}

	return badState(src)
}

// String implements the fmt.Stringer interface.
func (s State) String() string {
	if v, ok := states[s]; ok {
		return v
	}

	return "invalid"
}

// badState returns an error about a syntactically, but not semantically valid State.
func badState(s interface{}) error {
	return errors.Errorf("bad state: %#v", s)
}

// states maps all valid State values to their SQL representation.
var states = map[State]string{
	StateOK:       "ok",
	StateWarning:  "warning",
	StateCritical: "critical",
	StateUnknown:  "unknown",
	StateUp:       "up",
	StateDown:     "down",
}

// Assert interface compliance.
var (
	_ encoding.TextUnmarshaler = (*State)(nil)
	_ json.Unmarshaler         = (*State)(nil)
	_ driver.Valuer            = State(0)
)
