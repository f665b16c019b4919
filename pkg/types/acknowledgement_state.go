package types

import (
	"database/sql/driver"
	"encoding"
	"encoding/json"
	"github.com/pkg/errors"
)

// AcknowledgementState specifies an acknowledgement state (none, normal, sticky).
type AcknowledgementState uint8

const (
	AcknowledgementNone AcknowledgementState = iota
	AcknowledgementNormal
	AcknowledgementSticky
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (as *AcknowledgementState) UnmarshalText(bytes []byte) error {
	return as.UnmarshalJSON(bytes)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (as *AcknowledgementState) UnmarshalJSON(data []byte) error {
	var i uint8
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}

	a := AcknowledgementState(i)
	if _, ok := acknowledgementStates[a]; !ok {
		return badAcknowledgementState(data)
	}

	*as = a
	return nil
}

// Value implements the driver.Valuer interface.
func (as AcknowledgementState) Value() (driver.Value, error) {
	if v, ok := acknowledgementStates[as]; ok {
		return v, nil
	} else {
		return nil, badAcknowledgementState(as)
	}
}

// Scan implements the sql.Scanner interface.
func (as *AcknowledgementState) Scan(src interface{}) error {
	name, err := scanText(src)
	if err != nil {
		return err
	}

	for a, v := range acknowledgementStates {
		if v == name {
			*as = a
			return nil
		}
	}

	return badAcknowledgementState(src)
}

// badAcknowledgementState returns an error about a syntactically, but not semantically valid AcknowledgementState.
func badAcknowledgementState(s interface{}) error {
	return errors.Errorf("bad acknowledgement state: %#v", s)
}

// acknowledgementStates maps all valid AcknowledgementState values to their SQL representation.
var acknowledgementStates = map[AcknowledgementState]string{
	AcknowledgementNone:   "none",
	AcknowledgementNormal: "normal",
	AcknowledgementSticky: "sticky",
}

// Assert interface compliance.
var (
	_ encoding.TextUnmarshaler = (*AcknowledgementState)(nil)
	_ json.Unmarshaler         = (*AcknowledgementState)(nil)
	_ driver.Valuer            = AcknowledgementState(0)
)
