package types

import (
	"github.com/pkg/errors"
)

// scanText converts a value scanned from SQL into a string.
// SQLite hands TEXT columns to the scanner as either string or []byte
// depending on the driver and query path.
func scanText(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Errorf("bad text type assertion from %#v", src)
	}
}
