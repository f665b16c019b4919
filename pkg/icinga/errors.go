package icinga

import (
	"fmt"
	"github.com/pkg/errors"
)

// NotFoundError is returned when a name does not resolve to a registered object.
// A dangling dependency reference indicates a configuration integrity problem,
// so it propagates to the caller instead of being masked.
type NotFoundError struct {
	Type string
	Name string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q does not exist", e.Type, e.Name)
}

// IsNotFound returns whether the given error is a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// ConfigurationError is returned for malformed configuration that can be
// rejected at the scope of a single item or query, e.g. a bad service
// descriptor or a dependency cycle.
type ConfigurationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return e.Message
}

// IsConfigurationError returns whether the given error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Assert interface compliance.
var (
	_ error = (*NotFoundError)(nil)
	_ error = (*ConfigurationError)(nil)
)
