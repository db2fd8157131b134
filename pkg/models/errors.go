package models

import "errors"

// Error classes of the engine. Wrap them with fmt.Errorf("%w: ...") and
// classify with errors.Is.
var (
	// ErrValidation: a required credential, job or coordinate field is missing.
	ErrValidation = errors.New("validation error")
	// ErrParse: a numeric or templated value cannot be parsed.
	ErrParse = errors.New("parse error")
	// ErrProtocol: authentication, timeout or a bad device response.
	ErrProtocol = errors.New("protocol error")
	// ErrFactory: no driver could be resolved for the device.
	ErrFactory = errors.New("no executor available")
)
