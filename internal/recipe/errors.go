package recipe

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidOption         = errors.New("invalid option")
	ErrMissingRequiredOption = errors.New("missing required option")
	ErrMalformedEndpoint     = errors.New("malformed engine endpoint")
)

// OptionError reports option keys rejected by a registration call.
type OptionError struct {
	Op   string   // registration that failed: host, port_binding, volume_binding, recipe
	Keys []string // offending keys, sorted
	Err  error    // ErrInvalidOption or ErrMissingRequiredOption
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, strings.Join(e.Keys, ", "))
}

func (e *OptionError) Unwrap() error {
	return e.Err
}

func invalidOption(op string, keys ...string) *OptionError {
	return &OptionError{Op: op, Keys: keys, Err: ErrInvalidOption}
}

func missingOption(op string, keys ...string) *OptionError {
	return &OptionError{Op: op, Keys: keys, Err: ErrMissingRequiredOption}
}
