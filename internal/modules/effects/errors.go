package effects

import (
	"errors"
	"fmt"
)

// ErrInvalidFilterSyntax is returned for malformed filter text
var ErrInvalidFilterSyntax = errors.New("invalid filter syntax")

// ErrUnknownEffect matches every *UnknownEffectError
var ErrUnknownEffect = errors.New("unknown effect")

// UnknownEffectError names an effect that did not resolve against the registry.
// The parser returns these as warnings; callers decide whether they are fatal.
type UnknownEffectError struct {
	Name string
}

func (e *UnknownEffectError) Error() string {
	return fmt.Sprintf("unknown effect %q", e.Name)
}

func (e *UnknownEffectError) Is(target error) bool {
	return target == ErrUnknownEffect
}

func syntaxError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidFilterSyntax, fmt.Sprintf(format, args...))
}

// Strict turns parser warnings into a single error, or nil when there are none
func Strict(warnings []error) error {
	if len(warnings) == 0 {
		return nil
	}
	return errors.Join(warnings...)
}
