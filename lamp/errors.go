package lamp

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports an invalid step or threshold configuration. It is
	// fatal at setup time and must prevent device registration.
	ErrConfig = errors.New("invalid lamp configuration")

	// ErrStepType reports a step entry that is neither an int nor a float.
	ErrStepType = fmt.Errorf("%w: step is not numeric", ErrConfig)

	// ErrRange reports step indices outside the lamp's step table. It is a
	// programming error and propagates to the caller.
	ErrRange = errors.New("step index out of range")
)
