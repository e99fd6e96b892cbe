package datacollector

import "errors"

// Handler receives every collection result. Exactly one of the two
// arguments is meaningful per invocation: result when err is nil, err
// otherwise. After any invocation with a non-nil error the collector is
// cancelled and the handler is never called again.
type Handler[T any] func(result T, err error)

// Record is the target type assembled by plan-declared shapes.
type Record map[string]any

// Common errors
var (
	ErrNoFields                 = errors.New("shape has no collectable fields")
	ErrUnknownField             = errors.New("unknown field")
	ErrTypeMismatch             = errors.New("value type mismatch")
	ErrConstruction             = errors.New("cannot construct instance")
	ErrInsufficientCapabilities = errors.New("insufficient capabilities")
	ErrNoPublicKey              = errors.New("no public key configured for context validation")
)
