package datacollector

import (
	"context"
	"crypto"
	"fmt"
	"reflect"
	"sync"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/sctx"
)

// contextValidator verifies sctx contexts and caches the verified data so
// repeated emissions from the same caller skip signature verification.
type contextValidator struct {
	publicKey crypto.PublicKey
	verified  map[sctx.Context]*sctx.ContextData
	mu        sync.RWMutex
}

var (
	validator     *contextValidator
	validatorOnce sync.Once
)

// SetPublicKey configures the public key used to verify security contexts
// presented by remote emitters. Must be called before Remote. Changing the
// key invalidates previously verified contexts.
func SetPublicKey(publicKey crypto.PublicKey) {
	validatorOnce.Do(func() {
		validator = &contextValidator{}
	})
	validator.mu.Lock()
	validator.publicKey = publicKey
	validator.verified = make(map[sctx.Context]*sctx.ContextData)
	validator.mu.Unlock()
}

func validateContext(ctx sctx.Context) (*sctx.ContextData, error) {
	if validator == nil {
		return nil, ErrNoPublicKey
	}

	validator.mu.RLock()
	key := validator.publicKey
	data, cached := validator.verified[ctx]
	validator.mu.RUnlock()

	if key == nil {
		return nil, ErrNoPublicKey
	}
	if cached {
		return data, nil
	}

	data, err := sctx.VerifyContext(ctx, key)
	if err != nil {
		return nil, err
	}

	validator.mu.Lock()
	validator.verified[ctx] = data
	validator.mu.Unlock()

	return data, nil
}

// Type names are cached so the signature path reflects only on first use
// per type.
var typeNames sync.Map // map[reflect.Type]string

func typeName(t reflect.Type) string {
	if name, ok := typeNames.Load(t); ok {
		return name.(string)
	}
	name := t.String()
	typeNames.Store(t, name)
	return name
}

func typeNameOf[T any]() string {
	return typeName(reflect.TypeOf((*T)(nil)).Elem())
}

// shapeSignature identifies the target type in remote emission
// permissions: datacollector:attach:<signature> gates handle creation,
// datacollector:emit:<signature> gates each emission.
func shapeSignature[T any]() string {
	return typeNameOf[T]()
}

// RemoteEmitter feeds packed field values into a collector on behalf of an
// external caller holding a verified security context. Values cross the
// boundary as msgpack payloads and are decoded into the field's declared
// type before delivery.
type RemoteEmitter[T any] struct {
	collector *Collector[T]
	signature string
}

// Remote returns an emission handle for external callers. The presented
// context must verify against the configured public key and carry the
// datacollector:attach:<signature> permission for this collector's target
// type.
func (c *Collector[T]) Remote(ctx sctx.Context) (*RemoteEmitter[T], error) {
	data, err := validateContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("invalid context: %w", err)
	}

	signature := shapeSignature[T]()
	if !data.HasPermission(fmt.Sprintf("datacollector:attach:%s", signature)) {
		return nil, ErrInsufficientCapabilities
	}

	capitan.Emit(context.Background(), RemoteAttached,
		KeySignature.Field(signature))

	return &RemoteEmitter[T]{
		collector: c,
		signature: signature,
	}, nil
}

// Emit decodes and delivers one packed field value. The presented context
// must carry the datacollector:emit:<signature> permission.
func (r *RemoteEmitter[T]) Emit(ctx sctx.Context, field string, payload []byte) error {
	data, err := validateContext(ctx)
	if err != nil {
		return fmt.Errorf("invalid context: %w", err)
	}

	permission := fmt.Sprintf("datacollector:emit:%s", r.signature)
	if !data.HasPermission(permission) {
		return fmt.Errorf("%w: %s", ErrInsufficientCapabilities, permission)
	}

	return r.collector.EmitPacked(field, payload)
}

// Signature returns the target-type signature used in this emitter's
// permissions.
func (r *RemoteEmitter[T]) Signature() string {
	return r.signature
}
