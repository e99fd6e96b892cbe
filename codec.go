package datacollector

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zoobzio/capitan"
)

// Encode serializes a field value for transport to a remote collector.
func Encode(value any) ([]byte, error) {
	return msgpack.Marshal(value)
}

// Decode deserializes a field value produced by Encode.
func Decode(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}

// EmitPacked decodes a msgpack payload into the field's declared type and
// schedules it like Emit. This is the entry point for emitters that cross
// a process boundary and cannot hand over a typed Go value.
func (c *Collector[T]) EmitPacked(field string, payload []byte) error {
	if c.closed.Load() {
		capitan.Emit(context.Background(), EmitRejected,
			KeyField.Field(field))
		return nil
	}
	i, ok := c.shape.index[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	target := reflect.New(c.shape.slots[i].typ)
	if err := Decode(payload, target.Interface()); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	c.Emit(field, target.Elem().Interface())
	return nil
}
