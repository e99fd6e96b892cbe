package datacollector

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

// slot binds one named field to its declared type and its assignment into
// the target under construction.
type slot[T any] struct {
	assign func(*T, any) error
	typ    reflect.Type
	name   string
}

// check reports whether value can be delivered to this slot without the
// assignment failing. Used by the strict emission path.
func (sl *slot[T]) check(value any) error {
	if sl.typ.Kind() == reflect.Interface && sl.typ.NumMethod() == 0 {
		return nil
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		if nilable(sl.typ) {
			return nil
		}
		return fmt.Errorf("%w: field %q expects %s, got nil", ErrTypeMismatch, sl.name, sl.typ)
	}
	if !rv.Type().AssignableTo(sl.typ) {
		return fmt.Errorf("%w: field %q expects %s, got %T", ErrTypeMismatch, sl.name, sl.typ, value)
	}
	return nil
}

// Shape is the field-descriptor table for a target type T: an ordered set
// of named, typed constructor slots. Shapes are declared once, either
// explicitly through Field or derived through ShapeOf, and must not be
// modified after a collector has been started on them.
type Shape[T any] struct {
	index map[string]int
	slots []*slot[T]
}

// NewShape creates an empty shape for T. Declare fields with Field.
func NewShape[T any]() *Shape[T] {
	return &Shape[T]{index: make(map[string]int)}
}

// Field declares a named field of type V on the shape, bound to a typed
// setter. The setter is the field's constructor slot: it receives the
// instance under construction and the collected value. Declaring the same
// name twice replaces the earlier slot.
func Field[T, V any](s *Shape[T], name string, set func(*T, V)) *Shape[T] {
	typ := reflect.TypeOf((*V)(nil)).Elem()
	s.add(&slot[T]{
		name: name,
		typ:  typ,
		assign: func(target *T, value any) error {
			v, ok := value.(V)
			if !ok {
				if value != nil || !nilable(typ) {
					return fmt.Errorf("%w: field %q expects %s, got %T", ErrTypeMismatch, name, typ, value)
				}
			}
			set(target, v)
			return nil
		},
	})
	return s
}

func (s *Shape[T]) add(sl *slot[T]) {
	if i, exists := s.index[sl.name]; exists {
		s.slots[i] = sl
		return
	}
	s.index[sl.name] = len(s.slots)
	s.slots = append(s.slots, sl)
}

// Len returns the number of declared fields.
func (s *Shape[T]) Len() int {
	return len(s.slots)
}

// Fields returns the declared field names in declaration order.
func (s *Shape[T]) Fields() []string {
	names := make([]string, len(s.slots))
	for i, sl := range s.slots {
		names[i] = sl.name
	}
	return names
}

// assemble constructs one T from a complete set of latest values, ordered
// as the slots are. A value the slot cannot accept is a construction
// failure; the partial instance is discarded.
func (s *Shape[T]) assemble(values []any) (T, error) {
	var out T
	for i, sl := range s.slots {
		if err := sl.assign(&out, values[i]); err != nil {
			return out, fmt.Errorf("%w: %w", ErrConstruction, err)
		}
	}
	return out, nil
}

// ShapeOf derives a shape from the exported fields of a struct type via
// reflection. Field names default to the lower-camel form of the Go name;
// a `collect` tag overrides the name, and `collect:"-"` skips the field.
// A type with no collectable fields cannot be assembled and fails with
// ErrNoFields.
func ShapeOf[T any]() (*Shape[T], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrNoFields, typ)
	}

	s := NewShape[T]()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("collect")
		if name == "-" {
			continue
		}
		if name == "" {
			name = lowerFirst(f.Name)
		}
		ft := f.Type
		idx := f.Index
		s.add(&slot[T]{
			name: name,
			typ:  ft,
			assign: func(target *T, value any) error {
				rv := reflect.ValueOf(value)
				if !rv.IsValid() {
					// Leave nilable fields at their zero value.
					if nilable(ft) {
						return nil
					}
					return fmt.Errorf("%w: field %q expects %s, got nil", ErrTypeMismatch, name, ft)
				}
				if !rv.Type().AssignableTo(ft) {
					return fmt.Errorf("%w: field %q expects %s, got %T", ErrTypeMismatch, name, ft, value)
				}
				reflect.ValueOf(target).Elem().FieldByIndex(idx).Set(rv)
				return nil
			},
		})
	}
	if len(s.slots) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFields, typ)
	}
	return s, nil
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return true
	default:
		return false
	}
}

func lowerFirst(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}
