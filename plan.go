package datacollector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/zoobzio/zlog"
	"gopkg.in/yaml.v3"
)

// Plan declares a collection shape in configuration instead of compiled
// code. Plan-built shapes assemble Record instances; the declared type of
// each field is still enforced on the emission path.
type Plan struct {
	Version string      `json:"version,omitempty" yaml:"version,omitempty"`
	Fields  []PlanField `json:"fields" yaml:"fields"`
	Limit   int         `json:"limit,omitempty" yaml:"limit,omitempty"`
	Workers int         `json:"workers,omitempty" yaml:"workers,omitempty"`
	Lenient bool        `json:"lenient,omitempty" yaml:"lenient,omitempty"`
}

// PlanField declares one named, typed field.
type PlanField struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// planTypes is the type vocabulary available to plans.
var planTypes = map[string]reflect.Type{
	"string":   reflect.TypeOf(""),
	"int":      reflect.TypeOf(int(0)),
	"int64":    reflect.TypeOf(int64(0)),
	"float":    reflect.TypeOf(float64(0)),
	"bool":     reflect.TypeOf(false),
	"bytes":    reflect.TypeOf([]byte(nil)),
	"time":     reflect.TypeOf(time.Time{}),
	"duration": reflect.TypeOf(time.Duration(0)),
	"any":      reflect.TypeOf((*any)(nil)).Elem(),
}

// Shape builds the dynamic Record shape the plan declares.
func (p Plan) Shape() (*Shape[Record], error) {
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("%w: plan declares no fields", ErrNoFields)
	}

	s := NewShape[Record]()
	for _, f := range p.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("plan field requires a name")
		}
		typ, ok := planTypes[strings.ToLower(f.Type)]
		if !ok {
			return nil, fmt.Errorf("plan field %q: unknown type %q", f.Name, f.Type)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("plan field %q declared twice", f.Name)
		}
		s.add(recordSlot(f.Name, typ))
	}
	return s, nil
}

// Options returns the collector options the plan declares.
func (p Plan) Options() []Option[Record] {
	opts := []Option[Record]{}
	if p.Limit > 0 {
		opts = append(opts, WithLimit[Record](p.Limit))
	}
	if p.Workers > 0 {
		opts = append(opts, WithWorkers[Record](p.Workers))
	}
	if p.Lenient {
		opts = append(opts, WithLenientTypes[Record]())
	}
	return opts
}

// recordSlot is the dynamic counterpart of Field: the declared type is
// known only at runtime, so acceptance is checked through reflection and
// the value lands in the record under the field's name.
func recordSlot(name string, typ reflect.Type) *slot[Record] {
	return &slot[Record]{
		name: name,
		typ:  typ,
		assign: func(target *Record, value any) error {
			if typ.Kind() != reflect.Interface {
				rv := reflect.ValueOf(value)
				if !rv.IsValid() {
					if !nilable(typ) {
						return fmt.Errorf("%w: field %q expects %s, got nil", ErrTypeMismatch, name, typ)
					}
				} else if !rv.Type().AssignableTo(typ) {
					return fmt.Errorf("%w: field %q expects %s, got %T", ErrTypeMismatch, name, typ, value)
				}
			}
			if *target == nil {
				*target = make(Record)
			}
			(*target)[name] = value
			return nil
		},
	}
}

// PlanFromFile loads a plan from a file. JSON and YAML formats are
// supported, selected by file extension.
func PlanFromFile(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		zlog.Emit(context.Background(), PlanFileFailed, "Failed to read plan file",
			zlog.String("path", path),
			zlog.String("error", err.Error()))
		return Plan{}, fmt.Errorf("failed to read file: %w", err)
	}

	zlog.Emit(context.Background(), PlanFileLoaded, "Plan file loaded",
		zlog.String("path", path),
		zlog.Int("size_bytes", len(data)))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return PlanFromJSON(string(data))
	case ".yaml", ".yml":
		return PlanFromYAML(string(data))
	default:
		return Plan{}, fmt.Errorf("unsupported file format: %s", ext)
	}
}

// PlanFromJSON parses a plan from a JSON string.
func PlanFromJSON(jsonStr string) (Plan, error) {
	var plan Plan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		zlog.Emit(PlanParseFailed, "Failed to parse JSON plan",
			zlog.String("error", err.Error()))
		return Plan{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	logFields := []zlog.Field{zlog.Int("fields", len(plan.Fields))}
	if plan.Version != "" {
		logFields = append(logFields, zlog.String("version", plan.Version))
	}
	zlog.Emit(PlanParsed, "JSON plan parsed", logFields...)
	return plan, nil
}

// PlanFromYAML parses a plan from a YAML string.
func PlanFromYAML(yamlStr string) (Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal([]byte(yamlStr), &plan); err != nil {
		zlog.Emit(PlanParseFailed, "Failed to parse YAML plan",
			zlog.String("error", err.Error()))
		return Plan{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	logFields := []zlog.Field{zlog.Int("fields", len(plan.Fields))}
	if plan.Version != "" {
		logFields = append(logFields, zlog.String("version", plan.Version))
	}
	zlog.Emit(PlanParsed, "YAML plan parsed", logFields...)
	return plan, nil
}

// Collect builds the plan's shape and starts a collector on it in one
// step. Plan-declared limit, workers and leniency apply; explicit opts are
// applied after and win.
func (p Plan) Collect(ctx context.Context, handler Handler[Record], opts ...Option[Record]) (*Collector[Record], error) {
	shape, err := p.Shape()
	if err != nil {
		return nil, err
	}
	all := append(p.Options(), opts...)
	return New(ctx, shape, handler, all...), nil
}
