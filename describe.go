package datacollector

import (
	"encoding/json"
	"sort"
)

// CollectorSpec provides a complete description of a collector's
// configuration for introspection, documentation, and external tooling.
type CollectorSpec struct {
	Type    string      `json:"type"`
	Fields  []FieldSpec `json:"fields"`
	Limit   int         `json:"limit,omitempty"`
	Workers int         `json:"workers"`
	Lenient bool        `json:"lenient,omitempty"`
}

// FieldSpec describes one declared field of a shape.
type FieldSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Describe returns the shape's field descriptors, sorted by name.
func (s *Shape[T]) Describe() []FieldSpec {
	fields := make([]FieldSpec, 0, len(s.slots))
	for _, sl := range s.slots {
		fields = append(fields, FieldSpec{
			Name: sl.name,
			Type: typeName(sl.typ),
		})
	}
	sortFields(fields)
	return fields
}

// Describe returns the collector's full specification.
func (c *Collector[T]) Describe() CollectorSpec {
	spec := CollectorSpec{
		Type:    typeNameOf[T](),
		Workers: c.workers,
		Limit:   c.limit,
		Lenient: c.lenient,
	}
	if c.shape != nil {
		spec.Fields = c.shape.Describe()
	}
	return spec
}

// DescribeJSON returns the collector specification as a JSON string,
// suitable for external tooling.
func (c *Collector[T]) DescribeJSON() (string, error) {
	data, err := json.MarshalIndent(c.Describe(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortFields(s []FieldSpec) {
	sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
}
