package table

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hpungsan/tabsynth/internal/errors"
)

// SDType is the semantic data type declared for a column.
type SDType string

const (
	Numerical   SDType = "numerical"
	Categorical SDType = "categorical"
	Boolean     SDType = "boolean"
	Datetime    SDType = "datetime"
	ID          SDType = "id"
)

// Kind is how a column is modeled.
type Kind string

const (
	KindContinuous Kind = "continuous"
	KindDiscrete   Kind = "discrete"
	KindID         Kind = "id" // not modeled, regenerated after sampling
)

// ColumnSpec declares one column. It is immutable once training starts.
type ColumnSpec struct {
	Name           string `json:"name"`
	SDType         SDType `json:"sdtype"`
	DatetimeFormat string `json:"datetime_format,omitempty"`
	PII            bool   `json:"pii,omitempty"`
	LogScale       bool   `json:"log_scale,omitempty"`
}

// Kind returns the modeling kind. PII and any unknown sdtype are opaque discrete data.
func (c ColumnSpec) Kind() Kind {
	if c.PII {
		return KindDiscrete
	}
	switch c.SDType {
	case Numerical, Datetime:
		return KindContinuous
	case ID:
		return KindID
	default:
		return KindDiscrete
	}
}

// Schema is the ordered list of column specs.
type Schema struct {
	Columns []ColumnSpec `json:"columns"`
}

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Lookup returns the spec for name.
func (s *Schema) Lookup(name string) (ColumnSpec, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Validate checks the schema against a table header: every schema column must be present
// and every table column must be declared.
func (s *Schema) Validate(header []string) error {
	if len(s.Columns) == 0 {
		return errors.NewInvalidRequest("schema has no columns")
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return errors.NewInvalidRequest("schema column with empty name")
		}
		if seen[c.Name] {
			return errors.NewSchemaMismatch(c.Name, "declared twice in schema")
		}
		seen[c.Name] = true
	}
	inTable := make(map[string]bool, len(header))
	for _, h := range header {
		inTable[h] = true
		if !seen[h] {
			return errors.NewSchemaMismatch(h, "present in table but not in schema")
		}
	}
	for _, c := range s.Columns {
		if !inTable[c.Name] {
			return errors.NewSchemaMismatch(c.Name, "declared in schema but absent from table")
		}
	}
	return nil
}

// FromDiscrete builds a schema from a header: listed columns are categorical, the rest numerical.
func FromDiscrete(header, discrete []string) (*Schema, error) {
	isDiscrete := make(map[string]bool, len(discrete))
	for _, d := range discrete {
		isDiscrete[d] = true
	}
	inHeader := make(map[string]bool, len(header))
	s := &Schema{Columns: make([]ColumnSpec, 0, len(header))}
	for _, h := range header {
		inHeader[h] = true
		spec := ColumnSpec{Name: h, SDType: Numerical}
		if isDiscrete[h] {
			spec.SDType = Categorical
		}
		s.Columns = append(s.Columns, spec)
	}
	for _, d := range discrete {
		if !inHeader[d] {
			return nil, errors.NewSchemaMismatch(d, "listed as discrete but absent from table")
		}
	}
	return s, nil
}

// metadataColumn is one entry of an SDV-style metadata document.
type metadataColumn struct {
	SDType         string `json:"sdtype"`
	DatetimeFormat string `json:"datetime_format,omitempty"`
	PII            bool   `json:"pii,omitempty"`
	LogScale       bool   `json:"log_scale,omitempty"`
}

type metadataDoc struct {
	Columns map[string]metadataColumn `json:"columns"`
}

// ParseMetadata parses an SDV-style metadata document. Column order follows header,
// because JSON objects carry no order.
func ParseMetadata(data []byte, header []string) (*Schema, error) {
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid metadata: %v", err))
	}
	s := &Schema{Columns: make([]ColumnSpec, 0, len(header))}
	for _, h := range header {
		col, ok := doc.Columns[h]
		if !ok {
			return nil, errors.NewSchemaMismatch(h, "present in table but not in metadata")
		}
		spec := ColumnSpec{
			Name:           h,
			SDType:         SDType(col.SDType),
			DatetimeFormat: col.DatetimeFormat,
			PII:            col.PII,
			LogScale:       col.LogScale,
		}
		switch spec.SDType {
		case Numerical, Categorical, Boolean, Datetime, ID:
		default:
			// email, phone_number, name, ...: PII-typed, opaque strings
			spec.PII = true
		}
		s.Columns = append(s.Columns, spec)
	}
	if len(doc.Columns) != len(header) {
		for name := range doc.Columns {
			if !contains(header, name) {
				return nil, errors.NewSchemaMismatch(name, "declared in metadata but absent from table")
			}
		}
	}
	return s, nil
}

// LoadMetadata reads and parses a metadata file.
func LoadMetadata(path string, header []string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMetadata(data, header)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
