package store

import (
	"fmt"
	"sort"

	apperrors "github.com/louisbranch/tidepool/internal/errors"
)

// FieldType constrains the value type of a declared document field.
type FieldType int

const (
	// FieldTypeString holds UTF-8 text.
	FieldTypeString FieldType = iota + 1
	// FieldTypeInt holds signed 64-bit integers.
	FieldTypeInt
	// FieldTypeFloat holds 64-bit floats.
	FieldTypeFloat
	// FieldTypeBool holds booleans.
	FieldTypeBool
)

// IndexSchema declares an ordered projection of a table over one or more
// fields. Field names may reference declared fields or the system fields
// createdAt and updatedAt.
type IndexSchema struct {
	Name   string
	Fields []string
}

// TableSchema declares a table: its field types and its indexes.
type TableSchema struct {
	Name    string
	Fields  map[string]FieldType
	Indexes []IndexSchema
}

// Index returns the named index declaration.
func (t TableSchema) Index(name string) (IndexSchema, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSchema{}, false
}

// Schema is the set of declared tables.
type Schema struct {
	tables map[string]TableSchema
}

// NewSchema validates and assembles a schema from table declarations.
func NewSchema(tables ...TableSchema) (*Schema, error) {
	byName := make(map[string]TableSchema, len(tables))
	for _, table := range tables {
		if table.Name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		if _, dup := byName[table.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", table.Name)
		}
		for _, idx := range table.Indexes {
			if idx.Name == "" {
				return nil, fmt.Errorf("table %q: index name is required", table.Name)
			}
			if len(idx.Fields) == 0 {
				return nil, fmt.Errorf("table %q: index %q has no fields", table.Name, idx.Name)
			}
			for _, field := range idx.Fields {
				if field == FieldCreatedAt || field == FieldUpdatedAt {
					continue
				}
				if _, ok := table.Fields[field]; !ok {
					return nil, fmt.Errorf("table %q: index %q references unknown field %q", table.Name, idx.Name, field)
				}
			}
		}
		byName[table.Name] = table
	}
	return &Schema{tables: byName}, nil
}

// Table returns the named table declaration.
func (s *Schema) Table(name string) (TableSchema, bool) {
	table, ok := s.tables[name]
	return table, ok
}

// TableNames returns the declared table names in lexical order.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateFields checks a write payload against the table declaration:
// every declared field present with the right type, no unknown fields, no
// client-supplied system fields. It returns a normalized copy of the map.
func (s *Schema) ValidateFields(table string, fields map[string]any) (map[string]any, error) {
	decl, ok := s.Table(table)
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeSchemaUnknownTable,
			fmt.Sprintf("unknown table %q", table),
			map[string]string{"Table": table})
	}

	normalized := make(map[string]any, len(decl.Fields))
	for name, value := range fields {
		if name == FieldCreatedAt || name == FieldUpdatedAt {
			return nil, apperrors.WithMetadata(apperrors.CodeSchemaSystemField,
				fmt.Sprintf("table %q: field %q is server-stamped", table, name),
				map[string]string{"Table": table, "Field": name})
		}
		fieldType, ok := decl.Fields[name]
		if !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeSchemaUnknownField,
				fmt.Sprintf("table %q: unknown field %q", table, name),
				map[string]string{"Table": table, "Field": name})
		}
		coerced, ok := coerceValue(value, fieldType)
		if !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeSchemaInvalidField,
				fmt.Sprintf("table %q: field %q has invalid type %T", table, name, value),
				map[string]string{"Table": table, "Field": name})
		}
		normalized[name] = coerced
	}
	for name := range decl.Fields {
		if _, ok := normalized[name]; !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeSchemaMissingField,
				fmt.Sprintf("table %q: field %q is required", table, name),
				map[string]string{"Table": table, "Field": name})
		}
	}
	return normalized, nil
}

// coerceValue narrows a payload value to the declared field type. Integers
// arriving as float64 (JSON decoding) are accepted when they are whole.
func coerceValue(value any, fieldType FieldType) (any, bool) {
	switch fieldType {
	case FieldTypeString:
		v, ok := value.(string)
		return v, ok
	case FieldTypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), true
		case int64:
			return v, true
		case float64:
			if v == float64(int64(v)) {
				return int64(v), true
			}
		}
		return nil, false
	case FieldTypeFloat:
		switch v := value.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
		return nil, false
	case FieldTypeBool:
		v, ok := value.(bool)
		return v, ok
	default:
		return nil, false
	}
}
