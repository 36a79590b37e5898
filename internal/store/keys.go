package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Key identifies one touched storage location: either a document's point key
// (Index empty, K is the id) or one index entry (K is the encoded index key).
type Key struct {
	Table string
	Index string
	K     []byte
}

// PointKey builds the point key for a document.
func PointKey(table, id string) Key {
	return Key{Table: table, K: []byte(id)}
}

// KeyRange is a dependency range in encoded key space. Start is inclusive,
// End exclusive; nil bounds are unbounded. An empty Index means the range
// covers point keys of the table.
type KeyRange struct {
	Table string
	Index string
	Start []byte
	End   []byte
}

// PointRange builds the degenerate range covering exactly one document id.
func PointRange(table, id string) KeyRange {
	start := []byte(id)
	end := append(append([]byte{}, start...), 0x00)
	return KeyRange{Table: table, Start: start, End: end}
}

// Contains reports whether the key falls inside the range.
func (r KeyRange) Contains(k Key) bool {
	if r.Table != k.Table || r.Index != k.Index {
		return false
	}
	if r.Start != nil && bytes.Compare(k.K, r.Start) < 0 {
		return false
	}
	if r.End != nil && bytes.Compare(k.K, r.End) >= 0 {
		return false
	}
	return true
}

// EncodeIndexKey builds the ordered index entry key for a document: the
// encoded index field values followed by the insert sequence, so equal field
// values iterate in insertion order and every entry key is unique.
func EncodeIndexKey(table TableSchema, index IndexSchema, doc Document) ([]byte, error) {
	var key []byte
	for _, field := range index.Fields {
		switch field {
		case FieldCreatedAt:
			key = appendInt64(key, doc.CreatedAt.UnixMilli())
		case FieldUpdatedAt:
			key = appendInt64(key, doc.UpdatedAt.UnixMilli())
		default:
			fieldType, ok := table.Fields[field]
			if !ok {
				return nil, fmt.Errorf("index %q references unknown field %q", index.Name, field)
			}
			encoded, err := appendValue(key, doc.Fields[field], fieldType)
			if err != nil {
				return nil, fmt.Errorf("index %q field %q: %w", index.Name, field, err)
			}
			key = encoded
		}
	}
	return binary.BigEndian.AppendUint64(key, doc.Seq), nil
}

func appendValue(key []byte, value any, fieldType FieldType) ([]byte, error) {
	switch fieldType {
	case FieldTypeString:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return appendString(key, v), nil
	case FieldTypeInt:
		v, ok := value.(int64)
		if !ok {
			return nil, fmt.Errorf("expected int64, got %T", value)
		}
		return appendInt64(key, v), nil
	case FieldTypeFloat:
		v, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("expected float64, got %T", value)
		}
		return appendFloat64(key, v), nil
	case FieldTypeBool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		if v {
			return append(key, 1), nil
		}
		return append(key, 0), nil
	default:
		return nil, fmt.Errorf("unsupported field type %d", fieldType)
	}
}

// appendString writes a string with 0x00/0x01 escaped so the 0x00 terminator
// keeps byte order aligned with string order.
func appendString(key []byte, value string) []byte {
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case 0x00:
			key = append(key, 0x01, 0x01)
		case 0x01:
			key = append(key, 0x01, 0x02)
		default:
			key = append(key, value[i])
		}
	}
	return append(key, 0x00)
}

// appendInt64 writes an integer with the sign bit flipped so signed values
// sort correctly as unsigned bytes.
func appendInt64(key []byte, value int64) []byte {
	return binary.BigEndian.AppendUint64(key, uint64(value)^(1<<63))
}

// appendFloat64 writes a float in a total order: positive floats have the
// sign bit set, negative floats have all bits flipped.
func appendFloat64(key []byte, value float64) []byte {
	bits := math.Float64bits(value)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return binary.BigEndian.AppendUint64(key, bits)
}
