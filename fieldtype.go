package odb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// FieldKind is the closed set of field type variants.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindEnum
	KindReference
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindEnum:
		return "enum"
	case KindReference:
		return "reference"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// FieldType defines how values of one named type are validated, encoded into
// order-preserving bytes, and decoded back. The encoding must be
// self-delimiting so that index keys need no delimiters.
type FieldType struct {
	name       string
	kind       FieldKind
	descriptor string
	defaultVal any
	encode     func(buf []byte, v any) ([]byte, error)
	decode     func(data []byte) (any, error)
}

// NewFieldType defines a custom field type. The descriptor must uniquely
// describe the byte encoding scheme; it is fingerprinted into the encoding
// signature, so any change to the encoding must change the descriptor.
func NewFieldType(name string, kind FieldKind, descriptor string, defaultVal any, encode func(buf []byte, v any) ([]byte, error), decode func(data []byte) (any, error)) *FieldType {
	if name == "" || descriptor == "" {
		panic("field type needs a name and an encoding descriptor")
	}
	return &FieldType{name, kind, descriptor, defaultVal, encode, decode}
}

func (ft *FieldType) Name() string { return ft.name }

func (ft *FieldType) Kind() FieldKind { return ft.kind }

// Signature is the fingerprint of the encoding scheme. Two field types
// registered under the same name must agree on it.
func (ft *FieldType) Signature() uint64 {
	return xxhash.Sum64String(ft.descriptor)
}

// Default is the value an absent field reads as.
func (ft *FieldType) Default() any { return ft.defaultVal }

// Compare orders two encoded values. All encodings preserve semantic order
// in their bytes, so this is byte comparison.
func (ft *FieldType) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// FieldTypeRegistry is the catalog of known field types. A database owns one
// registry; it is immutable once the database is constructed.
type FieldTypeRegistry struct {
	types map[string]*FieldType
}

// NewFieldTypeRegistry returns a registry preloaded with the built-in types:
// int, uint, bool, string, bytes, time, enum and reference.
func NewFieldTypeRegistry() *FieldTypeRegistry {
	r := &FieldTypeRegistry{types: make(map[string]*FieldType)}
	for _, ft := range builtinFieldTypes {
		ensure(r.Register(ft))
	}
	return r
}

// Register adds a field type. Registering the same name twice is allowed
// only if the encoding signature matches; a mismatch is a configuration
// error, because stored bytes written under the old encoding would be
// silently misread.
func (r *FieldTypeRegistry) Register(ft *FieldType) error {
	if prev := r.types[ft.name]; prev != nil && prev.Signature() != ft.Signature() {
		return configErrf("field type %q re-registered with a different encoding signature (%x vs %x)",
			ft.name, ft.Signature(), prev.Signature())
	}
	r.types[ft.name] = ft
	return nil
}

func (r *FieldTypeRegistry) Lookup(name string) (*FieldType, error) {
	ft := r.types[name]
	if ft == nil {
		return nil, configErrf("unknown field type %q", name)
	}
	return ft, nil
}

// SignatureOf exposes the signature currently in force for a type name, so
// schema declarations can be stamped with it at declaration time.
func (r *FieldTypeRegistry) SignatureOf(name string) (uint64, error) {
	ft, err := r.Lookup(name)
	if err != nil {
		return 0, err
	}
	return ft.Signature(), nil
}

const signBit = uint64(1) << 63

var builtinFieldTypes = []*FieldType{
	{
		name: "int", kind: KindScalar, descriptor: "int64:be:signflip", defaultVal: int64(0),
		encode: func(buf []byte, v any) ([]byte, error) {
			n, ok := toInt64(v)
			if !ok {
				return nil, fmt.Errorf("wanted an integer, got %T", v)
			}
			return appendUint64(buf, uint64(n)^signBit), nil
		},
		decode: func(data []byte) (any, error) {
			if len(data) != 8 {
				return nil, fmt.Errorf("invalid int length %d", len(data))
			}
			return int64(binary.BigEndian.Uint64(data) ^ signBit), nil
		},
	},
	{
		name: "uint", kind: KindScalar, descriptor: "uint64:be", defaultVal: uint64(0),
		encode: func(buf []byte, v any) ([]byte, error) {
			n, ok := toUint64(v)
			if !ok {
				return nil, fmt.Errorf("wanted an unsigned integer, got %T", v)
			}
			return appendUint64(buf, n), nil
		},
		decode: func(data []byte) (any, error) {
			if len(data) != 8 {
				return nil, fmt.Errorf("invalid uint length %d", len(data))
			}
			return binary.BigEndian.Uint64(data), nil
		},
	},
	{
		name: "bool", kind: KindScalar, descriptor: "bool:byte", defaultVal: false,
		encode: func(buf []byte, v any) ([]byte, error) {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("wanted a bool, got %T", v)
			}
			if b {
				return append(buf, 1), nil
			}
			return append(buf, 0), nil
		},
		decode: func(data []byte) (any, error) {
			if len(data) != 1 || data[0] > 1 {
				return nil, fmt.Errorf("invalid bool encoding % x", data)
			}
			return data[0] == 1, nil
		},
	},
	{
		name: "string", kind: KindScalar, descriptor: "utf8:esc00ff:term00", defaultVal: "",
		encode: func(buf []byte, v any) ([]byte, error) {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("wanted a string, got %T", v)
			}
			return appendTerminated(buf, []byte(s)), nil
		},
		decode: func(data []byte) (any, error) {
			raw, n, err := decodeTerminated(data)
			if err != nil {
				return nil, err
			}
			if n != len(data) {
				return nil, fmt.Errorf("trailing garbage after string")
			}
			return string(raw), nil
		},
	},
	{
		name: "bytes", kind: KindScalar, descriptor: "bytes:esc00ff:term00", defaultVal: []byte(nil),
		encode: func(buf []byte, v any) ([]byte, error) {
			b, ok := v.([]byte)
			if !ok {
				return nil, fmt.Errorf("wanted a byte slice, got %T", v)
			}
			return appendTerminated(buf, b), nil
		},
		decode: func(data []byte) (any, error) {
			raw, n, err := decodeTerminated(data)
			if err != nil {
				return nil, err
			}
			if n != len(data) {
				return nil, fmt.Errorf("trailing garbage after bytes")
			}
			return raw, nil
		},
	},
	{
		name: "time", kind: KindScalar, descriptor: "time:unixnano:be:signflip", defaultVal: time.Time{},
		encode: func(buf []byte, v any) ([]byte, error) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, fmt.Errorf("wanted a time.Time, got %T", v)
			}
			return appendUint64(buf, uint64(t.UnixNano())^signBit), nil
		},
		decode: func(data []byte) (any, error) {
			if len(data) != 8 {
				return nil, fmt.Errorf("invalid time length %d", len(data))
			}
			ns := int64(binary.BigEndian.Uint64(data) ^ signBit)
			return time.Unix(0, ns).UTC(), nil
		},
	},
	{
		name: "enum", kind: KindEnum, descriptor: "enum:ordinal:be32", defaultVal: nil,
		encode: func(buf []byte, v any) ([]byte, error) {
			ev, ok := v.(EnumValue)
			if !ok {
				return nil, fmt.Errorf("wanted an EnumValue, got %T", v)
			}
			if ev.Ordinal < 0 {
				return nil, fmt.Errorf("negative enum ordinal %d", ev.Ordinal)
			}
			return appendUint32(buf, uint32(ev.Ordinal)), nil
		},
		decode: func(data []byte) (any, error) {
			if len(data) != 4 {
				return nil, fmt.Errorf("invalid enum length %d", len(data))
			}
			// The ordinal alone; the field declaration supplies the label.
			return int(binary.BigEndian.Uint32(data)), nil
		},
	},
	{
		name: "reference", kind: KindReference, descriptor: "ref:objid20", defaultVal: ObjId{},
		encode: func(buf []byte, v any) ([]byte, error) {
			id, ok := v.(ObjId)
			if !ok {
				return nil, fmt.Errorf("wanted an ObjId, got %T", v)
			}
			return appendRaw(buf, id[:]), nil
		},
		decode: func(data []byte) (any, error) {
			if len(data) != ObjIdLen {
				return nil, fmt.Errorf("invalid reference length %d", len(data))
			}
			var id ObjId
			copy(id[:], data)
			return id, nil
		},
	},
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	default:
		return 0, false
	}
}
