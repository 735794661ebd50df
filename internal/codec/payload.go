// Package codec encodes and decodes Sparkplug B payloads.
//
// Sparkplug B payloads are protobuf messages. There is no protoc-generated
// package available here, so the wire format is built and parsed directly
// with google.golang.org/protobuf/encoding/protowire using the field
// numbers the Sparkplug B (Tahu) schema assigns:
//
//	Payload{ timestamp=1 varint, metrics=2 message[], seq=3 varint }
//	Metric{ name=1 string, alias=2 varint, timestamp=3 varint, datatype=4 varint,
//	        long_value=11 varint, float_value=12 fixed32, boolean_value=14 varint,
//	        string_value=15 string }
package codec

import "fmt"

// DataType mirrors the Sparkplug B metric datatype enumeration, restricted
// to the subset this host understands (spec.md §3: string, int, float, boolean).
type DataType uint32

const (
	DataTypeUnknown DataType = 0
	DataTypeInt     DataType = 4 // Int64 in the Tahu enum space this host emits
	DataTypeFloat   DataType = 9 // Float
	DataTypeBoolean DataType = 11
	DataTypeString  DataType = 12
)

func (t DataType) String() string {
	switch t {
	case DataTypeInt:
		return "int"
	case DataTypeFloat:
		return "float"
	case DataTypeBoolean:
		return "boolean"
	case DataTypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is the sum type a Metric's typed field decodes to.
type Value struct {
	Type    DataType
	String  string
	Int     int64
	Float   float64
	Boolean bool
}

// Any returns the value unwrapped to its native Go type.
func (v Value) Any() any {
	switch v.Type {
	case DataTypeInt:
		return v.Int
	case DataTypeFloat:
		return v.Float
	case DataTypeBoolean:
		return v.Boolean
	case DataTypeString:
		return v.String
	default:
		return nil
	}
}

// Metric is one entry in a Payload: either a birth declaration (Name+Datatype
// present) or a data sample (Alias present, Name usually omitted).
type Metric struct {
	Name      string
	HasAlias  bool
	Alias     uint64
	HasType   bool
	Datatype  DataType
	Timestamp int64
	Value     Value
}

// Payload is the decoded form of a Sparkplug B NBIRTH/DBIRTH/NDATA/DDATA/
// NDEATH/DDEATH/NCMD message.
type Payload struct {
	Timestamp int64
	Seq       int64
	Metrics   []Metric
}

// EncodeError wraps a failure to build a Payload for publication.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string { return "codec: encode: " + e.Reason }

// DecodeError wraps a failure to parse a Payload off the wire.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "codec: decode: " + e.Reason }

// errUnsupportedType returns the EncodeError for a native value kind
// that has no Sparkplug datatype mapping (spec.md §4.1).
func errUnsupportedType(v any) error {
	return &EncodeError{Reason: fmt.Sprintf("unsupported native value type %T", v)}
}

func errTypeMismatch(declared DataType, present DataType) error {
	return &DecodeError{Reason: fmt.Sprintf("declared datatype %s does not match encoded field %s", declared, present)}
}
