package codec

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// EncodeOptions controls how BuildMetric infers the wire representation of
// a native Go value for publication.
type EncodeOptions struct {
	// Alias, if non-zero, is written instead of (or alongside, on birth
	// payloads) the metric name — spec.md §4.1's alias compression.
	Alias uint64
	// Birth marks this metric as part of a birth certificate: both Name
	// and Datatype are always included regardless of Alias.
	Birth bool
	// Timestamp defaults to the current wall clock (seconds) if zero.
	Timestamp int64
}

// BuildMetric constructs a Metric from a native value, inferring its
// Sparkplug datatype (text -> String, whole number -> Int, fractional
// number -> Float, bool -> Boolean). Returns EncodeError(UnsupportedType)
// for any other Go kind.
func BuildMetric(name string, value any, opts EncodeOptions) (Metric, error) {
	m := Metric{Name: name}
	if opts.Alias != 0 {
		m.HasAlias = true
		m.Alias = opts.Alias
		if !opts.Birth {
			m.Name = ""
		}
	}
	if opts.Timestamp != 0 {
		m.Timestamp = opts.Timestamp
	} else {
		m.Timestamp = time.Now().Unix()
	}

	switch v := value.(type) {
	case string:
		m.Datatype = DataTypeString
		m.Value = Value{Type: DataTypeString, String: v}
	case bool:
		m.Datatype = DataTypeBoolean
		m.Value = Value{Type: DataTypeBoolean, Boolean: v}
	case int:
		m.Datatype = DataTypeInt
		m.Value = Value{Type: DataTypeInt, Int: int64(v)}
	case int32:
		m.Datatype = DataTypeInt
		m.Value = Value{Type: DataTypeInt, Int: int64(v)}
	case int64:
		m.Datatype = DataTypeInt
		m.Value = Value{Type: DataTypeInt, Int: v}
	case float32:
		m.Datatype = DataTypeFloat
		m.Value = Value{Type: DataTypeFloat, Float: float64(v)}
	case float64:
		m.Datatype = DataTypeFloat
		m.Value = Value{Type: DataTypeFloat, Float: v}
	default:
		return Metric{}, errUnsupportedType(value)
	}

	m.HasType = opts.Birth
	return m, nil
}

// Encode serializes a Payload to the Sparkplug B wire format.
func Encode(p Payload) ([]byte, error) {
	var b []byte
	if p.Timestamp != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Timestamp))
	}
	for _, m := range p.Metrics {
		enc, err := encodeMetric(m)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, enc)
	}
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Seq))
	return b, nil
}

func encodeMetric(m Metric) ([]byte, error) {
	var b []byte
	if m.Name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.HasAlias {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Alias)
	}
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Timestamp))
	}
	if m.HasType {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Datatype))
	}

	switch m.Value.Type {
	case DataTypeInt:
		b = protowire.AppendTag(b, 11, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Value.Int))
	case DataTypeFloat:
		b = protowire.AppendTag(b, 12, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, float32bits(m.Value.Float))
	case DataTypeBoolean:
		b = protowire.AppendTag(b, 14, protowire.VarintType)
		v := uint64(0)
		if m.Value.Boolean {
			v = 1
		}
		b = protowire.AppendVarint(b, v)
	case DataTypeString:
		b = protowire.AppendTag(b, 15, protowire.BytesType)
		b = protowire.AppendString(b, m.Value.String)
	default:
		return nil, errUnsupportedType(m.Value)
	}

	return b, nil
}

func float32bits(f float64) uint32 {
	return float32bitsImpl(float32(f))
}
