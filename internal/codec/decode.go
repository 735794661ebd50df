package codec

import "google.golang.org/protobuf/encoding/protowire"

// Decode parses a Sparkplug B wire-format payload. For each metric, the
// typed value present on the wire determines the returned value's kind;
// if the metric also declares a datatype, it must agree with the
// encoded field or DecodeError(TypeMismatch) is returned.
func Decode(b []byte) (Payload, error) {
	var p Payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Payload{}, &DecodeError{Reason: "malformed tag"}
		}
		b = b[n:]

		switch num {
		case 1: // timestamp
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Payload{}, &DecodeError{Reason: "malformed payload timestamp"}
			}
			p.Timestamp = int64(v)
			b = b[n:]
		case 2: // metrics
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Payload{}, &DecodeError{Reason: "malformed metric entry"}
			}
			m, err := decodeMetric(raw)
			if err != nil {
				return Payload{}, err
			}
			p.Metrics = append(p.Metrics, m)
			b = b[n:]
		case 3: // seq
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Payload{}, &DecodeError{Reason: "malformed seq"}
			}
			p.Seq = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Payload{}, &DecodeError{Reason: "malformed unknown field"}
			}
			b = b[n:]
		}
	}
	return p, nil
}

func decodeMetric(b []byte) (Metric, error) {
	var m Metric
	var presentField DataType

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Metric{}, &DecodeError{Reason: "malformed metric tag"}
		}
		b = b[n:]

		switch num {
		case 1: // name
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed metric name"}
			}
			m.Name = string(v)
			b = b[n:]
		case 2: // alias
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed alias"}
			}
			m.HasAlias = true
			m.Alias = v
			b = b[n:]
		case 3: // timestamp
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed metric timestamp"}
			}
			m.Timestamp = int64(v)
			b = b[n:]
		case 4: // datatype
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed datatype"}
			}
			m.HasType = true
			m.Datatype = DataType(v)
			b = b[n:]
		case 11: // long_value (int64)
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed int value"}
			}
			m.Value = Value{Type: DataTypeInt, Int: int64(v)}
			presentField = DataTypeInt
			b = b[n:]
		case 12: // float_value
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed float value"}
			}
			m.Value = Value{Type: DataTypeFloat, Float: float64(float32frombits(v))}
			presentField = DataTypeFloat
			b = b[n:]
		case 14: // boolean_value
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed boolean value"}
			}
			m.Value = Value{Type: DataTypeBoolean, Boolean: v != 0}
			presentField = DataTypeBoolean
			b = b[n:]
		case 15: // string_value
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed string value"}
			}
			m.Value = Value{Type: DataTypeString, String: string(v)}
			presentField = DataTypeString
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Metric{}, &DecodeError{Reason: "malformed unknown metric field"}
			}
			b = b[n:]
		}
	}

	if m.HasType && presentField != DataTypeUnknown && m.Datatype != presentField {
		return Metric{}, errTypeMismatch(m.Datatype, presentField)
	}
	if !m.HasType && presentField != DataTypeUnknown {
		m.Datatype = presentField
	}

	return m, nil
}
