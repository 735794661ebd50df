package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAllTypes(t *testing.T) {
	cases := []any{"hello", int64(42), 21.5, true}

	for _, v := range cases {
		m, err := BuildMetric("temperature", v, EncodeOptions{Alias: 5, Birth: true, Timestamp: 1000})
		require.NoError(t, err)

		p := Payload{Timestamp: 1000, Seq: 1, Metrics: []Metric{m}}
		wire, err := Encode(p)
		require.NoError(t, err)

		decoded, err := Decode(wire)
		require.NoError(t, err)
		require.Len(t, decoded.Metrics, 1)
		require.Equal(t, v, decoded.Metrics[0].Value.Any())
		require.Equal(t, "temperature", decoded.Metrics[0].Name)
		require.EqualValues(t, 5, decoded.Metrics[0].Alias)
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	_, err := BuildMetric("x", []byte{1, 2, 3}, EncodeOptions{})
	require.Error(t, err)
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
}

func TestDecodeTypeMismatch(t *testing.T) {
	m := Metric{
		Name:     "x",
		HasType:  true,
		Datatype: DataTypeString,
		Value:    Value{Type: DataTypeInt, Int: 5},
	}
	enc, err := encodeMetric(m)
	require.NoError(t, err)

	_, err = decodeMetric(enc)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestRebirthCommandRoundTrip(t *testing.T) {
	p := BuildRebirthCommand()
	wire, err := Encode(p)
	require.NoError(t, err)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	require.Len(t, decoded.Metrics, 1)
	require.Equal(t, RebirthMetricName, decoded.Metrics[0].Name)
	require.Equal(t, true, decoded.Metrics[0].Value.Any())
	require.Equal(t, DataTypeBoolean, decoded.Metrics[0].Datatype)
}

func TestDecodeRoundTripIdempotent(t *testing.T) {
	m, err := BuildMetric("humidity", int64(55), EncodeOptions{Alias: 7, Timestamp: 1002})
	require.NoError(t, err)
	p := Payload{Timestamp: 1002, Seq: 2, Metrics: []Metric{m}}

	wire1, err := Encode(p)
	require.NoError(t, err)
	d1, err := Decode(wire1)
	require.NoError(t, err)

	wire2, err := Encode(d1)
	require.NoError(t, err)
	d2, err := Decode(wire2)
	require.NoError(t, err)

	require.Equal(t, d1, d2)
}
