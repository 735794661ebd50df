package codec

import "time"

// RebirthMetricName is the well-known Sparkplug B node control metric that,
// set true in an NCMD payload, asks an edge node to re-emit its birth
// certificate (spec.md §4.4 "Rebirth emission").
const RebirthMetricName = "Node Control/Rebirth"

// BuildRebirthCommand builds the single-metric NCMD payload the engine
// publishes to request a rebirth. Sequence number 0 is used per spec.md
// §4.4: "the NCMD is a control message; the edge node's own sequence
// counter is the one that matters on the wire."
func BuildRebirthCommand() Payload {
	return Payload{
		Timestamp: time.Now().Unix(),
		Seq:       0,
		Metrics: []Metric{
			{
				Name:      RebirthMetricName,
				HasType:   true,
				Datatype:  DataTypeBoolean,
				Timestamp: time.Now().Unix(),
				Value:     Value{Type: DataTypeBoolean, Boolean: true},
			},
		},
	}
}
