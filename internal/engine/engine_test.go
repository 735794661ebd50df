// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgeworks-io/sparkplughost/internal/codec"
	"github.com/edgeworks-io/sparkplughost/internal/store"
)

// fakePublisher records every publish for assertions, standing in for
// the autopaho connection manager.
type fakePublisher struct {
	published []struct {
		topic   string
		payload []byte
	}
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.published = append(p.published, struct {
		topic   string
		payload []byte
	}{topic, payload})
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakePublisher) {
	t.Helper()
	s, err := store.Connect("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	e := New(Config{RebirthMinInterval: time.Hour}, s)
	pub := &fakePublisher{}
	e.publisher = pub
	return e, pub
}

func nbirth(seq int64, ts int64) codec.Payload {
	return codec.Payload{Timestamp: ts, Seq: seq}
}

func TestHandleNBirthMarksNodeAliveAndOnline(t *testing.T) {
	e, _ := newTestEngine(t)
	topic := Topic{Group: "plant-a", Action: ActionNBIRTH, Node: "node1"}

	e.handleNBirth(topic, nbirth(0, 1000)) //nolint:errcheck

	key := nodeKey{group: "plant-a", node: "node1"}
	require.True(t, e.state.isAlive(key))

	g, err := e.store.GroupByName("plant-a")
	require.NoError(t, err)
	n, err := e.store.NodeByName(g.ID, "node1")
	require.NoError(t, err)
	require.Equal(t, store.StatusOnline, n.Status)
}

func TestHandleDBirthRejectsEmptyMetrics(t *testing.T) {
	e, _ := newTestEngine(t)
	topic := Topic{Group: "plant-a", Action: ActionDBIRTH, Node: "node1", Device: "device1"}

	err := e.handleDBirth(topic, codec.Payload{Timestamp: 1000})
	require.Error(t, err)
}

func TestHandleDBirthDeclaresMetricsAndAliases(t *testing.T) {
	e, _ := newTestEngine(t)
	nTopic := Topic{Group: "plant-a", Action: ActionNBIRTH, Node: "node1"}
	require.NoError(t, e.handleNBirth(nTopic, nbirth(0, 1000)))

	m, err := codec.BuildMetric("temperature", 21.5, codec.EncodeOptions{Alias: 5, Birth: true, Timestamp: 1000})
	require.NoError(t, err)
	dTopic := Topic{Group: "plant-a", Action: ActionDBIRTH, Node: "node1", Device: "device1"}
	require.NoError(t, e.handleDBirth(dTopic, codec.Payload{Timestamp: 1000, Metrics: []codec.Metric{m}}))

	g, err := e.store.GroupByName("plant-a")
	require.NoError(t, err)
	n, err := e.store.NodeByName(g.ID, "node1")
	require.NoError(t, err)
	d, err := e.store.DeviceByName(n.ID, "device1")
	require.NoError(t, err)
	def, err := e.store.MetricByName(d.ID, "temperature")
	require.NoError(t, err)
	require.Equal(t, "Float", def.Datatype)

	key := deviceKey{group: "plant-a", node: "node1", device: "device1"}
	name, ok := e.state.resolveAlias(key, 5)
	require.True(t, ok)
	require.Equal(t, "temperature", name)
}

// TestDeadNodeNDataTriggersExactlyOneRebirth covers spec.md §8's E-series
// property: NDATA from a node not known alive produces exactly one NCMD;
// the rebirth marks the node alive, so further NDATA does not repeat it.
func TestDeadNodeNDataTriggersExactlyOneRebirth(t *testing.T) {
	e, pub := newTestEngine(t)
	topic := Topic{Group: "plant-a", Action: ActionNDATA, Node: "node1"}

	require.NoError(t, e.handleNData(topic, codec.Payload{Timestamp: 1000, Seq: 1}))
	require.NoError(t, e.handleNData(topic, codec.Payload{Timestamp: 1001, Seq: 2}))
	require.NoError(t, e.handleNData(topic, codec.Payload{Timestamp: 1002, Seq: 3}))

	require.Len(t, pub.published, 1)
	require.Equal(t, NCmdTopic("plant-a", "node1"), pub.published[0].topic)

	decoded, err := codec.Decode(pub.published[0].payload)
	require.NoError(t, err)
	require.Len(t, decoded.Metrics, 1)
	require.Equal(t, codec.RebirthMetricName, decoded.Metrics[0].Name)
}

func TestAliveNodeNDataUpdatesSeqWithoutRebirth(t *testing.T) {
	e, pub := newTestEngine(t)
	nTopic := Topic{Group: "plant-a", Action: ActionNBIRTH, Node: "node1"}
	require.NoError(t, e.handleNBirth(nTopic, nbirth(0, 1000)))

	dataTopic := Topic{Group: "plant-a", Action: ActionNDATA, Node: "node1"}
	require.NoError(t, e.handleNData(dataTopic, codec.Payload{Timestamp: 1001, Seq: 1}))

	require.Empty(t, pub.published)
	require.EqualValues(t, 1, e.state.lastSeq[nodeKey{group: "plant-a", node: "node1"}])
}

func TestHandleDDataResolvesAliasAndAppendsSample(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.handleNBirth(Topic{Group: "plant-a", Action: ActionNBIRTH, Node: "node1"}, nbirth(0, 1000)))

	m, err := codec.BuildMetric("temperature", 21.5, codec.EncodeOptions{Alias: 5, Birth: true, Timestamp: 1000})
	require.NoError(t, err)
	dBirth := Topic{Group: "plant-a", Action: ActionDBIRTH, Node: "node1", Device: "device1"}
	require.NoError(t, e.handleDBirth(dBirth, codec.Payload{Timestamp: 1000, Metrics: []codec.Metric{m}}))

	sample, err := codec.BuildMetric("", 22.5, codec.EncodeOptions{Alias: 5, Timestamp: 2000})
	require.NoError(t, err)
	dData := Topic{Group: "plant-a", Action: ActionDDATA, Node: "node1", Device: "device1"}
	require.NoError(t, e.handleDData(dData, codec.Payload{Timestamp: 2000, Metrics: []codec.Metric{sample}}))

	g, err := e.store.GroupByName("plant-a")
	require.NoError(t, err)
	n, err := e.store.NodeByName(g.ID, "node1")
	require.NoError(t, err)
	d, err := e.store.DeviceByName(n.ID, "device1")
	require.NoError(t, err)
	def, err := e.store.MetricByName(d.ID, "temperature")
	require.NoError(t, err)

	latest, err := e.store.MetricValue(def.ID, def.Datatype)
	require.NoError(t, err)
	require.InDelta(t, 22.5, latest.Value, 0.0001)
}

func TestHandleDDataDropsUnresolvedAlias(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.handleNBirth(Topic{Group: "plant-a", Action: ActionNBIRTH, Node: "node1"}, nbirth(0, 1000)))

	sample, err := codec.BuildMetric("", 22.5, codec.EncodeOptions{Alias: 99, Timestamp: 2000})
	require.NoError(t, err)
	dData := Topic{Group: "plant-a", Action: ActionDDATA, Node: "node1", Device: "device1"}

	// No DBIRTH observed, so the alias table is empty: handleDData must
	// drop the sample rather than error.
	require.NoError(t, e.handleDData(dData, codec.Payload{Timestamp: 2000, Metrics: []codec.Metric{sample}}))
}

// TestHandleDDataBeforeDBirthDoesNotMutateStore implements spec.md §4.4's
// "DDATA referencing that device is dropped with a warning": no phantom
// Device row may appear, even though the enclosing group/node already exist.
func TestHandleDDataBeforeDBirthDoesNotMutateStore(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.handleNBirth(Topic{Group: "plant-a", Action: ActionNBIRTH, Node: "node1"}, nbirth(0, 1000)))

	m, err := codec.BuildMetric("temperature", 21.5, codec.EncodeOptions{Timestamp: 2000})
	require.NoError(t, err)
	dData := Topic{Group: "plant-a", Action: ActionDDATA, Node: "node1", Device: "device1"}
	require.NoError(t, e.handleDData(dData, codec.Payload{Timestamp: 2000, Metrics: []codec.Metric{m}}))

	g, err := e.store.GroupByName("plant-a")
	require.NoError(t, err)
	n, err := e.store.NodeByName(g.ID, "node1")
	require.NoError(t, err)
	_, err = e.store.DeviceByName(n.ID, "device1")
	require.Error(t, err, "a never-birthed device must not be created by DDATA")
}

func TestHandleNDeathMarksOfflineAndNotAlive(t *testing.T) {
	e, _ := newTestEngine(t)
	topic := Topic{Group: "plant-a", Action: ActionNBIRTH, Node: "node1"}
	require.NoError(t, e.handleNBirth(topic, nbirth(0, 1000)))

	deathTopic := Topic{Group: "plant-a", Action: ActionNDEATH, Node: "node1"}
	require.NoError(t, e.handleNDeath(deathTopic, codec.Payload{Timestamp: 2000}))

	key := nodeKey{group: "plant-a", node: "node1"}
	require.False(t, e.state.isAlive(key))

	g, err := e.store.GroupByName("plant-a")
	require.NoError(t, err)
	n, err := e.store.NodeByName(g.ID, "node1")
	require.NoError(t, err)
	require.Equal(t, store.StatusOffline, n.Status)
	require.EqualValues(t, 2000, n.DeathTS)
}

func TestAllowRebirthRateLimitsPerNode(t *testing.T) {
	e, s := newTestEngine(t)
	_ = s
	e.cfg.RebirthMinInterval = 50 * time.Millisecond

	key := nodeKey{group: "plant-a", node: "node1"}
	require.True(t, e.allowRebirth(key))
	require.False(t, e.allowRebirth(key))

	otherKey := nodeKey{group: "plant-a", node: "node2"}
	require.True(t, e.allowRebirth(otherKey), "rate limiting must be per (group,node), not global")
}

func TestParseTopicRoundTripsGeneratedTopics(t *testing.T) {
	topic, err := ParseTopic(NCmdTopic("plant-a", "node1"))
	require.NoError(t, err)
	require.Equal(t, Topic{Group: "plant-a", Action: ActionNCMD, Node: "node1"}, topic)

	topic, err = ParseTopic("spBv1.0/plant-a/DDATA/node1/device1")
	require.NoError(t, err)
	require.Equal(t, "device1", topic.Device)

	_, err = ParseTopic("not-a-sparkplug-topic")
	require.Error(t, err)
}
