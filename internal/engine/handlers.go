// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"time"

	"github.com/edgeworks-io/sparkplughost/internal/codec"
	"github.com/edgeworks-io/sparkplughost/internal/store"
	"github.com/edgeworks-io/sparkplughost/pkg/log"
)

// Publisher is the minimal MQTT publish contract the Engine depends on,
// satisfied by an autopaho connection manager in production and by a
// fake in tests.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// handle dispatches one decoded inbound message to its action handler,
// matching spec.md §4.4's per-edge-node state machine. Errors are logged
// and swallowed here; the message dispatcher must keep running
// regardless of a single message's outcome (spec.md §7).
func (e *Engine) handle(t Topic, raw []byte) {
	payload, err := codec.Decode(raw)
	if err != nil {
		log.Warnf("engine: decode %s: %s", t.Action, err)
		return
	}

	messagesProcessed.WithLabelValues(string(t.Action)).Inc()

	var handlerErr error
	start := time.Now()
	switch t.Action {
	case ActionNBIRTH:
		handlerErr = e.handleNBirth(t, payload)
	case ActionDBIRTH:
		handlerErr = e.handleDBirth(t, payload)
	case ActionNDATA:
		handlerErr = e.handleNData(t, payload)
	case ActionDDATA:
		handlerErr = e.handleDData(t, payload)
	case ActionNDEATH:
		handlerErr = e.handleNDeath(t, payload)
	case ActionDDEATH:
		handlerErr = e.handleDDeath(t, payload)
	default:
		log.Debugf("engine: ignoring action %s", t.Action)
	}
	storeWriteLatency.Observe(time.Since(start).Seconds())
	if handlerErr != nil {
		log.Errorf("engine: handling %s %s/%s: %s", t.Action, t.Group, t.Node, handlerErr)
	}
}

func (e *Engine) handleNBirth(t Topic, p codec.Payload) error {
	key := nodeKey{group: t.Group, node: t.Node}
	e.state.setSeq(key, p.Seq)
	e.state.setAlive(key, true)

	groupID, err := e.store.InsertGroup(t.Group)
	if err != nil {
		return err
	}
	nodeID, err := e.store.InsertNode(groupID, t.Node)
	if err != nil {
		return err
	}
	if err := e.store.SetNodeStatus(nodeID, store.StatusOnline, p.Timestamp); err != nil {
		return err
	}

	if bdSeq, ok := findBdSeq(p); ok {
		if err := e.store.SetNodeBdSeq(nodeID, bdSeq); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleDBirth(t Topic, p codec.Payload) error {
	key := nodeKey{group: t.Group, node: t.Node}
	if !e.state.isAlive(key) {
		log.Warnf("engine: DBIRTH for %s/%s before NBIRTH observed", t.Group, t.Node)
	}
	if len(p.Metrics) == 0 {
		return fmt.Errorf("engine: empty DBIRTH")
	}

	groupID, err := e.store.InsertGroup(t.Group)
	if err != nil {
		return err
	}
	nodeID, err := e.store.InsertNode(groupID, t.Node)
	if err != nil {
		return err
	}
	deviceID, err := e.store.InsertDevice(nodeID, t.Device)
	if err != nil {
		return err
	}
	if err := e.store.SetDeviceStatus(deviceID, store.StatusOnline, p.Timestamp); err != nil {
		return err
	}

	aliases := make(map[uint64]string, len(p.Metrics))
	for _, m := range p.Metrics {
		datatype := storeDatatype(m.Datatype)
		metricID, err := e.store.InsertMetric(deviceID, m.Name, datatype)
		if err != nil {
			return err
		}
		def, err := e.store.MetricByID(metricID)
		if err != nil {
			return err
		}
		if def.Datatype != datatype {
			log.Warnf("engine: DBIRTH redeclares metric %q on %s/%s/%s as %s (fixed as %s), dropped",
				m.Name, t.Group, t.Node, t.Device, datatype, def.Datatype)
			continue
		}
		ts := m.Timestamp
		if ts == 0 {
			ts = p.Timestamp
		}
		if err := e.store.AppendMetricSample(metricID, datatype, m.Value.Any(), ts); err != nil {
			return err
		}
		if m.HasAlias {
			aliases[m.Alias] = m.Name
		}
	}
	e.state.setAliases(deviceKey{group: t.Group, node: t.Node, device: t.Device}, aliases)
	return nil
}

func (e *Engine) handleNData(t Topic, p codec.Payload) error {
	key := nodeKey{group: t.Group, node: t.Node}
	if !e.state.isAlive(key) {
		return e.requestRebirth(t.Group, t.Node)
	}
	e.state.incrementSeq(key)
	return nil
}

func (e *Engine) handleDData(t Topic, p codec.Payload) error {
	dk := deviceKey{group: t.Group, node: t.Node, device: t.Device}

	// A device only exists once its DBIRTH has been handled; DDATA for a
	// device never birthed is dropped without mutating the store (spec.md
	// §4.4, E4), so this looks the device up rather than inserting it.
	deviceID, ok := e.lookupBirthedDevice(t)
	if !ok {
		log.Warnf("engine: DDATA for %s/%s/%s before DBIRTH observed, dropped", t.Group, t.Node, t.Device)
		return nil
	}

	for _, m := range p.Metrics {
		name := m.Name
		if name == "" && m.HasAlias {
			resolved, ok := e.state.resolveAlias(dk, m.Alias)
			if !ok {
				log.Warnf("engine: DDATA unresolved alias %d for %s/%s/%s", m.Alias, t.Group, t.Node, t.Device)
				continue
			}
			name = resolved
		}
		if name == "" {
			log.Warnf("engine: DDATA metric with neither name nor resolvable alias, dropped")
			continue
		}

		def, err := e.store.MetricByName(deviceID, name)
		if err != nil {
			log.Warnf("engine: DDATA for undeclared metric %q on %s/%s/%s, dropped", name, t.Group, t.Node, t.Device)
			continue
		}

		ts := m.Timestamp
		if ts == 0 {
			ts = p.Timestamp
		}
		if err := e.store.AppendMetricSample(def.ID, def.Datatype, m.Value.Any(), ts); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleNDeath(t Topic, p codec.Payload) error {
	key := nodeKey{group: t.Group, node: t.Node}
	e.state.setAlive(key, false)

	groupID, err := e.store.InsertGroup(t.Group)
	if err != nil {
		return err
	}
	nodeID, err := e.store.InsertNode(groupID, t.Node)
	if err != nil {
		return err
	}
	return e.store.SetNodeStatus(nodeID, store.StatusOffline, p.Timestamp)
}

func (e *Engine) handleDDeath(t Topic, p codec.Payload) error {
	groupID, err := e.store.InsertGroup(t.Group)
	if err != nil {
		return err
	}
	nodeID, err := e.store.InsertNode(groupID, t.Node)
	if err != nil {
		return err
	}
	deviceID, err := e.store.InsertDevice(nodeID, t.Device)
	if err != nil {
		return err
	}
	return e.store.SetDeviceStatus(deviceID, store.StatusOffline, p.Timestamp)
}

// requestRebirth publishes a rebirth command and optimistically marks the
// node alive (spec.md §4.4): an NDATA received while dead triggers exactly
// one NCMD (spec.md §8 property 6), and the current NDATA sample is
// dropped in favor of waiting for a fresh NBIRTH.
func (e *Engine) requestRebirth(group, node string) error {
	key := nodeKey{group: group, node: node}
	if !e.allowRebirth(key) {
		log.Debugf("engine: rebirth for %s/%s rate-limited", group, node)
		return nil
	}

	wire, err := codec.Encode(codec.BuildRebirthCommand())
	if err != nil {
		return fmt.Errorf("engine: encode rebirth command: %w", err)
	}
	if err := e.publisher.Publish(NCmdTopic(group, node), wire); err != nil {
		return fmt.Errorf("engine: publish rebirth command: %w", err)
	}

	rebirthsEmitted.Inc()
	e.state.setAlive(key, true)
	return nil
}

// lookupBirthedDevice resolves t's device by exact name without creating
// any row, so a DDATA for a device that never had a DBIRTH finds nothing
// instead of phantom-inserting Group/EdgeNode/Device rows (spec.md §4.4).
func (e *Engine) lookupBirthedDevice(t Topic) (int64, bool) {
	g, err := e.store.GroupByName(t.Group)
	if err != nil {
		return 0, false
	}
	n, err := e.store.NodeByName(g.ID, t.Node)
	if err != nil {
		return 0, false
	}
	d, err := e.store.DeviceByName(n.ID, t.Device)
	if err != nil {
		return 0, false
	}
	return d.ID, true
}

// findBdSeq looks for a metric literally named "bdSeq" in an NBIRTH
// payload, per SPEC_FULL.md §3's opportunistic bd_seq threading.
func findBdSeq(p codec.Payload) (int64, bool) {
	for _, m := range p.Metrics {
		if m.Name == "bdSeq" {
			if v, ok := m.Value.Any().(int64); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func storeDatatype(t codec.DataType) string {
	switch t {
	case codec.DataTypeString:
		return "String"
	case codec.DataTypeInt:
		return "Int"
	case codec.DataTypeFloat:
		return "Float"
	case codec.DataTypeBoolean:
		return "Boolean"
	default:
		return "String"
	}
}
