// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"
	"time"

	"github.com/edgeworks-io/sparkplughost/internal/store"
	"github.com/edgeworks-io/sparkplughost/pkg/lrucache"
)

// Kind tags which entity table a Value's id resolves against.
type Kind int

const (
	KindGroup Kind = iota
	KindEdgeNode
	KindDevice
	KindMetric
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindEdgeNode:
		return "node"
	case KindDevice:
		return "device"
	case KindMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// cacheableTTL is long because a cacheable attribute is, by definition,
// immutable for the entity's lifetime (spec.md §4.3) — the only eviction
// that matters in practice is LRU pressure, not staleness.
const cacheableTTL = 24 * time.Hour

// Value is one identified entity handle: an id plus a Kind tag and its own
// small per-attribute cache, never shared across goroutines (spec.md §5).
type Value struct {
	store *store.Store
	kind  Kind
	id    int64
	cache *lrucache.Cache
}

func newValue(s *store.Store, kind Kind, id int64) *Value {
	return &Value{store: s, kind: kind, id: id, cache: lrucache.New(64)}
}

// ID returns the entity's store-assigned identifier.
func (v *Value) ID() int64 { return v.id }

// Kind returns the entity's type tag.
func (v *Value) Kind() Kind { return v.kind }

func (v *Value) cached(key string, compute func() (any, error)) (any, error) {
	var computeErr error
	result := v.cache.Get(key, func() (interface{}, time.Duration, int) {
		val, err := compute()
		computeErr = err
		return val, cacheableTTL, 1
	})
	if computeErr != nil {
		return nil, computeErr
	}
	return result, nil
}

// Name returns the entity's name. Cacheable for every kind (spec.md §4.3).
func (v *Value) Name() (string, error) {
	val, err := v.cached("name", func() (any, error) {
		switch v.kind {
		case KindGroup:
			g, err := v.store.GroupByID(v.id)
			if err != nil {
				return nil, err
			}
			return g.Name, nil
		case KindEdgeNode:
			n, err := v.store.NodeByID(v.id)
			if err != nil {
				return nil, err
			}
			return n.Name, nil
		case KindDevice:
			d, err := v.store.DeviceByID(v.id)
			if err != nil {
				return nil, err
			}
			return d.Name, nil
		case KindMetric:
			def, err := v.store.MetricByID(v.id)
			if err != nil {
				return nil, err
			}
			return def.Name, nil
		default:
			return nil, fmt.Errorf("model: unknown kind")
		}
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// Group returns the edge node's parent group. Valid only for KindEdgeNode.
func (v *Value) Group() (*Value, error) {
	if v.kind != KindEdgeNode {
		return nil, fmt.Errorf("model: Group() not valid on %s", v.kind)
	}
	val, err := v.cached("group", func() (any, error) {
		n, err := v.store.NodeByID(v.id)
		if err != nil {
			return nil, err
		}
		return n.GroupID, nil
	})
	if err != nil {
		return nil, err
	}
	return newValue(v.store, KindGroup, val.(int64)), nil
}

// Node returns the device's parent edge node. Valid only for KindDevice.
func (v *Value) Node() (*Value, error) {
	if v.kind != KindDevice {
		return nil, fmt.Errorf("model: Node() not valid on %s", v.kind)
	}
	val, err := v.cached("node", func() (any, error) {
		d, err := v.store.DeviceByID(v.id)
		if err != nil {
			return nil, err
		}
		return d.NodeID, nil
	})
	if err != nil {
		return nil, err
	}
	return newValue(v.store, KindEdgeNode, val.(int64)), nil
}

// Device returns the metric's owning device. Valid only for KindMetric.
func (v *Value) Device() (*Value, error) {
	if v.kind != KindMetric {
		return nil, fmt.Errorf("model: Device() not valid on %s", v.kind)
	}
	val, err := v.cached("device", func() (any, error) {
		def, err := v.store.MetricByID(v.id)
		if err != nil {
			return nil, err
		}
		return def.DeviceID, nil
	})
	if err != nil {
		return nil, err
	}
	return newValue(v.store, KindDevice, val.(int64)), nil
}

// Metrics returns the device's declared metrics. Valid only for KindDevice.
func (v *Value) Metrics() ([]*Value, error) {
	if v.kind != KindDevice {
		return nil, fmt.Errorf("model: Metrics() not valid on %s", v.kind)
	}
	val, err := v.cached("metrics", func() (any, error) {
		defs, err := v.store.ListMetrics(v.id, "")
		if err != nil {
			return nil, err
		}
		ids := make([]int64, len(defs))
		for i, d := range defs {
			ids[i] = d.ID
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	ids := val.([]int64)
	values := make([]*Value, len(ids))
	for i, id := range ids {
		values[i] = newValue(v.store, KindMetric, id)
	}
	return values, nil
}

// Datatype returns the metric's fixed datatype. Valid only for KindMetric.
func (v *Value) Datatype() (string, error) {
	if v.kind != KindMetric {
		return "", fmt.Errorf("model: Datatype() not valid on %s", v.kind)
	}
	val, err := v.cached("datatype", func() (any, error) {
		def, err := v.store.MetricByID(v.id)
		if err != nil {
			return nil, err
		}
		return def.Datatype, nil
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// Status returns the current liveness status. Never cached: status changes
// on every birth/death transition. Valid for KindEdgeNode and KindDevice.
func (v *Value) Status() (store.Status, string, error) {
	switch v.kind {
	case KindEdgeNode:
		n, err := v.store.NodeByID(v.id)
		if err != nil {
			return "", "", err
		}
		return n.Status, "", nil
	case KindDevice:
		d, err := v.store.DeviceByID(v.id)
		if err != nil {
			return "", "", err
		}
		return d.Status, "", nil
	default:
		return "", "", fmt.Errorf("model: Status() not valid on %s", v.kind)
	}
}

// Timestamps returns (birth_ts, death_ts). Never cached. Valid for
// KindEdgeNode and KindDevice.
func (v *Value) Timestamps() (int64, int64, error) {
	switch v.kind {
	case KindEdgeNode:
		n, err := v.store.NodeByID(v.id)
		if err != nil {
			return 0, 0, err
		}
		return n.BirthTS, n.DeathTS, nil
	case KindDevice:
		d, err := v.store.DeviceByID(v.id)
		if err != nil {
			return 0, 0, err
		}
		return d.BirthTS, d.DeathTS, nil
	default:
		return 0, 0, fmt.Errorf("model: Timestamps() not valid on %s", v.kind)
	}
}

// MetricValue returns the metric's most recent sample. Never cached. Valid
// only for KindMetric.
func (v *Value) MetricValue() (store.Sample, error) {
	if v.kind != KindMetric {
		return store.Sample{}, fmt.Errorf("model: MetricValue() not valid on %s", v.kind)
	}
	datatype, err := v.Datatype()
	if err != nil {
		return store.Sample{}, err
	}
	return v.store.MetricValue(v.id, datatype)
}

// MetricValues returns the metric's full append-only history, oldest
// first. Never cached. Valid only for KindMetric.
func (v *Value) MetricValues() ([]store.Sample, error) {
	if v.kind != KindMetric {
		return nil, fmt.Errorf("model: MetricValues() not valid on %s", v.kind)
	}
	datatype, err := v.Datatype()
	if err != nil {
		return nil, err
	}
	return v.store.MetricValues(v.id, datatype)
}
