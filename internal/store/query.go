// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Group is a row of the groups table.
type Group struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// EdgeNode is a row of the edge_nodes table.
type EdgeNode struct {
	ID      int64  `db:"id"`
	GroupID int64  `db:"group_id"`
	Name    string `db:"name"`
	Status  Status `db:"status"`
	BirthTS int64  `db:"birth_ts"`
	DeathTS int64  `db:"death_ts"`
	BdSeq   int64  `db:"bd_seq"`
}

// Device is a row of the devices table.
type Device struct {
	ID      int64  `db:"id"`
	NodeID  int64  `db:"node_id"`
	Name    string `db:"name"`
	Status  Status `db:"status"`
	BirthTS int64  `db:"birth_ts"`
	DeathTS int64  `db:"death_ts"`
}

// MetricDef is a row of the metrics table.
type MetricDef struct {
	ID       int64  `db:"id"`
	DeviceID int64  `db:"device_id"`
	Name     string `db:"name"`
	Datatype string `db:"datatype"`
}

// GroupByID returns the group row with the given id.
func (s *Store) GroupByID(id int64) (Group, error) {
	var g Group
	q, args, err := s.builder.Select("id", "name").From("groups").
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return g, err
	}
	if err := s.db.Get(&g, q, args...); err != nil {
		return g, fmt.Errorf("store: group id %d: %w", id, err)
	}
	return g, nil
}

// NodeByID returns the edge node row with the given id.
func (s *Store) NodeByID(id int64) (EdgeNode, error) {
	var n EdgeNode
	q, args, err := s.builder.Select("id", "group_id", "name", "status", "birth_ts", "death_ts", "bd_seq").
		From("edge_nodes").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return n, err
	}
	if err := s.db.Get(&n, q, args...); err != nil {
		return n, fmt.Errorf("store: node id %d: %w", id, err)
	}
	return n, nil
}

// DeviceByID returns the device row with the given id.
func (s *Store) DeviceByID(id int64) (Device, error) {
	var d Device
	q, args, err := s.builder.Select("id", "node_id", "name", "status", "birth_ts", "death_ts").
		From("devices").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return d, err
	}
	if err := s.db.Get(&d, q, args...); err != nil {
		return d, fmt.Errorf("store: device id %d: %w", id, err)
	}
	return d, nil
}

// MetricByID returns the metric definition row with the given id.
func (s *Store) MetricByID(id int64) (MetricDef, error) {
	var m MetricDef
	q, args, err := s.builder.Select("id", "device_id", "name", "datatype").
		From("metrics").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return m, err
	}
	if err := s.db.Get(&m, q, args...); err != nil {
		return m, fmt.Errorf("store: metric id %d: %w", id, err)
	}
	return m, nil
}

// GroupByName returns the group with the exact name, or an error if none
// exists. An empty name is never wildcarded here — list-all goes through
// ListGroups.
func (s *Store) GroupByName(name string) (Group, error) {
	var g Group
	q, args, err := s.builder.Select("id", "name").From("groups").
		Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return g, err
	}
	if err := s.db.Get(&g, q, args...); err != nil {
		return g, fmt.Errorf("store: group %q: %w", name, err)
	}
	return g, nil
}

// ListGroups returns every group, optionally restricted to names containing
// the substring pattern (case-sensitive on sqlite3; on mysql the column
// collation decides case sensitivity). An empty pattern matches all
// groups (spec.md §6's wildcard-when-omitted lookup semantics).
func (s *Store) ListGroups(pattern string) ([]Group, error) {
	var groups []Group
	sel := s.builder.Select("id", "name").From("groups").OrderBy("name")
	if pattern != "" {
		sel = sel.Where(sq.Like{"name": "%" + pattern + "%"})
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&groups, q, args...); err != nil {
		return nil, fmt.Errorf("store: list groups: %w", err)
	}
	return groups, nil
}

// FindNodesByNamePattern returns every edge node whose name contains
// nodePattern, optionally restricted to groups whose name contains
// groupPattern (empty acts as a wildcard on that level). Used by the
// Model's name resolution policy (spec.md §4.2/§4.3), which requires
// case-sensitive substring match at every level, not exact match (on
// mysql the column collation decides case sensitivity).
func (s *Store) FindNodesByNamePattern(groupPattern, nodePattern string) ([]EdgeNode, error) {
	var nodes []EdgeNode
	sel := s.builder.
		Select("edge_nodes.id", "edge_nodes.group_id", "edge_nodes.name", "edge_nodes.status", "edge_nodes.birth_ts", "edge_nodes.death_ts", "edge_nodes.bd_seq").
		From("edge_nodes").
		Where(sq.Like{"edge_nodes.name": "%" + nodePattern + "%"}).
		OrderBy("edge_nodes.id")
	if groupPattern != "" {
		sel = sel.Join("groups ON groups.id = edge_nodes.group_id").
			Where(sq.Like{"groups.name": "%" + groupPattern + "%"})
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&nodes, q, args...); err != nil {
		return nil, fmt.Errorf("store: find nodes %q/%q: %w", groupPattern, nodePattern, err)
	}
	return nodes, nil
}

// FindDevicesByNamePattern returns every device whose name contains
// devicePattern, optionally restricted to edge nodes/groups whose names
// contain nodePattern/groupPattern (empty acts as a wildcard on that
// level). Substring match throughout (spec.md §4.2/§4.3).
func (s *Store) FindDevicesByNamePattern(groupPattern, nodePattern, devicePattern string) ([]Device, error) {
	var devices []Device
	sel := s.builder.
		Select("devices.id", "devices.node_id", "devices.name", "devices.status", "devices.birth_ts", "devices.death_ts").
		From("devices").
		Where(sq.Like{"devices.name": "%" + devicePattern + "%"}).
		OrderBy("devices.id")
	if nodePattern != "" || groupPattern != "" {
		sel = sel.Join("edge_nodes ON edge_nodes.id = devices.node_id")
		if nodePattern != "" {
			sel = sel.Where(sq.Like{"edge_nodes.name": "%" + nodePattern + "%"})
		}
		if groupPattern != "" {
			sel = sel.Join("groups ON groups.id = edge_nodes.group_id").
				Where(sq.Like{"groups.name": "%" + groupPattern + "%"})
		}
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&devices, q, args...); err != nil {
		return nil, fmt.Errorf("store: find devices %q/%q/%q: %w", groupPattern, nodePattern, devicePattern, err)
	}
	return devices, nil
}

// ListNodes returns the edge nodes of groupID, optionally restricted to
// names containing pattern.
func (s *Store) ListNodes(groupID int64, pattern string) ([]EdgeNode, error) {
	var nodes []EdgeNode
	sel := s.builder.Select("id", "group_id", "name", "status", "birth_ts", "death_ts", "bd_seq").
		From("edge_nodes").Where(sq.Eq{"group_id": groupID}).OrderBy("name")
	if pattern != "" {
		sel = sel.Where(sq.Like{"name": "%" + pattern + "%"})
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&nodes, q, args...); err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	return nodes, nil
}

// ListAllNodes returns every edge node across every group, for the
// flat /nodes listing endpoint.
func (s *Store) ListAllNodes() ([]EdgeNode, error) {
	var nodes []EdgeNode
	q, args, err := s.builder.Select("id", "group_id", "name", "status", "birth_ts", "death_ts", "bd_seq").
		From("edge_nodes").OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&nodes, q, args...); err != nil {
		return nil, fmt.Errorf("store: list all nodes: %w", err)
	}
	return nodes, nil
}

// NodeByName returns the edge node named name within groupID.
func (s *Store) NodeByName(groupID int64, name string) (EdgeNode, error) {
	var n EdgeNode
	q, args, err := s.builder.Select("id", "group_id", "name", "status", "birth_ts", "death_ts", "bd_seq").
		From("edge_nodes").Where(sq.Eq{"group_id": groupID, "name": name}).ToSql()
	if err != nil {
		return n, err
	}
	if err := s.db.Get(&n, q, args...); err != nil {
		return n, fmt.Errorf("store: node %q: %w", name, err)
	}
	return n, nil
}

// ListDevices returns the devices of nodeID, optionally restricted to names
// containing pattern.
func (s *Store) ListDevices(nodeID int64, pattern string) ([]Device, error) {
	var devices []Device
	sel := s.builder.Select("id", "node_id", "name", "status", "birth_ts", "death_ts").
		From("devices").Where(sq.Eq{"node_id": nodeID}).OrderBy("name")
	if pattern != "" {
		sel = sel.Where(sq.Like{"name": "%" + pattern + "%"})
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&devices, q, args...); err != nil {
		return nil, fmt.Errorf("store: list devices: %w", err)
	}
	return devices, nil
}

// ListAllDevices returns every device across every edge node, for the
// flat /devices listing endpoint.
func (s *Store) ListAllDevices() ([]Device, error) {
	var devices []Device
	q, args, err := s.builder.Select("id", "node_id", "name", "status", "birth_ts", "death_ts").
		From("devices").OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&devices, q, args...); err != nil {
		return nil, fmt.Errorf("store: list all devices: %w", err)
	}
	return devices, nil
}

// DeviceByName returns the device named name under nodeID.
func (s *Store) DeviceByName(nodeID int64, name string) (Device, error) {
	var d Device
	q, args, err := s.builder.Select("id", "node_id", "name", "status", "birth_ts", "death_ts").
		From("devices").Where(sq.Eq{"node_id": nodeID, "name": name}).ToSql()
	if err != nil {
		return d, err
	}
	if err := s.db.Get(&d, q, args...); err != nil {
		return d, fmt.Errorf("store: device %q: %w", name, err)
	}
	return d, nil
}

// ListDevicesByGroup returns every device under every edge node of
// groupID, for the /groups/{id}/devices endpoint.
func (s *Store) ListDevicesByGroup(groupID int64) ([]Device, error) {
	var devices []Device
	q, args, err := s.builder.
		Select("devices.id", "devices.node_id", "devices.name", "devices.status", "devices.birth_ts", "devices.death_ts").
		From("devices").
		Join("edge_nodes ON edge_nodes.id = devices.node_id").
		Where(sq.Eq{"edge_nodes.group_id": groupID}).
		OrderBy("devices.id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&devices, q, args...); err != nil {
		return nil, fmt.Errorf("store: list devices by group %d: %w", groupID, err)
	}
	return devices, nil
}

// ListMetrics returns the metric definitions of deviceID, optionally
// restricted to names containing pattern.
func (s *Store) ListMetrics(deviceID int64, pattern string) ([]MetricDef, error) {
	var metrics []MetricDef
	sel := s.builder.Select("id", "device_id", "name", "datatype").
		From("metrics").Where(sq.Eq{"device_id": deviceID}).OrderBy("name")
	if pattern != "" {
		sel = sel.Where(sq.Like{"name": "%" + pattern + "%"})
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&metrics, q, args...); err != nil {
		return nil, fmt.Errorf("store: list metrics: %w", err)
	}
	return metrics, nil
}

// MetricByName returns the metric definition named name under deviceID.
func (s *Store) MetricByName(deviceID int64, name string) (MetricDef, error) {
	var m MetricDef
	q, args, err := s.builder.Select("id", "device_id", "name", "datatype").
		From("metrics").Where(sq.Eq{"device_id": deviceID, "name": name}).ToSql()
	if err != nil {
		return m, err
	}
	if err := s.db.Get(&m, q, args...); err != nil {
		return m, fmt.Errorf("store: metric %q: %w", name, err)
	}
	return m, nil
}

// MetricValue returns the last sample inserted for metricID (by insertion
// order, via the sample table's own autoincrement id — never by
// metric_timestamp, which the wire can repeat or deliver out of order).
func (s *Store) MetricValue(metricID int64, datatype string) (Sample, error) {
	table, err := sampleTable(datatype)
	if err != nil {
		return Sample{}, err
	}
	var sample Sample
	q, args, err := s.builder.Select("metric_value", "metric_timestamp").From(table).
		Where(sq.Eq{"metric_id": metricID}).
		OrderBy("id DESC").Limit(1).ToSql()
	if err != nil {
		return Sample{}, err
	}
	if err := s.db.Get(&sample, q, args...); err != nil {
		return Sample{}, fmt.Errorf("store: metric value: %w", err)
	}
	return sample, nil
}

// MetricValues returns the full append-only history for metricID in
// insertion order, oldest first (spec.md §3, §8: history is ordered by
// arrival, never mutated, and its last element must always agree with
// MetricValue).
func (s *Store) MetricValues(metricID int64, datatype string) ([]Sample, error) {
	table, err := sampleTable(datatype)
	if err != nil {
		return nil, err
	}
	var samples []Sample
	q, args, err := s.builder.Select("metric_value", "metric_timestamp").From(table).
		Where(sq.Eq{"metric_id": metricID}).
		OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.Select(&samples, q, args...); err != nil {
		return nil, fmt.Errorf("store: metric values: %w", err)
	}
	return samples, nil
}

// MetricTimestamp returns the timestamp of the most recent sample recorded
// for metricID, without paying for the value column.
func (s *Store) MetricTimestamp(metricID int64, datatype string) (int64, error) {
	sample, err := s.MetricValue(metricID, datatype)
	if err != nil {
		return 0, err
	}
	return sample.Timestamp, nil
}
