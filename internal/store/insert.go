// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// InsertGroup returns the id of the group named name, creating the row
// if it does not already exist. Creation is idempotent under concurrent
// callers: a UNIQUE-constraint race falls back to a lookup.
func (s *Store) InsertGroup(name string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if id, err := s.lookupID("groups", "name", name); err == nil {
		return id, nil
	}

	res, err := s.builder.Insert("groups").Columns("name").Values(name).RunWith(s.db).Exec()
	if err != nil {
		if id, lookupErr := s.lookupID("groups", "name", name); lookupErr == nil {
			return id, nil
		}
		return 0, fmt.Errorf("store: insert group %q: %w", name, err)
	}
	return res.LastInsertId()
}

// InsertNode returns the id of the edge node named name within groupID,
// creating the row (status NA) if it does not already exist.
func (s *Store) InsertNode(groupID int64, name string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if id, err := s.lookupScopedID("edge_nodes", "group_id", groupID, name); err == nil {
		return id, nil
	}

	res, err := s.builder.Insert("edge_nodes").
		Columns("group_id", "name", "status").
		Values(groupID, name, string(StatusNA)).
		RunWith(s.db).Exec()
	if err != nil {
		if id, lookupErr := s.lookupScopedID("edge_nodes", "group_id", groupID, name); lookupErr == nil {
			return id, nil
		}
		return 0, fmt.Errorf("store: insert node %q: %w", name, err)
	}
	return res.LastInsertId()
}

// InsertDevice returns the id of the device named name under nodeID,
// creating the row (status NA) if it does not already exist.
func (s *Store) InsertDevice(nodeID int64, name string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if id, err := s.lookupScopedID("devices", "node_id", nodeID, name); err == nil {
		return id, nil
	}

	res, err := s.builder.Insert("devices").
		Columns("node_id", "name", "status").
		Values(nodeID, name, string(StatusNA)).
		RunWith(s.db).Exec()
	if err != nil {
		if id, lookupErr := s.lookupScopedID("devices", "node_id", nodeID, name); lookupErr == nil {
			return id, nil
		}
		return 0, fmt.Errorf("store: insert device %q: %w", name, err)
	}
	return res.LastInsertId()
}

// InsertMetric returns the id of the metric named name under deviceID with
// the given fixed datatype. A metric's datatype is fixed at first birth
// (spec.md §3); a later BIRTH that redeclares a different datatype for the
// same name is left to the caller (internal/engine) to reject.
func (s *Store) InsertMetric(deviceID int64, name, datatype string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if id, err := s.lookupScopedID("metrics", "device_id", deviceID, name); err == nil {
		return id, nil
	}

	res, err := s.builder.Insert("metrics").
		Columns("device_id", "name", "datatype").
		Values(deviceID, name, datatype).
		RunWith(s.db).Exec()
	if err != nil {
		if id, lookupErr := s.lookupScopedID("metrics", "device_id", deviceID, name); lookupErr == nil {
			return id, nil
		}
		return 0, fmt.Errorf("store: insert metric %q: %w", name, err)
	}
	return res.LastInsertId()
}

// AppendMetricSample appends one (value, timestamp) sample to the metric's
// per-datatype history table. History is append-only (spec.md §3, §8):
// no UPDATE or DELETE is ever issued against these tables.
func (s *Store) AppendMetricSample(metricID int64, datatype string, value any, timestamp int64) error {
	table, err := sampleTable(datatype)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.builder.Insert(table).
		Columns("metric_id", "metric_value", "metric_timestamp").
		Values(metricID, value, timestamp).
		RunWith(s.db).Exec()
	if err != nil {
		return fmt.Errorf("store: append sample to %s: %w", table, err)
	}
	return nil
}

func sampleTable(datatype string) (string, error) {
	switch datatype {
	case "String":
		return "metric_string", nil
	case "Int":
		return "metric_int", nil
	case "Float":
		return "metric_float", nil
	case "Boolean":
		return "metric_boolean", nil
	default:
		return "", fmt.Errorf("store: unsupported metric datatype %q", datatype)
	}
}

// lookupID returns the id of the row in table matching col=val.
func (s *Store) lookupID(table, col string, val any) (int64, error) {
	var id int64
	q, args, err := s.builder.Select("id").From(table).Where(sq.Eq{col: val}).ToSql()
	if err != nil {
		return 0, err
	}
	if err := s.db.Get(&id, q, args...); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) lookupScopedID(table, scopeCol string, scopeVal int64, name string) (int64, error) {
	var id int64
	q, args, err := s.builder.Select("id").From(table).
		Where(sq.Eq{scopeCol: scopeVal, "name": name}).ToSql()
	if err != nil {
		return 0, err
	}
	if err := s.db.Get(&id, q, args...); err != nil {
		return 0, err
	}
	return id, nil
}
