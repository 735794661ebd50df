// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// SetNodeStatus transitions an edge node's status and, for ONLINE/OFFLINE,
// stamps the corresponding birth_ts/death_ts column (spec.md §3's status
// invariant: status and its timestamp move together).
func (s *Store) SetNodeStatus(nodeID int64, status Status, timestamp int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	upd := s.builder.Update("edge_nodes").Set("status", string(status))
	switch status {
	case StatusOnline:
		upd = upd.Set("birth_ts", timestamp)
	case StatusOffline:
		upd = upd.Set("death_ts", timestamp)
	}
	_, err := upd.Where(sq.Eq{"id": nodeID}).RunWith(s.db).Exec()
	if err != nil {
		return fmt.Errorf("store: set node status: %w", err)
	}
	return nil
}

// SetDeviceStatus transitions a device's status and stamps birth_ts/death_ts,
// mirroring SetNodeStatus.
func (s *Store) SetDeviceStatus(deviceID int64, status Status, timestamp int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	upd := s.builder.Update("devices").Set("status", string(status))
	switch status {
	case StatusOnline:
		upd = upd.Set("birth_ts", timestamp)
	case StatusOffline:
		upd = upd.Set("death_ts", timestamp)
	}
	_, err := upd.Where(sq.Eq{"id": deviceID}).RunWith(s.db).Exec()
	if err != nil {
		return fmt.Errorf("store: set device status: %w", err)
	}
	return nil
}

// SetNodeBdSeq records the bdSeq value an edge node presented on its most
// recent NBIRTH. It is stored for inspection only; NDEATH handling does not
// compare against it.
func (s *Store) SetNodeBdSeq(nodeID int64, bdSeq int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.builder.Update("edge_nodes").Set("bd_seq", bdSeq).
		Where(sq.Eq{"id": nodeID}).RunWith(s.db).Exec()
	if err != nil {
		return fmt.Errorf("store: set node bd_seq: %w", err)
	}
	return nil
}
