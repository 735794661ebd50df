// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package model is the read-oriented Topology facade over internal/store:
// named lookup, attribute access, and caching of attributes that are
// immutable for an entity's lifetime.
package model

import (
	"fmt"
	"strings"

	"github.com/edgeworks-io/sparkplughost/internal/store"
)

// ErrNotFound is returned by every Model lookup that finds nothing,
// matching spec.md §7's NotFound error kind.
var ErrNotFound = fmt.Errorf("model: not found")

// Model is the facade handed to the HTTP Query Surface and the shell.
type Model struct {
	store *store.Store
}

// New wraps s in a Topology Model.
func New(s *store.Store) *Model {
	return &Model{store: s}
}

// Groups returns every group, optionally filtered by a substring pattern.
func (m *Model) Groups(pattern string) ([]*Value, error) {
	groups, err := m.store.ListGroups(pattern)
	if err != nil {
		return nil, err
	}
	values := make([]*Value, len(groups))
	for i, g := range groups {
		values[i] = newValue(m.store, KindGroup, g.ID)
	}
	return values, nil
}

// Nodes returns the edge nodes of groupID, optionally filtered by pattern.
func (m *Model) Nodes(groupID int64, pattern string) ([]*Value, error) {
	nodes, err := m.store.ListNodes(groupID, pattern)
	if err != nil {
		return nil, err
	}
	values := make([]*Value, len(nodes))
	for i, n := range nodes {
		values[i] = newValue(m.store, KindEdgeNode, n.ID)
	}
	return values, nil
}

// Devices returns the devices of nodeID, optionally filtered by pattern.
func (m *Model) Devices(nodeID int64, pattern string) ([]*Value, error) {
	devices, err := m.store.ListDevices(nodeID, pattern)
	if err != nil {
		return nil, err
	}
	values := make([]*Value, len(devices))
	for i, d := range devices {
		values[i] = newValue(m.store, KindDevice, d.ID)
	}
	return values, nil
}

// AllNodes returns every edge node across every group, for the flat
// /nodes listing endpoint.
func (m *Model) AllNodes() ([]*Value, error) {
	nodes, err := m.store.ListAllNodes()
	if err != nil {
		return nil, err
	}
	values := make([]*Value, len(nodes))
	for i, n := range nodes {
		values[i] = newValue(m.store, KindEdgeNode, n.ID)
	}
	return values, nil
}

// AllDevices returns every device across every edge node, for the flat
// /devices listing endpoint.
func (m *Model) AllDevices() ([]*Value, error) {
	devices, err := m.store.ListAllDevices()
	if err != nil {
		return nil, err
	}
	values := make([]*Value, len(devices))
	for i, d := range devices {
		values[i] = newValue(m.store, KindDevice, d.ID)
	}
	return values, nil
}

// GroupDevices returns every device under every edge node of groupID.
func (m *Model) GroupDevices(groupID int64) ([]*Value, error) {
	devices, err := m.store.ListDevicesByGroup(groupID)
	if err != nil {
		return nil, err
	}
	values := make([]*Value, len(devices))
	for i, d := range devices {
		values[i] = newValue(m.store, KindDevice, d.ID)
	}
	return values, nil
}

// Group wraps a known group id.
func (m *Model) Group(id int64) *Value { return newValue(m.store, KindGroup, id) }

// Node wraps a known edge node id.
func (m *Model) Node(id int64) *Value { return newValue(m.store, KindEdgeNode, id) }

// Device wraps a known device id.
func (m *Model) Device(id int64) *Value { return newValue(m.store, KindDevice, id) }

// Get resolves a dotted/slashed path per spec.md §4.3's name resolution
// policy:
//   - "a/b/c" resolves unambiguously to a device (group/node/device).
//   - "a/b" tries device-in-node ("node/device") then node-in-group
//     ("group/node").
//   - a bare name tries device, then node, then group, aggregating every
//     match across the whole topology.
func (m *Model) Get(path string) ([]*Value, error) {
	path = strings.ReplaceAll(path, ".", "/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch len(parts) {
	case 3:
		return m.resolveTriple(parts[0], parts[1], parts[2])
	case 2:
		return m.resolvePair(parts[0], parts[1])
	case 1:
		return m.resolveBare(parts[0])
	default:
		return nil, fmt.Errorf("model: invalid path %q", path)
	}
}

// resolveTriple matches "group/node/device" by substring at every level
// (spec.md §4.2), aggregating every device any combination of matching
// group/node/device names resolves to.
func (m *Model) resolveTriple(groupName, nodeName, deviceName string) ([]*Value, error) {
	devices, err := m.store.FindDevicesByNamePattern(groupName, nodeName, deviceName)
	if err != nil || len(devices) == 0 {
		return nil, ErrNotFound
	}
	matches := make([]*Value, len(devices))
	for i, d := range devices {
		matches[i] = newValue(m.store, KindDevice, d.ID)
	}
	return matches, nil
}

// resolvePair tries "node/device" then "group/node", substring-matching at
// every level and aggregating both interpretations' matches (spec.md §4.3).
func (m *Model) resolvePair(a, b string) ([]*Value, error) {
	var matches []*Value

	if devices, err := m.store.FindDevicesByNamePattern("", a, b); err == nil {
		for _, d := range devices {
			matches = append(matches, newValue(m.store, KindDevice, d.ID))
		}
	}
	if nodes, err := m.store.FindNodesByNamePattern(a, b); err == nil {
		for _, n := range nodes {
			matches = append(matches, newValue(m.store, KindEdgeNode, n.ID))
		}
	}

	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches, nil
}

// resolveBare tries device, then node, then group, substring-matching name
// at every level and aggregating every match across the whole topology
// (spec.md §4.3).
func (m *Model) resolveBare(name string) ([]*Value, error) {
	var matches []*Value

	if devices, err := m.store.FindDevicesByNamePattern("", "", name); err == nil {
		for _, d := range devices {
			matches = append(matches, newValue(m.store, KindDevice, d.ID))
		}
	}
	if nodes, err := m.store.FindNodesByNamePattern("", name); err == nil {
		for _, n := range nodes {
			matches = append(matches, newValue(m.store, KindEdgeNode, n.ID))
		}
	}
	if groups, err := m.store.ListGroups(name); err == nil {
		for _, g := range groups {
			matches = append(matches, newValue(m.store, KindGroup, g.ID))
		}
	}

	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches, nil
}
