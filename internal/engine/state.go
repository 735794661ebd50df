// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"sync"
	"time"
)

// nodeKey identifies an edge node across the Engine's in-memory maps.
type nodeKey struct {
	group string
	node  string
}

// deviceKey identifies a device's alias table.
type deviceKey struct {
	group  string
	node   string
	device string
}

// nodeState is the Engine's exclusively-owned, never-persisted per-node
// liveness/sequence bookkeeping (spec.md §3, §4.4, §5).
type nodeState struct {
	mu           sync.RWMutex
	lastSeq      map[nodeKey]int64
	alive        map[nodeKey]bool
	lastActivity map[nodeKey]time.Time
	aliases      map[deviceKey]map[uint64]string // alias -> metric name
}

func newNodeState() *nodeState {
	return &nodeState{
		lastSeq:      make(map[nodeKey]int64),
		alive:        make(map[nodeKey]bool),
		lastActivity: make(map[nodeKey]time.Time),
		aliases:      make(map[deviceKey]map[uint64]string),
	}
}

func (s *nodeState) setSeq(key nodeKey, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq[key] = seq
	s.lastActivity[key] = time.Now()
}

// incrementSeq advances key's sequence counter by one, the NDATA-time
// effect spec.md §4.4 and the original state machine describe (as opposed
// to NBIRTH, which sets it to the wire's own seq via setSeq).
func (s *nodeState) incrementSeq(key nodeKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq[key]++
	s.lastActivity[key] = time.Now()
}

func (s *nodeState) setAlive(key nodeKey, alive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive[key] = alive
	s.lastActivity[key] = time.Now()
}

func (s *nodeState) isAlive(key nodeKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive[key]
}

// setAliases replaces the full alias table for a device, as announced by
// its most recent DBIRTH.
func (s *nodeState) setAliases(key deviceKey, table map[uint64]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[key] = table
}

// resolveAlias looks up a metric name for (device, alias). ok is false if
// no DBIRTH has been observed for the device, or the alias is unknown.
func (s *nodeState) resolveAlias(key deviceKey, alias uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, ok := s.aliases[key]
	if !ok {
		return "", false
	}
	name, ok := table[alias]
	return name, ok
}

// staleNodes returns every (group,node) key whose last activity is older
// than "after", for the periodic stale-edge-node sweep.
func (s *nodeState) staleNodes(after time.Duration) []nodeKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var stale []nodeKey
	for key, last := range s.lastActivity {
		if now.Sub(last) > after {
			stale = append(stale, key)
		}
	}
	return stale
}
