// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package model

import (
	"testing"

	"github.com/edgeworks-io/sparkplughost/internal/store"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*store.Store, *Model) {
	t.Helper()
	s, err := store.Connect("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, New(s)
}

// TestNameResolution implements spec.md §8's E6 scenario.
func TestNameResolution(t *testing.T) {
	s, m := setup(t)

	g1, err := s.InsertGroup("g1")
	require.NoError(t, err)
	n0, err := s.InsertNode(g1, "n0")
	require.NoError(t, err)
	d1, err := s.InsertDevice(n0, "d1")
	require.NoError(t, err)

	triple, err := m.Get("g1/n0/d1")
	require.NoError(t, err)
	require.Len(t, triple, 1)
	require.Equal(t, KindDevice, triple[0].Kind())
	require.Equal(t, d1, triple[0].ID())

	bareDevice, err := m.Get("d1")
	require.NoError(t, err)
	require.Len(t, bareDevice, 1)
	require.Equal(t, KindDevice, bareDevice[0].Kind())
	require.Equal(t, d1, bareDevice[0].ID())

	pair, err := m.Get("n0/d1")
	require.NoError(t, err)
	require.Len(t, pair, 1)
	require.Equal(t, KindDevice, pair[0].Kind())
	require.Equal(t, d1, pair[0].ID())

	group, err := m.Get("g1")
	require.NoError(t, err)
	require.Len(t, group, 1)
	require.Equal(t, KindGroup, group[0].Kind())
	require.Equal(t, g1, group[0].ID())
}

// TestNameResolutionIsSubstringMatch exercises spec.md §4.2's "case-sensitive
// substring match," not exact match, at every level of the resolver.
func TestNameResolutionIsSubstringMatch(t *testing.T) {
	s, m := setup(t)

	g1, err := s.InsertGroup("plant-alpha")
	require.NoError(t, err)
	n0, err := s.InsertNode(g1, "press-01")
	require.NoError(t, err)
	d1, err := s.InsertDevice(n0, "temp-sensor")
	require.NoError(t, err)

	triple, err := m.Get("alpha/press/sensor")
	require.NoError(t, err)
	require.Len(t, triple, 1)
	require.Equal(t, d1, triple[0].ID())

	pair, err := m.Get("press/sensor")
	require.NoError(t, err)
	require.Len(t, pair, 1)
	require.Equal(t, d1, pair[0].ID())

	bare, err := m.Get("sensor")
	require.NoError(t, err)
	require.Len(t, bare, 1)
	require.Equal(t, KindDevice, bare[0].Kind())
}

func TestGetUnknownPathIsNotFound(t *testing.T) {
	_, m := setup(t)
	_, err := m.Get("nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValueCachesImmutableAttributes(t *testing.T) {
	s, m := setup(t)

	g, err := s.InsertGroup("g1")
	require.NoError(t, err)
	n, err := s.InsertNode(g, "n0")
	require.NoError(t, err)

	node := m.Node(n)
	name, err := node.Name()
	require.NoError(t, err)
	require.Equal(t, "n0", name)

	status, _, err := node.Status()
	require.NoError(t, err)
	require.Equal(t, store.StatusNA, status)

	require.NoError(t, s.SetNodeStatus(n, store.StatusOnline, 5000))
	status, _, err = node.Status()
	require.NoError(t, err)
	require.Equal(t, store.StatusOnline, status, "status must never be cached")
}
