// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/edgeworks-io/sparkplughost/internal/model"
	"github.com/edgeworks-io/sparkplughost/internal/store"
)

func setup(t *testing.T) (*mux.Router, *store.Store) {
	t.Helper()
	s, err := store.Connect("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	r := mux.NewRouter()
	New(model.New(s)).MountRoutes(r)
	return r, s
}

// seedDevice reproduces spec.md §8's E1 scenario directly against the
// Store, the way the Engine's handlers would after NBIRTH/DBIRTH/DDATA.
func seedDevice(t *testing.T, s *store.Store) (groupID, nodeID, deviceID int64) {
	t.Helper()
	g, err := s.InsertGroup("g")
	require.NoError(t, err)
	n, err := s.InsertNode(g, "n")
	require.NoError(t, err)
	require.NoError(t, s.SetNodeStatus(n, store.StatusOnline, 1000))
	d, err := s.InsertDevice(n, "d")
	require.NoError(t, err)
	require.NoError(t, s.SetDeviceStatus(d, store.StatusOnline, 1001))
	m, err := s.InsertMetric(d, "temperature", "Float")
	require.NoError(t, err)
	require.NoError(t, s.AppendMetricSample(m, "Float", 22.0, 1002))
	return g, n, d
}

func decodeBody[T any](t *testing.T, rw *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &v))
	return v
}

func TestListAndGetGroup(t *testing.T) {
	r, s := setup(t)
	g, _, _ := seedDevice(t, s)

	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/groups", nil))
	require.Equal(t, http.StatusOK, rw.Code)
	groups := decodeBody[[]groupJSON](t, rw)
	require.Len(t, groups, 1)
	require.Equal(t, "g", groups[0].Name)

	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/groups/"+itoa(g), nil))
	single := decodeBody[[]groupJSON](t, rw)
	require.Len(t, single, 1)
	require.Equal(t, g, single[0].ID)
}

func TestUnknownGroupIDReturnsEmptyListNotError(t *testing.T) {
	r, _ := setup(t)

	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/groups/999", nil))
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, []groupJSON{}, decodeBody[[]groupJSON](t, rw))
}

func TestDeviceE1BirthThenSample(t *testing.T) {
	r, s := setup(t)
	_, _, d := seedDevice(t, s)

	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/devices", nil))
	devices := decodeBody[[]entityJSON](t, rw)
	require.Len(t, devices, 1)
	require.Equal(t, "ONLINE", devices[0].Status)
	require.EqualValues(t, 1001, devices[0].BirthTimestamp)

	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/devices/"+itoa(d)+"/metrics", nil))
	metrics := decodeBody[[]metricJSON](t, rw)
	require.Len(t, metrics, 1)
	require.Equal(t, "temperature", metrics[0].Name)
	require.Equal(t, "Float", metrics[0].Type)
	require.InDelta(t, 22.0, metrics[0].Value.(float64), 0.0001)
	require.EqualValues(t, 1002, metrics[0].Timestamp)
}

func TestGroupNodesAndDevicesScoping(t *testing.T) {
	r, s := setup(t)
	g, _, _ := seedDevice(t, s)

	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/groups/"+itoa(g)+"/nodes", nil))
	nodes := decodeBody[[]entityJSON](t, rw)
	require.Len(t, nodes, 1)
	require.Equal(t, "n", nodes[0].Name)

	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/groups/"+itoa(g)+"/devices", nil))
	devices := decodeBody[[]entityJSON](t, rw)
	require.Len(t, devices, 1)
	require.Equal(t, "d", devices[0].Name)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
