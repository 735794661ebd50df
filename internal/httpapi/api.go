// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httpapi is the read-only JSON HTTP Query Surface over the
// Topology Model (spec.md §4.5, §6): every endpoint returns a list of
// objects, even for a single entity, and an unknown id yields an empty
// list rather than an error.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeworks-io/sparkplughost/internal/model"
	"github.com/edgeworks-io/sparkplughost/pkg/log"
)

// API wires the Topology Model into a mux.Router.
type API struct {
	model *model.Model
}

// New returns an API backed by m.
func New(m *model.Model) *API {
	return &API{model: m}
}

// MountRoutes registers every endpoint of spec.md §6 plus /metrics.
func (a *API) MountRoutes(r *mux.Router) {
	r.HandleFunc("/groups", a.listGroups).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}", a.getGroup).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}/nodes", a.getGroupNodes).Methods(http.MethodGet)
	r.HandleFunc("/groups/{id}/devices", a.getGroupDevices).Methods(http.MethodGet)

	r.HandleFunc("/nodes", a.listNodes).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id}", a.getNode).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id}/devices", a.getNodeDevices).Methods(http.MethodGet)

	r.HandleFunc("/devices", a.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", a.getDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/metrics", a.getDeviceMetrics).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// groupJSON is the Group entity projection of spec.md §6.
type groupJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// entityJSON is the Node/Device entity projection of spec.md §6.
type entityJSON struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	BirthTimestamp int64  `json:"birth_timestamp"`
	DeathTimestamp int64  `json:"death_timestamp"`
}

// metricJSON is a single metric's current reading (spec.md §6).
type metricJSON struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Errorf("httpapi: encode response: %s", err)
	}
}

func writeError(rw http.ResponseWriter, err error, status int) {
	log.Warnf("httpapi: %s", err)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

// isNotFound reports whether err is an unknown-id lookup failure, which
// the HTTP surface must render as an empty list, not a 500 (spec.md §7).
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, model.ErrNotFound)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func toGroupJSON(v *model.Value) (groupJSON, error) {
	name, err := v.Name()
	if err != nil {
		return groupJSON{}, err
	}
	return groupJSON{ID: v.ID(), Name: name}, nil
}

func toEntityJSON(v *model.Value) (entityJSON, error) {
	name, err := v.Name()
	if err != nil {
		return entityJSON{}, err
	}
	status, _, err := v.Status()
	if err != nil {
		return entityJSON{}, err
	}
	birth, death, err := v.Timestamps()
	if err != nil {
		return entityJSON{}, err
	}
	return entityJSON{
		ID:             v.ID(),
		Name:           name,
		Status:         string(status),
		BirthTimestamp: birth,
		DeathTimestamp: death,
	}, nil
}

func toMetricJSON(v *model.Value) (metricJSON, error) {
	name, err := v.Name()
	if err != nil {
		return metricJSON{}, err
	}
	datatype, err := v.Datatype()
	if err != nil {
		return metricJSON{}, err
	}
	sample, err := v.MetricValue()
	if err != nil {
		return metricJSON{}, err
	}
	return metricJSON{Name: name, Type: datatype, Value: sample.Value, Timestamp: sample.Timestamp}, nil
}

func (a *API) listGroups(rw http.ResponseWriter, r *http.Request) {
	groups, err := a.model.Groups(r.URL.Query().Get("q"))
	if err != nil {
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	out := make([]groupJSON, 0, len(groups))
	for _, g := range groups {
		j, err := toGroupJSON(g)
		if err != nil {
			writeError(rw, err, http.StatusInternalServerError)
			return
		}
		out = append(out, j)
	}
	writeJSON(rw, out)
}

func (a *API) getGroup(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, err, http.StatusBadRequest)
		return
	}
	j, err := toGroupJSON(a.model.Group(id))
	if err != nil {
		if isNotFound(err) {
			writeJSON(rw, []groupJSON{})
			return
		}
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	writeJSON(rw, []groupJSON{j})
}

func (a *API) getGroupNodes(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, err, http.StatusBadRequest)
		return
	}
	nodes, err := a.model.Nodes(id, "")
	if err != nil {
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	writeEntityList(rw, nodes)
}

func (a *API) getGroupDevices(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, err, http.StatusBadRequest)
		return
	}
	devices, err := a.model.GroupDevices(id)
	if err != nil {
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	writeEntityList(rw, devices)
}

func (a *API) listNodes(rw http.ResponseWriter, r *http.Request) {
	nodes, err := a.model.AllNodes()
	if err != nil {
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	writeEntityList(rw, nodes)
}

func (a *API) getNode(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, err, http.StatusBadRequest)
		return
	}
	j, err := toEntityJSON(a.model.Node(id))
	if err != nil {
		if isNotFound(err) {
			writeJSON(rw, []entityJSON{})
			return
		}
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	writeJSON(rw, []entityJSON{j})
}

func (a *API) getNodeDevices(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, err, http.StatusBadRequest)
		return
	}
	devices, err := a.model.Devices(id, "")
	if err != nil {
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	writeEntityList(rw, devices)
}

func (a *API) listDevices(rw http.ResponseWriter, r *http.Request) {
	devices, err := a.model.AllDevices()
	if err != nil {
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	writeEntityList(rw, devices)
}

func (a *API) getDevice(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, err, http.StatusBadRequest)
		return
	}
	j, err := toEntityJSON(a.model.Device(id))
	if err != nil {
		if isNotFound(err) {
			writeJSON(rw, []entityJSON{})
			return
		}
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	writeJSON(rw, []entityJSON{j})
}

func (a *API) getDeviceMetrics(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, err, http.StatusBadRequest)
		return
	}
	metrics, err := a.model.Device(id).Metrics()
	if err != nil {
		if isNotFound(err) {
			writeJSON(rw, []metricJSON{})
			return
		}
		writeError(rw, err, http.StatusInternalServerError)
		return
	}
	out := make([]metricJSON, 0, len(metrics))
	for _, m := range metrics {
		j, err := toMetricJSON(m)
		if err != nil {
			writeError(rw, err, http.StatusInternalServerError)
			return
		}
		out = append(out, j)
	}
	writeJSON(rw, out)
}

func writeEntityList(rw http.ResponseWriter, values []*model.Value) {
	out := make([]entityJSON, 0, len(values))
	for _, v := range values {
		j, err := toEntityJSON(v)
		if err != nil {
			writeError(rw, err, http.StatusInternalServerError)
			return
		}
		out = append(out, j)
	}
	writeJSON(rw, out)
}
