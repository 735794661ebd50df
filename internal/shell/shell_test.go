// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeworks-io/sparkplughost/internal/model"
	"github.com/edgeworks-io/sparkplughost/internal/store"
)

func setup(t *testing.T) *Shell {
	t.Helper()
	s, err := store.Connect("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	g, err := s.InsertGroup("g1")
	require.NoError(t, err)
	n, err := s.InsertNode(g, "n0")
	require.NoError(t, err)
	d, err := s.InsertDevice(n, "d1")
	require.NoError(t, err)
	m, err := s.InsertMetric(d, "temperature", "Float")
	require.NoError(t, err)
	require.NoError(t, s.AppendMetricSample(m, "Float", 21.5, 1000))

	return New(model.New(s), &bytes.Buffer{})
}

func run(t *testing.T, sh *Shell, line string) string {
	t.Helper()
	buf := &bytes.Buffer{}
	sh.out = buf
	require.NoError(t, sh.dispatch(context.Background(), line))
	return buf.String()
}

func TestGetDeviceRendersMetricTable(t *testing.T) {
	sh := setup(t)
	out := run(t, sh, "get device g1/n0/d1")
	require.Contains(t, out, "temperature")
	require.Contains(t, out, "21.5")
}

func TestExprMetricLookup(t *testing.T) {
	sh := setup(t)
	out := run(t, sh, `expr metric("g1/n0/d1", "temperature") * 2`)
	require.Contains(t, out, "43")
}

func TestAssignThenExprReferencesVariable(t *testing.T) {
	sh := setup(t)
	require.NoError(t, sh.dispatch(context.Background(), `assign t metric("d1", "temperature")`))
	out := run(t, sh, "expr t + 1")
	require.Contains(t, out, "22.5")
}

func TestDefineExpandsOnReference(t *testing.T) {
	sh := setup(t)
	require.NoError(t, sh.dispatch(context.Background(), `define temp metric("d1", "temperature")`))
	out := run(t, sh, "expr @temp > 20")
	require.Contains(t, out, "true")
}

func TestEvalErrorsAreReportedNotFatal(t *testing.T) {
	sh := setup(t)
	err := sh.dispatch(context.Background(), `expr metric("missing", "x")`)
	require.Error(t, err)

	// The shell itself must still work after an evaluation error.
	out := run(t, sh, "get group")
	require.True(t, strings.Contains(out, "g1"))
}

func TestExitStopsTheLoop(t *testing.T) {
	sh := setup(t)
	err := sh.dispatch(context.Background(), "exit")
	require.ErrorIs(t, err, errExit)
}
