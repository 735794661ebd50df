// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInitFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"id": "host-1",
		"mqtt": {"host": "broker.local", "port": 1883},
		"zones": ["plant-a", "plant-b"],
		"db": {"driver": "sqlite3", "url": "./var/sparkplughost.db"},
		"http": {"addr": ":9090"},
		"log_level": "debug",
		"stale_sweep_interval": "30s",
		"stale_after": "5m",
		"rebirth_min_interval": "5s"
	}`)

	require.NoError(t, Init(path))
	require.Equal(t, "host-1", Keys.ID)
	require.Equal(t, "broker.local", Keys.MQTT.Host)
	require.Equal(t, []string{"plant-a", "plant-b"}, Keys.Zones)
	require.Equal(t, ":9090", Keys.HTTP.Addr)
	require.Equal(t, 30*time.Second, Keys.StaleSweepInterval.Duration())
	require.Equal(t, 5*time.Minute, Keys.StaleAfter.Duration())
}

func TestInitRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{"id": "host-1", "zones": ["plant-a"], "bogus_key": true}`)
	require.Error(t, Init(path))
}

func TestInitRejectsMissingZones(t *testing.T) {
	path := writeConfig(t, `{"id": "host-1", "zones": []}`)
	require.Error(t, Init(path))
}

func TestInitRejectsMissingID(t *testing.T) {
	path := writeConfig(t, `{"zones": ["plant-a"]}`)
	require.Error(t, Init(path))
}
