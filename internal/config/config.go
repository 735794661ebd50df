// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the single JSON configuration
// document a sparkplughost process is started with.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration unmarshals a Go duration string ("30s", "5m") straight into a
// time.Duration, the same way the config's mqtt/db/http blocks are plain
// nested structs rather than stringly-typed maps.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MQTT is the broker connection block.
type MQTT struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// DB is the persistence layer block.
type DB struct {
	Driver string `json:"driver"`
	URL    string `json:"url"`
}

// HTTP is the query-surface listener block.
type HTTP struct {
	Addr string `json:"addr"`
}

// Config is the decoded, schema-validated program configuration
// (spec.md §6's config file, extended with the ambient keys SPEC_FULL.md
// §6 adds).
type Config struct {
	ID                 string   `json:"id"`
	MQTT               MQTT     `json:"mqtt"`
	Zones              []string `json:"zones"`
	DB                 DB       `json:"db"`
	HTTP               HTTP     `json:"http"`
	LogLevel           string   `json:"log_level"`
	StaleSweepInterval Duration `json:"stale_sweep_interval"`
	StaleAfter         Duration `json:"stale_after"`
	RebirthMinInterval Duration `json:"rebirth_min_interval"`
}

// Keys holds the process-wide configuration once Init has run.
var Keys = Config{
	MQTT:               MQTT{Host: "localhost", Port: 1883},
	DB:                 DB{Driver: "sqlite3", URL: "./var/sparkplughost.db"},
	HTTP:               HTTP{Addr: ":8080"},
	LogLevel:           "info",
	StaleSweepInterval: Duration(30 * time.Second),
	StaleAfter:         Duration(5 * time.Minute),
	RebirthMinInterval: Duration(5 * time.Second),
}

// Init reads flagConfigFile, validates it against the embedded JSON Schema,
// and decodes it over the defaults in Keys. Unknown fields are rejected so
// a typo in the config file surfaces at startup rather than being silently
// ignored.
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", flagConfigFile, err)
	}

	if err := Validate(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("config: validate %s: %w", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("config: decode %s: %w", flagConfigFile, err)
	}

	if len(Keys.Zones) < 1 {
		return fmt.Errorf("config: at least one zone required")
	}
	if Keys.ID == "" {
		return fmt.Errorf("config: %q is required", "id")
	}

	return nil
}
