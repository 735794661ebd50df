// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"strings"
)

// Action is the Sparkplug B message type carried by a topic's third
// segment.
type Action string

const (
	ActionNBIRTH Action = "NBIRTH"
	ActionNDEATH Action = "NDEATH"
	ActionNDATA  Action = "NDATA"
	ActionNCMD   Action = "NCMD"
	ActionDBIRTH Action = "DBIRTH"
	ActionDDEATH Action = "DDEATH"
	ActionDDATA  Action = "DDATA"
	ActionDCMD   Action = "DCMD"
	ActionState  Action = "STATE"
)

// Topic is a parsed spBv1.0/<group>/<action>/<node>[/<device>] topic.
type Topic struct {
	Group  string
	Action Action
	Node   string
	Device string // empty unless the topic carries a device segment
}

// ParseTopic splits a Sparkplug B topic into its components (spec.md
// §4.4). Four segments carry no device; five segments do.
func ParseTopic(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != "spBv1.0" {
		return Topic{}, fmt.Errorf("engine: malformed topic %q", topic)
	}

	t := Topic{Group: parts[1], Action: Action(parts[2]), Node: parts[3]}
	if len(parts) == 5 {
		t.Device = parts[4]
	} else if len(parts) != 4 {
		return Topic{}, fmt.Errorf("engine: malformed topic %q", topic)
	}
	return t, nil
}

// NCmdTopic returns the rebirth-command publish topic for (group, node).
func NCmdTopic(group, node string) string {
	return fmt.Sprintf("spBv1.0/%s/NCMD/%s", group, node)
}

// DataTopicFilter returns the subscription filter for every action under
// a group.
func DataTopicFilter(group string) string {
	return fmt.Sprintf("spBv1.0/%s/+/#", group)
}

// StateTopic returns the primary host's presence-beacon topic.
func StateTopic(hostID string) string {
	return fmt.Sprintf("spBv1.0/STATE/%s", hostID)
}
