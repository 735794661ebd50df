// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine implements the Sparkplug B protocol state machine:
// subscription wiring, topic parsing, per-edge-node sequence/liveness
// tracking, birth/data/death dispatch, rebirth emission, and host STATE
// publication with Last Will.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/go-co-op/gocron/v2"
	"golang.org/x/time/rate"

	"github.com/edgeworks-io/sparkplughost/internal/store"
	"github.com/edgeworks-io/sparkplughost/pkg/log"
)

// Config configures an Engine's broker connection and operational
// tunables (SPEC_FULL.md §6's ambient config additions).
type Config struct {
	HostID     string
	BrokerHost string
	BrokerPort int
	Username   string
	Password   string
	ClientID   string
	Zones      []string

	NumWorkers         int
	RebirthMinInterval time.Duration
	StaleSweepInterval time.Duration
	StaleAfter         time.Duration
}

type dispatchMsg struct {
	topic   Topic
	payload []byte
}

// Engine is the protocol state machine described by spec.md §4.4.
type Engine struct {
	cfg       Config
	store     *store.Store
	state     *nodeState
	publisher Publisher
	cm        *autopaho.ConnectionManager

	limiterMu sync.Mutex
	limiters  map[nodeKey]*rate.Limiter

	workers []chan dispatchMsg

	scheduler gocron.Scheduler
}

// New constructs an Engine bound to s. Call Start to connect to the
// broker and begin processing.
func New(cfg Config, s *store.Store) *Engine {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 8
	}
	if cfg.RebirthMinInterval <= 0 {
		cfg.RebirthMinInterval = 5 * time.Second
	}

	e := &Engine{
		cfg:      cfg,
		store:    s,
		state:    newNodeState(),
		limiters: make(map[nodeKey]*rate.Limiter),
		workers:  make([]chan dispatchMsg, cfg.NumWorkers),
	}
	for i := range e.workers {
		e.workers[i] = make(chan dispatchMsg, 256)
		go e.runWorker(e.workers[i])
	}
	return e
}

// runWorker is one shard of the sharded dispatcher (spec.md §5): all
// messages for a given (group,node) land on the same worker, preserving
// broker-delivery order for that key.
func (e *Engine) runWorker(ch chan dispatchMsg) {
	for msg := range ch {
		e.handle(msg.topic, msg.payload)
	}
}

// dispatch routes an inbound publish to its shard by fnv32(group,node).
func (e *Engine) dispatch(topic string, payload []byte) {
	t, err := ParseTopic(topic)
	if err != nil {
		log.Warnf("engine: %s", err)
		return
	}
	if t.Action == ActionState {
		return // our own STATE echo, nothing to do with it
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(t.Group + "/" + t.Node))
	idx := h.Sum32() % uint32(len(e.workers))

	select {
	case e.workers[idx] <- dispatchMsg{topic: t, payload: payload}:
	default:
		log.Warnf("engine: worker %d queue full, dropping message on %s", idx, topic)
	}
}

// cmPublisher adapts *autopaho.ConnectionManager to the Publisher
// interface handlers.go depends on.
type cmPublisher struct {
	cm *autopaho.ConnectionManager
}

func (p cmPublisher) Publish(topic string, payload []byte) error {
	_, err := p.cm.Publish(context.Background(), &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	})
	return err
}

// Start connects to the MQTT broker and blocks until ctx is cancelled.
// On every (re-)connect it re-subscribes to every configured zone and
// republishes the retained online STATE message; a Last Will pre-arms
// the offline STATE message for ungraceful disconnects (spec.md §4.4,
// §6).
func (e *Engine) Start(ctx context.Context) error {
	brokerURL := &url.URL{
		Scheme: "mqtt",
		Host:   fmt.Sprintf("%s:%d", e.cfg.BrokerHost, e.cfg.BrokerPort),
	}

	stateTopic := StateTopic(e.cfg.HostID)
	offlineState, _ := json.Marshal(stateMessage{Online: false, Timestamp: time.Now().Unix()})

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: e.cfg.Username,
		ConnectPassword: []byte(e.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   stateTopic,
			Payload: offlineState,
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			brokerConnected.Set(1)
			log.Infof("engine: connected to broker %s", brokerURL.Host)

			for _, zone := range e.cfg.Zones {
				if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
					Subscriptions: []paho.SubscribeOptions{{Topic: DataTopicFilter(zone), QoS: 1}},
				}); err != nil {
					log.Errorf("engine: subscribe to zone %q: %s", zone, err)
				}
			}

			onlineState, _ := json.Marshal(stateMessage{Online: true, Timestamp: time.Now().Unix()})
			if _, err := cm.Publish(context.Background(), &paho.Publish{
				Topic: stateTopic, Payload: onlineState, QoS: 1, Retain: true,
			}); err != nil {
				log.Errorf("engine: publish online STATE: %s", err)
			}
		},
		OnConnectError: func(err error) {
			brokerConnected.Set(0)
			log.Warnf("engine: connection error: %s", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: e.cfg.ClientID,
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("engine: connect: %w", err)
	}
	e.cm = cm
	e.publisher = cmPublisher{cm: cm}

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		e.dispatch(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		return fmt.Errorf("engine: initial broker connect failed: %w", err)
	}

	if err := e.startStaleSweep(); err != nil {
		return fmt.Errorf("engine: start stale sweep: %w", err)
	}

	<-ctx.Done()
	return e.stop()
}

func (e *Engine) stop() error {
	if e.scheduler != nil {
		if err := e.scheduler.Shutdown(); err != nil {
			log.Warnf("engine: scheduler shutdown: %s", err)
		}
	}
	for _, w := range e.workers {
		close(w)
	}
	if e.cm == nil {
		return nil
	}
	return e.cm.Disconnect(context.Background())
}

// stateMessage is the STATE topic payload (spec.md §4.4): a bare JSON
// object, not a Sparkplug payload, per the Sparkplug host STATE convention.
type stateMessage struct {
	Online    bool  `json:"online"`
	Timestamp int64 `json:"timestamp"`
}

// allowRebirth reports whether a rebirth request for key may be sent now,
// rate-limited to at most one per RebirthMinInterval so a persistently
// wedged edge node cannot make the engine hammer NCMD (SPEC_FULL.md §4.4).
func (e *Engine) allowRebirth(key nodeKey) bool {
	e.limiterMu.Lock()
	limiter, ok := e.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(e.cfg.RebirthMinInterval), 1)
		e.limiters[key] = limiter
	}
	e.limiterMu.Unlock()
	return limiter.Allow()
}

// startStaleSweep runs a periodic, purely observational check for edge
// nodes that have gone quiet longer than StaleAfter (SPEC_FULL.md §4.4):
// it only logs — it never mutates Store state or forces a rebirth, since
// that is not licensed by spec.md's liveness rule.
func (e *Engine) startStaleSweep() error {
	interval := e.cfg.StaleSweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	staleAfter := e.cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			for _, key := range e.state.staleNodes(staleAfter) {
				log.Warnf("engine: edge node %s/%s has been quiet for over %s", key.group, key.node, staleAfter)
			}
		}),
	); err != nil {
		return err
	}
	e.scheduler = s
	s.Start()
	return nil
}
