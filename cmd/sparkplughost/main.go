// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/edgeworks-io/sparkplughost/internal/config"
	"github.com/edgeworks-io/sparkplughost/internal/engine"
	"github.com/edgeworks-io/sparkplughost/internal/httpapi"
	"github.com/edgeworks-io/sparkplughost/internal/model"
	"github.com/edgeworks-io/sparkplughost/internal/shell"
	"github.com/edgeworks-io/sparkplughost/internal/store"
	"github.com/edgeworks-io/sparkplughost/pkg/log"
	"github.com/edgeworks-io/sparkplughost/pkg/runtimeEnv"
)

func main() {
	var flagGops bool
	var flagConfigFile string
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the process configuration file")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatalf("%s", err.Error())
	}
	applyLogLevel(config.Keys.LogLevel)

	s, err := store.Connect(config.Keys.DB.Driver, config.Keys.DB.URL)
	if err != nil {
		log.Fatalf("store: connect: %s", err.Error())
	}
	defer s.Close()

	m := model.New(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(engine.Config{
		HostID:             config.Keys.ID,
		BrokerHost:         config.Keys.MQTT.Host,
		BrokerPort:         config.Keys.MQTT.Port,
		Username:           config.Keys.MQTT.Username,
		Password:           config.Keys.MQTT.Password,
		ClientID:           config.Keys.MQTT.ClientID,
		Zones:              config.Keys.Zones,
		RebirthMinInterval: config.Keys.RebirthMinInterval.Duration(),
		StaleSweepInterval: config.Keys.StaleSweepInterval.Duration(),
		StaleAfter:         config.Keys.StaleAfter.Duration(),
	}, s)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Start(ctx)
	}()

	// Start returns before ctx is ever cancelled only if the initial
	// broker connect failed (it blocks on AwaitConnection first) or the
	// stale sweep could not be started; treat that as fatal so the process
	// exits non-zero (spec.md §6).
	go func() {
		if err := <-engineDone; err != nil && ctx.Err() == nil {
			log.Fatalf("engine: %s", err.Error())
		}
	}()

	r := mux.NewRouter()
	httpapi.New(m).MountRoutes(r)
	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"})))
	handler := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      handler,
		Addr:         config.Keys.HTTP.Addr,
	}

	listener, err := net.Listen("tcp", config.Keys.HTTP.Addr)
	if err != nil {
		log.Fatalf("http: listen: %s", err.Error())
	}
	log.Printf("HTTP query surface listening at %s...", config.Keys.HTTP.Addr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		select {
		case <-sigs:
		case <-ctx.Done():
		}
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		cancel()
		_ = server.Shutdown(context.Background())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := shell.New(m, os.Stdout).Run(ctx, os.Stdin); err != nil {
			log.Errorf("shell: %s", err.Error())
		}
		// A clean shell exit (operator typed "exit", or stdin closed) is
		// itself a shutdown trigger: spec.md §6 exits 0 on "SIGINT at the
		// REPL, or a normal termination signal".
		cancel()
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		_ = server.Shutdown(context.Background())
	}()

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}
	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	log.Print("Graceful shutdown completed!")
}

// applyLogLevel mirrors pkg/log's own LOGLEVEL-environment-variable switch,
// but driven by the config file's log_level key so operators configure
// verbosity in one place. Config wins over any LOGLEVEL already in the
// environment.
func applyLogLevel(level string) {
	log.DebugWriter = os.Stderr
	log.InfoWriter = os.Stderr
	log.WarnWriter = os.Stderr
	log.ErrorWriter = os.Stderr

	switch strings.ToLower(level) {
	case "err", "error", "fatal":
		log.WarnWriter = io.Discard
		fallthrough
	case "warn":
		log.InfoWriter = io.Discard
		fallthrough
	case "info":
		log.DebugWriter = io.Discard
	case "debug":
		// Nothing to discard.
	default:
		log.Warnf("config: log_level %q not recognized, defaulting to info", level)
		log.DebugWriter = io.Discard
	}
}
