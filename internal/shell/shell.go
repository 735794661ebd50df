// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shell implements the interactive line-oriented REPL of
// spec.md §4.6: get/watch/expr/assign/define/exit over the Topology
// Model.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/edgeworks-io/sparkplughost/internal/model"
)

var errExit = errors.New("shell: exit")

// Shell is the REPL state: the Model it queries, and the two symbol
// tables `assign` and `define` populate (spec.md §4.6).
type Shell struct {
	model *model.Model
	out   io.Writer

	vars map[string]any    // assign: name -> evaluated value
	defs map[string]string // define: name -> unevaluated expression template
}

// New returns a Shell that renders to out and queries m.
func New(m *model.Model, out io.Writer) *Shell {
	return &Shell{
		model: m,
		out:   out,
		vars:  make(map[string]any),
		defs:  make(map[string]string),
	}
}

// Run reads lines from in until EOF, ctx cancellation, or an `exit`
// command. Evaluation errors are printed and never terminate the loop
// (spec.md §4.6).
func (sh *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(sh.out, "> ")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if err := sh.dispatch(ctx, line); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				fmt.Fprintf(sh.out, "error: %s\n", err)
			}
		}
		fmt.Fprint(sh.out, "> ")
	}
	return scanner.Err()
}

func (sh *Shell) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit":
		return errExit
	case "get":
		return sh.cmdGet(args)
	case "watch":
		return sh.cmdWatch(ctx, args)
	case "expr":
		if len(args) == 0 {
			return fmt.Errorf("usage: expr <expression>")
		}
		result, err := sh.eval(strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%v\n", result)
		return nil
	case "assign":
		if len(args) < 2 {
			return fmt.Errorf("usage: assign <name> <expression>")
		}
		result, err := sh.eval(strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		sh.vars[args[0]] = result
		return nil
	case "define":
		if len(args) < 2 {
			return fmt.Errorf("usage: define <name> <expression-template>")
		}
		sh.defs[args[0]] = strings.Join(args[1:], " ")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (sh *Shell) cmdGet(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: get <group|node|device> [path]")
	}

	switch args[0] {
	case "group", "groups":
		groups, err := sh.model.Groups("")
		if err != nil {
			return err
		}
		return sh.renderEntities(groups)
	case "node", "nodes":
		nodes, err := sh.model.AllNodes()
		if err != nil {
			return err
		}
		return sh.renderEntities(nodes)
	case "device", "devices":
		if len(args) == 1 {
			devices, err := sh.model.AllDevices()
			if err != nil {
				return err
			}
			return sh.renderEntities(devices)
		}
		return sh.cmdGetDevice(args[1])
	default:
		return fmt.Errorf("unknown get target %q", args[0])
	}
}

func (sh *Shell) cmdGetDevice(path string) error {
	matches, err := sh.model.Get(path)
	if err != nil {
		return err
	}
	for _, v := range matches {
		if v.Kind() != model.KindDevice {
			continue
		}
		fmt.Fprintf(sh.out, "%s\n", deviceLabel(v))
		if err := sh.renderMetrics(v); err != nil {
			return err
		}
	}
	return nil
}

// cmdWatch periodically re-renders a device's metric table at ~1 Hz
// until ctx is cancelled (spec.md §4.6).
func (sh *Shell) cmdWatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: watch <device-path>")
	}
	matches, err := sh.model.Get(args[0])
	if err != nil {
		return err
	}
	var device *model.Value
	for _, v := range matches {
		if v.Kind() == model.KindDevice {
			device = v
			break
		}
	}
	if device == nil {
		return fmt.Errorf("shell: %q does not resolve to a device", args[0])
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if err := sh.renderMetrics(device); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func deviceLabel(d *model.Value) string {
	name, _ := d.Name()
	node, err := d.Node()
	if err != nil {
		return name
	}
	nodeName, _ := node.Name()
	group, err := node.Group()
	if err != nil {
		return nodeName + "/" + name
	}
	groupName, _ := group.Name()
	return groupName + "/" + nodeName + "/" + name
}

func (sh *Shell) renderEntities(values []*model.Value) error {
	t := table.NewWriter()
	t.SetOutputMirror(sh.out)
	t.AppendHeader(table.Row{"id", "name", "status"})
	for _, v := range values {
		name, err := v.Name()
		if err != nil {
			return err
		}
		status := ""
		if v.Kind() == model.KindEdgeNode || v.Kind() == model.KindDevice {
			st, _, err := v.Status()
			if err != nil {
				return err
			}
			status = string(st)
		}
		t.AppendRow(table.Row{v.ID(), name, status})
	}
	t.Render()
	return nil
}

func (sh *Shell) renderMetrics(device *model.Value) error {
	metrics, err := device.Metrics()
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(sh.out)
	t.AppendHeader(table.Row{"name", "type", "value", "timestamp"})
	for _, m := range metrics {
		name, err := m.Name()
		if err != nil {
			return err
		}
		datatype, err := m.Datatype()
		if err != nil {
			return err
		}
		sample, err := m.MetricValue()
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{name, datatype, sample.Value, sample.Timestamp})
	}
	t.Render()
	return nil
}

var defineToken = regexp.MustCompile(`@(\w+)`)

// expand replaces every @name token with its stored define template,
// recursively, up to a fixed depth to guard against self-reference.
func (sh *Shell) expand(expression string) string {
	for i := 0; i < 8; i++ {
		expanded := defineToken.ReplaceAllStringFunc(expression, func(tok string) string {
			name := tok[1:]
			if body, ok := sh.defs[name]; ok {
				return "(" + body + ")"
			}
			return tok
		})
		if expanded == expression {
			return expanded
		}
		expression = expanded
	}
	return expression
}

// eval compiles and runs an expression against the whitelisted symbol
// table: model lookup primitives, numeric helpers, and any names stored
// by `assign` (spec.md §4.6).
func (sh *Shell) eval(expression string) (any, error) {
	env := sh.buildEnv()
	result, err := expr.Eval(sh.expand(expression), env)
	if err != nil {
		return nil, fmt.Errorf("shell: %w", err)
	}
	return result, nil
}

func (sh *Shell) buildEnv() map[string]any {
	env := map[string]any{
		"metric": func(path, name string) (float64, error) {
			return sh.lookupMetric(path, name)
		},
		"status": func(path string) (string, error) {
			return sh.lookupStatus(path)
		},
	}
	for k, v := range sh.vars {
		env[k] = v
	}
	return env
}

func (sh *Shell) lookupMetric(path, name string) (float64, error) {
	matches, err := sh.model.Get(path)
	if err != nil {
		return 0, err
	}
	for _, v := range matches {
		if v.Kind() != model.KindDevice {
			continue
		}
		metrics, err := v.Metrics()
		if err != nil {
			return 0, err
		}
		for _, m := range metrics {
			mName, err := m.Name()
			if err != nil {
				return 0, err
			}
			if mName != name {
				continue
			}
			sample, err := m.MetricValue()
			if err != nil {
				return 0, err
			}
			return toFloat(sample.Value)
		}
	}
	return 0, fmt.Errorf("shell: no metric %q on %q", name, path)
}

func (sh *Shell) lookupStatus(path string) (string, error) {
	matches, err := sh.model.Get(path)
	if err != nil {
		return "", err
	}
	for _, v := range matches {
		if v.Kind() != model.KindEdgeNode && v.Kind() != model.KindDevice {
			continue
		}
		status, _, err := v.Status()
		if err != nil {
			return "", err
		}
		return string(status), nil
	}
	return "", fmt.Errorf("shell: %q has no status", path)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("shell: value %q is not numeric", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("shell: value of type %T is not numeric", v)
	}
}
