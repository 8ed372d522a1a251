// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

// Reader returns the application databags published on the relations of
// a charm endpoint.
type Reader interface {
	Databags(endpoint string) ([]map[string]string, error)
}

// StaticReader returns the same databags for every endpoint.
type StaticReader []map[string]string

// Databags is part of the Reader interface.
func (r StaticReader) Databags(string) ([]map[string]string, error) {
	return r, nil
}

// RunCommandFunc runs a command and returns its combined output.
type RunCommandFunc func(command string, args ...string) (string, error)

// HookToolReader reads relation data with the relation-ids, relation-list
// and relation-get hook tools. It only works within a hook context.
type HookToolReader struct {
	run RunCommandFunc
}

// NewHookToolReader returns a reader running the hook tools with run, or
// with utils.RunCommand if run is nil.
func NewHookToolReader(run RunCommandFunc) *HookToolReader {
	if run == nil {
		run = utils.RunCommand
	}
	return &HookToolReader{run: run}
}

// Databags is part of the Reader interface. Relations are visited in the
// order they were established.
func (r *HookToolReader) Databags(endpoint string) ([]map[string]string, error) {
	ids, err := r.RelationIDs(endpoint)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var databags []map[string]string
	for _, id := range ids {
		var app string
		if err := r.runJSON(&app, "relation-list", "-r", id, "--app", "--format=json"); err != nil {
			return nil, errors.Trace(err)
		}
		if app == "" {
			logger.Debugf("relation %s has no remote application yet", id)
			continue
		}
		databag := make(map[string]string)
		if err := r.runJSON(&databag, "relation-get", "-r", id, "--app", "--format=json", "-", app); err != nil {
			return nil, errors.Trace(err)
		}
		databags = append(databags, databag)
	}
	return databags, nil
}

// RelationIDs returns the ids of the relations of endpoint, in the order
// they were established.
func (r *HookToolReader) RelationIDs(endpoint string) ([]string, error) {
	var ids []string
	if err := r.runJSON(&ids, "relation-ids", endpoint, "--format=json"); err != nil {
		return nil, errors.Trace(err)
	}
	sort.Slice(ids, func(i, j int) bool {
		return relationNumber(ids[i]) < relationNumber(ids[j])
	})
	return ids, nil
}

func (r *HookToolReader) runJSON(result interface{}, command string, args ...string) error {
	out, err := r.run(command, args...)
	if err != nil {
		return errors.Annotatef(err, "%s %s: %s", command, strings.Join(args, " "), strings.TrimSpace(out))
	}
	out = strings.TrimSpace(out)
	if out == "" || out == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(out), result); err != nil {
		return errors.Annotatef(err, "decoding %s output", command)
	}
	return nil
}

// relationNumber returns the numeric part of a relation id such as
// "profiling:3".
func relationNumber(id string) int {
	_, number, _ := strings.Cut(id, ":")
	n, err := strconv.Atoi(number)
	if err != nil {
		return -1
	}
	return n
}
