// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config implements the layered configuration lookup used by every
// component in this repository: a flat override namespace, then a chain of
// project/connector-scoped keys, each optionally doubled under a test.*
// prefix when running in local mode.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Source is a flat string-keyed property source, e.g. a parsed YAML file or
// a .properties file. Resolver consults sources in the order they were
// supplied to Initialize, after the environment override layer.
type Source interface {
	Lookup(key string) (string, bool)
}

// MapSource is a Source backed by an in-memory map; used directly by tests
// and as the result of parsing a file-based source.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Resolver is the process-wide configuration handle. It is constructed once
// via Initialize and is immutable thereafter except for the test-only Reset.
type Resolver struct {
	project   string
	localMode bool
	sources   []Source
}

var (
	instanceMu sync.RWMutex
	instance   *Resolver
)

// Initialize constructs the process-wide Resolver. connector-scoped lookups
// are always resolved relative to project; localMode gates the test.* layers.
func Initialize(project string, localMode bool, sources ...Source) *Resolver {
	r := &Resolver{project: project, localMode: localMode, sources: sources}
	instanceMu.Lock()
	instance = r
	instanceMu.Unlock()
	return r
}

// Instance returns the process-wide Resolver, or nil if Initialize has not
// been called yet.
func Instance() *Resolver {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	return instance
}

// Reset clears the process-wide Resolver. Used only by tests.
func Reset() {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()
}

// envSource reads the flat override namespace from the process environment,
// translating key.with.dots to KEY_WITH_DOTS as well as trying the key
// verbatim, so either style of override works.
type envSource struct{}

func (envSource) Lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	envKey := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	return os.LookupEnv(envKey)
}

// candidateKeys builds the ordered list of fully-qualified keys to try for a
// given connector-scoped lookup, per the seven-level fallback chain.
func (r *Resolver) candidateKeys(connector, key string) []string {
	keys := make([]string, 0, 6)
	if r.localMode {
		if connector != "" {
			keys = append(keys, fmt.Sprintf("test.%s.%s.%s", r.project, connector, key))
			keys = append(keys, fmt.Sprintf("test.common.%s.%s", connector, key))
		}
	}
	if connector != "" {
		keys = append(keys, fmt.Sprintf("%s.%s.%s", r.project, connector, key))
		keys = append(keys, fmt.Sprintf("common.%s.%s", connector, key))
	}
	keys = append(keys, fmt.Sprintf("%s.%s", r.project, key))
	keys = append(keys, fmt.Sprintf("common.%s", key))
	return keys
}

// lookup resolves a connector-scoped key through the full chain: the flat
// environment override namespace first (tried against every candidate key,
// since an override may target any layer), then the ordered property
// sources.
func (r *Resolver) lookup(connector, key string) (string, bool) {
	candidates := r.candidateKeys(connector, key)
	env := envSource{}
	for _, c := range candidates {
		if v, ok := env.Lookup(c); ok {
			return v, true
		}
	}
	// A bare override of the raw key (no project/connector scoping) also wins,
	// matching the source system's flat system-property override namespace.
	if v, ok := env.Lookup(key); ok {
		return v, true
	}
	for _, c := range candidates {
		for _, src := range r.sources {
			if v, ok := src.Lookup(c); ok {
				return v, true
			}
		}
	}
	return "", false
}

// ConfigError is returned by a typed accessor when a required key is absent,
// or when a resolved value fails to parse and no default was supplied.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: key %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config: key %q is required and was not found", e.Key)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// String resolves key, failing if absent.
func (r *Resolver) String(connector, key string) (string, error) {
	v, ok := r.lookup(connector, key)
	if !ok {
		return "", &ConfigError{Key: key}
	}
	return v, nil
}

// StringDefault resolves key, returning def only when the key is absent.
func (r *Resolver) StringDefault(connector, key, def string) string {
	v, ok := r.lookup(connector, key)
	if !ok {
		return def
	}
	return v
}

// Int resolves and parses key as an int, failing on absence or parse error.
func (r *Resolver) Int(connector, key string) (int, error) {
	v, err := r.String(connector, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: err}
	}
	return n, nil
}

// IntDefault resolves and parses key as an int; a parse failure on a present
// key is a programming/config error, not silently defaulted, matching the
// source system's rule that defaulting applies only to absence.
func (r *Resolver) IntDefault(connector, key string, def int) (int, error) {
	v, ok := r.lookup(connector, key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: err}
	}
	return n, nil
}

func (r *Resolver) Long(connector, key string) (int64, error) {
	v, err := r.String(connector, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: err}
	}
	return n, nil
}

func (r *Resolver) LongDefault(connector, key string, def int64) (int64, error) {
	v, ok := r.lookup(connector, key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: err}
	}
	return n, nil
}

func (r *Resolver) Float64(connector, key string) (float64, error) {
	v, err := r.String(connector, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: err}
	}
	return n, nil
}

func (r *Resolver) Float64Default(connector, key string, def float64) (float64, error) {
	v, ok := r.lookup(connector, key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Err: err}
	}
	return n, nil
}

func (r *Resolver) Bool(connector, key string) (bool, error) {
	v, err := r.String(connector, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Key: key, Err: err}
	}
	return b, nil
}

func (r *Resolver) BoolDefault(connector, key string, def bool) (bool, error) {
	v, ok := r.lookup(connector, key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Key: key, Err: err}
	}
	return b, nil
}

// List resolves key as a comma-separated list; empty elements are dropped.
func (r *Resolver) List(connector, key string) ([]string, error) {
	v, err := r.String(connector, key)
	if err != nil {
		return nil, err
	}
	return splitList(v), nil
}

func (r *Resolver) ListDefault(connector, key string, def []string) []string {
	v, ok := r.lookup(connector, key)
	if !ok {
		return def
	}
	return splitList(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
