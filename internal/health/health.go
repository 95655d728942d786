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

// Package health implements the process-level health flag shared between
// the HTTP surface and the processing core, passed around as a capability
// rather than reached through the configuration singleton, per the cyclic-
// dependency design note this pipeline carries forward from its source
// system.
package health

import "sync"

// Controller tracks per-shard health plus an overall process flag. It is
// safe for concurrent use.
type Controller struct {
	mu      sync.RWMutex
	healthy bool
	shards  map[string]bool
}

// New builds a Controller that starts out healthy.
func New() *Controller {
	return &Controller{healthy: true, shards: make(map[string]bool)}
}

// MarkHealthy flips the overall flag healthy. Call after any successful
// checkpoint or maintenance operation.
func (c *Controller) MarkHealthy() {
	c.mu.Lock()
	c.healthy = true
	c.mu.Unlock()
}

// MarkUnhealthy flips the overall flag unhealthy. Call after retry
// exhaustion on checkpoint, or any maintenance task failure.
func (c *Controller) MarkUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
}

// Healthy reports the current overall flag.
func (c *Controller) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// SetShardHealthy records shard-scoped health, surfaced via Snapshot.
func (c *Controller) SetShardHealthy(shardID string, healthy bool) {
	c.mu.Lock()
	c.shards[shardID] = healthy
	c.mu.Unlock()
}

// Snapshot returns the overall flag and a copy of the per-shard flags.
func (c *Controller) Snapshot() (bool, map[string]bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shards := make(map[string]bool, len(c.shards))
	for k, v := range c.shards {
		shards[k] = v
	}
	return c.healthy, shards
}
