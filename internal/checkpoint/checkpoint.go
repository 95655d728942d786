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

// Package checkpoint defines the per-shard checkpoint capability consumed
// by RecordProcessor.FlushAndCheckpoint, plus adapters: an in-memory one for
// tests and a Redis-backed one for a real deployment's coordinator store.
package checkpoint

import "context"

// Checkpointer durably records the highest sequence number successfully
// processed for a shard. Implementations MAY reject a checkpoint that is
// not monotonically greater than the last one recorded.
type Checkpointer interface {
	Checkpoint(ctx context.Context, shardID, sequenceNumber string) error
}

// InMemory is a Checkpointer backed by a plain map, used by tests and by
// the pointer-stream processors when no external coordinator is wired in.
type InMemory struct {
	values map[string]string
}

// NewInMemory builds an empty in-memory checkpoint store.
func NewInMemory() *InMemory {
	return &InMemory{values: make(map[string]string)}
}

func (m *InMemory) Checkpoint(ctx context.Context, shardID, sequenceNumber string) error {
	m.values[shardID] = sequenceNumber
	return nil
}

// Get returns the last checkpointed sequence number for shardID, if any.
func (m *InMemory) Get(shardID string) (string, bool) {
	v, ok := m.values[shardID]
	return v, ok
}
