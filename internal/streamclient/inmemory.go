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

package streamclient

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// InMemoryStream is a process-local, multi-shard stream broker: it
// implements both Publisher and ShardReader so a single instance can stand
// in for the external stream transport in local development and tests.
// Each shard is an unbounded FIFO queue guarded by its own mutex.
type InMemoryStream struct {
	mu     sync.RWMutex
	shards map[string]*shardQueue
	order  map[string][]string // stream name -> its shard IDs, insertion order
}

type shardQueue struct {
	mu      sync.Mutex
	records []Record
	nextSeq int64
}

// NewInMemoryStream builds an empty broker.
func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{
		shards: make(map[string]*shardQueue),
		order:  make(map[string][]string),
	}
}

// EnsureShards creates n shards for stream if they do not already exist,
// naming them "<stream>-shard-0" .. "<stream>-shard-(n-1)", and returns the
// full shard ID set for stream.
func (s *InMemoryStream) EnsureShards(stream string, n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.order[stream]
	for len(existing) < n {
		id := fmt.Sprintf("%s-shard-%d", stream, len(existing))
		s.shards[id] = &shardQueue{}
		existing = append(existing, id)
	}
	s.order[stream] = existing
	out := make([]string, len(existing))
	copy(out, existing)
	return out
}

// ListShards returns the shard IDs previously created for stream via
// EnsureShards, in insertion order.
func (s *InMemoryStream) ListShards(stream string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order[stream]))
	copy(out, s.order[stream])
	return out
}

// Publish appends payload to the shard partitionKey hashes to, creating the
// stream's default single shard first if EnsureShards was never called.
func (s *InMemoryStream) Publish(ctx context.Context, stream string, partitionKey string, payload []byte) error {
	shardIDs := s.ListShards(stream)
	if len(shardIDs) == 0 {
		shardIDs = s.EnsureShards(stream, 1)
	}
	shardID := shardIDs[partitionIndex(partitionKey, len(shardIDs))]

	s.mu.RLock()
	q := s.shards[shardID]
	s.mu.RUnlock()

	q.mu.Lock()
	seq := q.nextSeq
	q.nextSeq++
	q.records = append(q.records, Record{
		SequenceNumber: fmt.Sprintf("%d", seq),
		PartitionKey:   partitionKey,
		Data:           payload,
	})
	q.mu.Unlock()
	return nil
}

// GetRecords drains up to limit records from shardID's queue.
// millisBehindLatest is always 0: this broker has no concept of a
// production-timestamp tip, only FIFO order.
func (s *InMemoryStream) GetRecords(ctx context.Context, shardID string, limit int) ([]Record, int64, error) {
	s.mu.RLock()
	q, ok := s.shards[shardID]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("streamclient: unknown shard %q", shardID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return nil, 0, nil
	}
	n := limit
	if n <= 0 || n > len(q.records) {
		n = len(q.records)
	}
	batch := make([]Record, n)
	copy(batch, q.records[:n])
	q.records = q.records[n:]
	return batch, 0, nil
}

func partitionIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
