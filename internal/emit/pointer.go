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

package emit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
	"github.com/aws-samples/gameanalytics-pipeline/internal/streamclient"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
)

// ObjectPointerEvent is the single-object JSON record published to the
// downstream stream after a successful archival PUT.
type ObjectPointerEvent struct {
	Filename string `json:"filename"`
}

// PointerPublishingEmitter wraps an ArchivalEmitter: after a successful
// archival PUT it publishes a pointer to the archived object on a
// downstream stream, using a partition key chosen at random but balanced
// across the configured downstream shard set via rendezvous hashing.
type PointerPublishingEmitter struct {
	archival  *ArchivalEmitter
	publisher streamclient.Publisher
	stream    string
	balancer  *rendezvous.Rendezvous
}

// NewPointerPublishingEmitter composes archival with a publish step.
// downstreamShards names the downstream stream's shards, used only to
// spread the random partition-key draws evenly; it is not the event's own
// shard set.
func NewPointerPublishingEmitter(archival *ArchivalEmitter, publisher streamclient.Publisher, stream string, downstreamShards []string) *PointerPublishingEmitter {
	return &PointerPublishingEmitter{
		archival:  archival,
		publisher: publisher,
		stream:    stream,
		balancer:  rendezvous.New(downstreamShards, xxhash.Sum64String),
	}
}

// Emit performs the archival PUT, then publishes a pointer record. A
// publish failure returns the entire batch so the caller retries; the
// archival object itself is idempotent (its key is derived from sequence
// numbers), so a retried archival PUT is harmless.
func (e *PointerPublishingEmitter) Emit(ctx context.Context, records []buffer.Record) ([]buffer.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if failed, err := e.archival.Emit(ctx, records); err != nil || len(failed) > 0 {
		return failed, err
	}

	key := e.archival.Key(records)
	pointer := ObjectPointerEvent{Filename: key}
	payload, err := json.Marshal(pointer)
	if err != nil {
		return records, err
	}
	payload = append(payload, '\n')

	partitionKey := e.randomPartitionKey()
	if err := e.publisher.Publish(ctx, e.stream, partitionKey, payload); err != nil {
		tlog.Warn("pointer publish failed for %s: %v", key, err)
		return records, err
	}
	return nil, nil
}

// randomPartitionKey draws a random token and resolves it through the
// rendezvous balancer against the downstream shard set, so publishes spread
// evenly across downstream shards without being sticky to any one archival
// key.
func (e *PointerPublishingEmitter) randomPartitionKey() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("fallback-%x", buf)
	}
	token := hex.EncodeToString(buf[:])
	if e.balancer == nil {
		return token
	}
	return e.balancer.Lookup(token)
}

func (e *PointerPublishingEmitter) Fail(records []buffer.Record) {
	e.archival.Fail(records)
}

func (e *PointerPublishingEmitter) Shutdown(ctx context.Context) error {
	return e.archival.Shutdown(ctx)
}
