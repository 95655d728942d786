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

// Package streamclient defines the downstream publish capability used by
// the pointer-publishing emitter. No concrete stream transport client (the
// teacher's own KafkaProducer interface is, by design, not backed by a
// concrete library either) is specified here.
package streamclient

import "context"

// Publisher publishes a single record to a named stream under a caller-
// chosen partition key.
type Publisher interface {
	Publish(ctx context.Context, stream string, partitionKey string, payload []byte) error
}

// Record is a single record consumed from a shard, as delivered by the
// external stream client.
type Record struct {
	SequenceNumber string
	PartitionKey   string
	Data           []byte
}

// ShardReader is the external stream read capability a RecordProcessor
// consumes: fetch the next batch of records for a shard, and report how far
// behind the tip of the stream the read was.
type ShardReader interface {
	GetRecords(ctx context.Context, shardID string, limit int) (records []Record, millisBehindLatest int64, err error)
}
