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

package checkpoint

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCheckpointer stores per-shard checkpoints in Redis, one string key
// per shard, matching the key-naming idiom the rate-limiter's Redis
// persister uses for its own counter keys.
type RedisCheckpointer struct {
	client   *redis.Client
	keyPrefix string
}

// NewRedisCheckpointer wires a Checkpointer over an existing go-redis
// client. keyPrefix namespaces checkpoint keys from any other use of the
// same Redis instance.
func NewRedisCheckpointer(client *redis.Client, keyPrefix string) *RedisCheckpointer {
	return &RedisCheckpointer{client: client, keyPrefix: keyPrefix}
}

func (r *RedisCheckpointer) key(shardID string) string {
	return fmt.Sprintf("%s:checkpoint:%s", r.keyPrefix, shardID)
}

func (r *RedisCheckpointer) Checkpoint(ctx context.Context, shardID, sequenceNumber string) error {
	return r.client.Set(ctx, r.key(shardID), sequenceNumber, 0).Err()
}

// Get returns the last checkpointed sequence number for shardID, if any.
func (r *RedisCheckpointer) Get(ctx context.Context, shardID string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(shardID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
