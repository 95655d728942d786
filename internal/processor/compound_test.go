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

package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/aws-samples/gameanalytics-pipeline/internal/streamclient"
)

type fakeChild struct {
	inited   string
	batches  int
	shutdown ShutdownReason
	failBatch bool
}

func (f *fakeChild) Init(shardID string) { f.inited = shardID }
func (f *fakeChild) ProcessBatch(ctx context.Context, records []streamclient.Record, millisBehindLatest int64) error {
	f.batches++
	if f.failBatch {
		return errors.New("batch failed")
	}
	return nil
}
func (f *fakeChild) Shutdown(ctx context.Context, reason ShutdownReason) error {
	f.shutdown = reason
	return nil
}

func TestCompoundProcessor_InitAndProcessReachAllChildren(t *testing.T) {
	c := NewCompoundProcessor()
	a, b := &fakeChild{}, &fakeChild{}
	c.Add(a)
	c.Add(b)

	c.Init("shard-1")
	if a.inited != "shard-1" || b.inited != "shard-1" {
		t.Fatalf("expected both children initialized, got %q %q", a.inited, b.inited)
	}

	if err := c.ProcessBatch(context.Background(), records(minimalEvent("c1")), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.batches != 1 || b.batches != 1 {
		t.Fatalf("expected both children to process the batch, got %d %d", a.batches, b.batches)
	}
}

func TestCompoundProcessor_AddIsIdempotentByIdentity(t *testing.T) {
	c := NewCompoundProcessor()
	a := &fakeChild{}
	c.Add(a)
	c.Add(a)

	c.Init("shard-1")
	_ = c.ProcessBatch(context.Background(), records(minimalEvent("c1")), 0)
	if a.batches != 1 {
		t.Fatalf("expected a single child to process the batch exactly once, got %d", a.batches)
	}
}

func TestCompoundProcessor_OneChildFailureDoesNotStarveOthers(t *testing.T) {
	c := NewCompoundProcessor()
	failing, ok := &fakeChild{failBatch: true}, &fakeChild{}
	c.Add(failing)
	c.Add(ok)

	err := c.ProcessBatch(context.Background(), records(minimalEvent("c1")), 0)
	if err == nil {
		t.Fatalf("expected the first child's error to propagate")
	}
	if ok.batches != 1 {
		t.Fatalf("expected the second child to still run, got %d batches", ok.batches)
	}
}

func TestCompoundProcessor_ShutdownReachesAllChildren(t *testing.T) {
	c := NewCompoundProcessor()
	a, b := &fakeChild{}, &fakeChild{}
	c.Add(a)
	c.Add(b)

	if err := c.Shutdown(context.Background(), ShutdownZombie); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.shutdown != ShutdownZombie || b.shutdown != ShutdownZombie {
		t.Fatalf("expected both children shut down with the same reason")
	}
}

func TestCompoundProcessor_RemoveDropsChild(t *testing.T) {
	c := NewCompoundProcessor()
	a := &fakeChild{}
	c.Add(a)
	c.Remove(a)

	_ = c.ProcessBatch(context.Background(), records(minimalEvent("c1")), 0)
	if a.batches != 0 {
		t.Fatalf("expected removed child to not process, got %d batches", a.batches)
	}
}
