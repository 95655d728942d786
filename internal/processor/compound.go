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

	"github.com/aws-samples/gameanalytics-pipeline/internal/streamclient"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
)

// CompoundProcessor runs multiple child processors as one, useful for
// multiplexing several responsibilities (e.g. archival and error handling)
// onto a single shard worker to save on compute cost.
type CompoundProcessor struct {
	children []Processor
}

// NewCompoundProcessor builds an empty CompoundProcessor; add children with
// Add before Init is called.
func NewCompoundProcessor() *CompoundProcessor {
	return &CompoundProcessor{}
}

// Add appends a child processor. Children run in the order added. This is
// a no-op if the processor has already been added (identity comparison).
func (c *CompoundProcessor) Add(p Processor) {
	for _, existing := range c.children {
		if existing == p {
			return
		}
	}
	tlog.Info("Adding child processor %T", p)
	c.children = append(c.children, p)
}

// Remove drops a previously-added child processor. This is a no-op if the
// processor was never added.
func (c *CompoundProcessor) Remove(p Processor) {
	for i, existing := range c.children {
		if existing == p {
			tlog.Info("Removing child processor %T", p)
			c.children = append(c.children[:i], c.children[i+1:]...)
			return
		}
	}
}

// Init initializes every child processor.
func (c *CompoundProcessor) Init(shardID string) {
	for _, p := range c.children {
		p.Init(shardID)
	}
}

// ProcessBatch hands the same batch to every child processor in order,
// returning the first error encountered but still running the remaining
// children so a failure in one does not starve the others.
func (c *CompoundProcessor) ProcessBatch(ctx context.Context, records []streamclient.Record, millisBehindLatest int64) error {
	var firstErr error
	for _, p := range c.children {
		if err := p.ProcessBatch(ctx, records, millisBehindLatest); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown shuts down every child processor.
func (c *CompoundProcessor) Shutdown(ctx context.Context, reason ShutdownReason) error {
	var firstErr error
	for _, p := range c.children {
		if err := p.Shutdown(ctx, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
