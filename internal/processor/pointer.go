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
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
	"github.com/aws-samples/gameanalytics-pipeline/internal/checkpoint"
	"github.com/aws-samples/gameanalytics-pipeline/internal/emit"
	"github.com/aws-samples/gameanalytics-pipeline/internal/health"
	"github.com/aws-samples/gameanalytics-pipeline/internal/metrics"
	"github.com/aws-samples/gameanalytics-pipeline/internal/streamclient"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
)

// pointerEvent mirrors emit.ObjectPointerEvent's wire shape; the only field
// this processor cares about is presence of a non-empty filename.
type pointerEvent struct {
	Filename string `json:"filename"`
}

// PointerRecordProcessor is the warehouse-side counterpart to
// RecordProcessor: it reads the archival-pointer stream, buffers each
// pointer's raw bytes verbatim (no telemetry-event validation — a pointer
// record is just a filename), and flushes through a ManifestEmitter.
type PointerRecordProcessor struct {
	Component    string
	Buffer       *buffer.Buffer
	Emitter      emit.Emitter
	Checkpointer checkpoint.Checkpointer
	Sink         *metrics.Sink
	Health       *health.Controller
	Retry        RetryConfig

	shardID string
	state   State
	sleep   func(time.Duration)
}

// NewPointerRecordProcessor builds a PointerRecordProcessor.
func NewPointerRecordProcessor(component string, buf *buffer.Buffer, emitter emit.Emitter, checkpointer checkpoint.Checkpointer, sink *metrics.Sink, hc *health.Controller, retry RetryConfig) *PointerRecordProcessor {
	return &PointerRecordProcessor{
		Component: component, Buffer: buf, Emitter: emitter,
		Checkpointer: checkpointer, Sink: sink, Health: hc, Retry: retry, sleep: time.Sleep,
	}
}

func (p *PointerRecordProcessor) Init(shardID string) {
	tlog.Info("[Shard %s] Initializing pointer processor", shardID)
	p.shardID = shardID
	p.state = Running
}

// ProcessBatch validates only that each record is well-formed pointer JSON
// with a non-empty filename, then buffers the raw bytes unchanged.
func (p *PointerRecordProcessor) ProcessBatch(ctx context.Context, records []streamclient.Record, millisBehindLatest int64) error {
	var accepted, rejected int
	for _, r := range records {
		var ev pointerEvent
		if err := json.Unmarshal(r.Data, &ev); err != nil || ev.Filename == "" {
			rejected++
			tlog.Error("[Shard %s] Malformed pointer record %s: %v", p.shardID, r.SequenceNumber, err)
			continue
		}
		accepted++
		now := time.Now().UTC()
		p.Buffer.Append(r.Data, r.SequenceNumber, now, now)
	}
	p.record("NumRecordsReceived", float64(accepted+rejected))
	p.record("NumMalformedPointers", float64(rejected))

	if p.Buffer.ShouldFlush() {
		return p.FlushAndCheckpoint(ctx)
	}
	return nil
}

// FlushAndCheckpoint mirrors RecordProcessor.FlushAndCheckpoint's
// retry/backoff shape against the configured Emitter (a ManifestEmitter in
// production use).
func (p *PointerRecordProcessor) FlushAndCheckpoint(ctx context.Context) error {
	recs := p.Buffer.Records()
	tlog.Info("[Shard %s] Flushing %d pointers to warehouse.", p.shardID, len(recs))

	failed := recs
	var err error
	for attempt := 1; attempt <= p.Retry.EmitRetryLimit; attempt++ {
		failed, err = p.Emitter.Emit(ctx, failed)
		if len(failed) == 0 {
			break
		}
		tlog.Warn("[Shard %s] Error loading %d pointers: %v. Retrying with backoff...", p.shardID, len(failed), err)
		p.backoffSleep(attempt, p.Retry.EmitRetryLimit)
	}
	if len(failed) > 0 {
		tlog.Error("[Shard %s] Error loading %d pointers after %d attempts.", p.shardID, len(failed), p.Retry.EmitRetryLimit)
		p.Emitter.Fail(failed)
	}
	p.record("NumFailedRecords", float64(len(failed)))

	lastSeq := p.Buffer.LastSequenceNumber()
	p.Buffer.Clear()

	if p.Checkpointer != nil {
		p.checkpointWithBackoff(ctx, lastSeq)
	}
	return nil
}

func (p *PointerRecordProcessor) checkpointWithBackoff(ctx context.Context, sequenceNumber string) {
	for attempt := 1; attempt <= p.Retry.CheckpointRetryLimit; attempt++ {
		if err := p.Checkpointer.Checkpoint(ctx, p.shardID, sequenceNumber); err == nil {
			if p.Health != nil {
				p.Health.MarkHealthy()
			}
			return
		} else {
			tlog.Warn("[Shard %s] Checkpoint exception: %v. Trying backoff...", p.shardID, err)
			p.backoffSleep(attempt, p.Retry.CheckpointRetryLimit)
		}
	}
	tlog.Error("[Shard %s] Unable to checkpoint!", p.shardID)
	if p.Health != nil {
		p.Health.MarkUnhealthy()
	}
}

func (p *PointerRecordProcessor) backoffSleep(attempt, limit int) {
	if p.sleep == nil {
		return
	}
	p.sleep(backoffDelay(p.Retry.BaseDelay, attempt-1))
}

func (p *PointerRecordProcessor) Shutdown(ctx context.Context, reason ShutdownReason) error {
	tlog.Info("[Shard %s] Shutting down pointer processor with reason %v", p.shardID, reason)
	switch reason {
	case ShutdownTerminate:
		p.state = Draining
		err := p.FlushAndCheckpoint(ctx)
		p.state = Terminated
		if err != nil {
			return err
		}
	case ShutdownZombie:
		p.state = Zombie
	default:
		return fmt.Errorf("processor: invalid shutdown reason %v", reason)
	}
	return p.Emitter.Shutdown(ctx)
}

func (p *PointerRecordProcessor) State() State { return p.state }

func (p *PointerRecordProcessor) record(name string, value float64) {
	if p.Sink == nil {
		return
	}
	p.Sink.Record(name, metrics.Count, value, metrics.Dimensions{"Operation": "ProcessRecords", "Component": p.Component})
}
