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

// Package processor implements the per-shard record processing state
// machine: it decodes incoming stream records, buffers them, flushes
// through an emitter on a byte/count/age policy, and checkpoints progress.
package processor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
	"github.com/aws-samples/gameanalytics-pipeline/internal/checkpoint"
	"github.com/aws-samples/gameanalytics-pipeline/internal/codec"
	"github.com/aws-samples/gameanalytics-pipeline/internal/emit"
	"github.com/aws-samples/gameanalytics-pipeline/internal/health"
	"github.com/aws-samples/gameanalytics-pipeline/internal/metrics"
	"github.com/aws-samples/gameanalytics-pipeline/internal/streamclient"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
)

// State is a processor's position in its lifecycle.
type State int

const (
	Init State = iota
	Running
	Draining
	Terminated
	Abandoned
	Zombie
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Terminated:
		return "Terminated"
	case Abandoned:
		return "Abandoned"
	case Zombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// ShutdownReason mirrors the two ways ownership of a shard can end.
type ShutdownReason int

const (
	ShutdownTerminate ShutdownReason = iota
	ShutdownZombie
)

// Processor is the common surface every shard-level and compound processor
// implements.
type Processor interface {
	Init(shardID string)
	ProcessBatch(ctx context.Context, records []streamclient.Record, millisBehindLatest int64) error
	Shutdown(ctx context.Context, reason ShutdownReason) error
}

// RetryConfig bounds the exponential backoff applied to both emit and
// checkpoint attempts: delay(attempt) = base * 2^(attempt-1), capped by
// never exceeding base * 2^(limit-1).
type RetryConfig struct {
	EmitRetryLimit       int
	CheckpointRetryLimit int
	BaseDelay            time.Duration
}

// DefaultRetryConfig matches the source system's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{EmitRetryLimit: 3, CheckpointRetryLimit: 3, BaseDelay: 100 * time.Millisecond}
}

// RecordProcessor decodes events for one shard, buffers them, and flushes
// through an Emitter on the buffer's own flush policy.
type RecordProcessor struct {
	Component     string
	Codec         *codec.EventCodec
	Buffer        *buffer.Buffer
	Emitter       emit.Emitter
	Checkpointer  checkpoint.Checkpointer
	Sink          *metrics.Sink
	Health        *health.Controller
	Retry         RetryConfig
	EmitShardTags bool

	shardID string
	state   State
	sleep   func(time.Duration)
}

// NewRecordProcessor builds a RecordProcessor. Call Init before processing.
func NewRecordProcessor(component string, ec *codec.EventCodec, buf *buffer.Buffer, emitter emit.Emitter, checkpointer checkpoint.Checkpointer, sink *metrics.Sink, hc *health.Controller, retry RetryConfig) *RecordProcessor {
	return &RecordProcessor{
		Component:    component,
		Codec:        ec,
		Buffer:       buf,
		Emitter:      emitter,
		Checkpointer: checkpointer,
		Sink:         sink,
		Health:       hc,
		Retry:        retry,
		sleep:        time.Sleep,
	}
}

// Init binds the processor to a shard and moves it to Running.
func (p *RecordProcessor) Init(shardID string) {
	tlog.Info("[Shard %s] Initializing processor", shardID)
	p.shardID = shardID
	p.state = Running
}

// ProcessBatch decodes each record, appends successes to the buffer, and
// flushes if the buffer's policy says it's time.
func (p *RecordProcessor) ProcessBatch(ctx context.Context, records []streamclient.Record, millisBehindLatest int64) error {
	if len(records) > 0 {
		p.record("NumRecordsReceived", metrics.Count, float64(len(records)))
		p.record("MillisBehindLatest", metrics.Milliseconds, float64(millisBehindLatest))
	}

	var success, parseFailures, otherFailures int
	for _, r := range records {
		meta := codec.TransportMeta{ShardID: p.shardID, SequenceNumber: r.SequenceNumber, PartitionKey: r.PartitionKey}
		event, serialized, outcome, err := p.Codec.Decode(r.Data, meta, time.Now())
		if err != nil || outcome != codec.Success {
			if outcome == codec.ParseErrorKind {
				parseFailures++
			} else {
				otherFailures++
			}
			tlog.Error("[Shard %s] Failed to process record %s: %v", p.shardID, r.SequenceNumber, err)
			continue
		}
		success++
		eventTS := time.UnixMilli(event.EventTimestamp).UTC()
		p.Buffer.Append(serialized, r.SequenceNumber, eventTS, time.Now().UTC())
	}

	p.record("ProcessRecord.Success", metrics.Count, float64(success))
	p.record("ParseRecord.Failure", metrics.Count, float64(parseFailures))
	p.record("ProcessRecord.Failure", metrics.Count, float64(otherFailures))

	if p.Buffer.ShouldFlush() {
		return p.FlushAndCheckpoint(ctx)
	}
	return nil
}

// FlushAndCheckpoint emits the current buffer contents with exponential
// backoff retries, clears the buffer, and checkpoints the last sequence
// number consumed, also with retries.
func (p *RecordProcessor) FlushAndCheckpoint(ctx context.Context) error {
	recs := p.Buffer.Records()
	tlog.Info("[Shard %s] Flushing %d items to destination.", p.shardID, len(recs))

	failed := recs
	var err error
	for attempt := 1; attempt <= p.Retry.EmitRetryLimit; attempt++ {
		failed, err = p.Emitter.Emit(ctx, failed)
		if len(failed) == 0 {
			if attempt > 1 {
				tlog.Info("[Shard %s] Emit successful after retry (%d)", p.shardID, attempt)
			}
			break
		}
		tlog.Warn("[Shard %s] Error emitting %d items: %v. Retrying with exponential backoff...", p.shardID, len(failed), err)
		p.backoffSleep(attempt, p.Retry.EmitRetryLimit)
	}

	if len(failed) > 0 {
		tlog.Error("[Shard %s] Error emitting %d items after %d attempts.", p.shardID, len(failed), p.Retry.EmitRetryLimit)
		p.Emitter.Fail(failed)
	}
	p.record("NumFailedRecords", metrics.Count, float64(len(failed)))

	lastSeq := p.Buffer.LastSequenceNumber()
	p.Buffer.Clear()

	if p.Checkpointer != nil {
		p.checkpointWithBackoff(ctx, lastSeq)
	}
	return nil
}

func (p *RecordProcessor) checkpointWithBackoff(ctx context.Context, sequenceNumber string) {
	for attempt := 1; attempt <= p.Retry.CheckpointRetryLimit; attempt++ {
		tlog.Info("[Shard %s] Checkpointing at sequence #%s...", p.shardID, sequenceNumber)
		if err := p.Checkpointer.Checkpoint(ctx, p.shardID, sequenceNumber); err == nil {
			tlog.Info("[Shard %s] Checkpoint complete.", p.shardID)
			if p.Health != nil {
				p.Health.MarkHealthy()
			}
			return
		} else {
			tlog.Warn("[Shard %s] Checkpoint exception: %v. Trying exponential backoff...", p.shardID, err)
			p.backoffSleep(attempt, p.Retry.CheckpointRetryLimit)
		}
	}

	tlog.Error("[Shard %s] Unable to checkpoint!", p.shardID)
	if p.Health != nil {
		p.Health.MarkUnhealthy()
	}
}

func (p *RecordProcessor) backoffSleep(attempt, limit int) {
	if p.sleep == nil {
		return
	}
	// attempt never exceeds limit, so the delay stays within base * 2^(limit-1).
	p.sleep(backoffDelay(p.Retry.BaseDelay, attempt-1))
}

// backoffDelay returns base * 2^exp.
func backoffDelay(base time.Duration, exp int) time.Duration {
	return base * time.Duration(math.Pow(2, float64(exp)))
}

// Shutdown flushes and checkpoints on a graceful TERMINATE; a ZOMBIE
// shutdown means another worker already owns the shard, so no further
// checkpoint can succeed and the processor simply stops.
func (p *RecordProcessor) Shutdown(ctx context.Context, reason ShutdownReason) error {
	tlog.Info("[Shard %s] Shutting down record processor with reason %v", p.shardID, reason)
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

// State reports the processor's current lifecycle position.
func (p *RecordProcessor) State() State { return p.state }

func (p *RecordProcessor) record(name string, unit metrics.Unit, value float64) {
	if p.Sink == nil {
		return
	}
	dims := metrics.Dimensions{"Operation": "ProcessRecords", "Component": p.Component}
	p.Sink.Record(name, unit, value, dims)
	if p.EmitShardTags {
		p.Sink.Record(name, unit, value, metrics.Dimensions{"ShardId": p.shardID, "Operation": "ProcessRecords", "Component": p.Component})
	}
}
