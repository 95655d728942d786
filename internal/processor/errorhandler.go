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

// ErrorRecord is the JSON shape emitted for a record that failed parsing,
// validation, or serialization, or that required sanitization.
type ErrorRecord struct {
	Reason string   `json:"reason"`
	JSON   string   `json:"json,omitempty"`
	Fields []string `json:"fields,omitempty"`
	Hex    string   `json:"hex,omitempty"`
}

// ErrorHandlerProcessor is the inverse of RecordProcessor: it only cares
// about records that failed validation/parsing/serialization, or that
// passed but required sanitization, and emits those for inspection.
type ErrorHandlerProcessor struct {
	Component    string
	Codec        *codec.EventCodec
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

// NewErrorHandlerProcessor builds an ErrorHandlerProcessor.
func NewErrorHandlerProcessor(component string, ec *codec.EventCodec, buf *buffer.Buffer, emitter emit.Emitter, checkpointer checkpoint.Checkpointer, sink *metrics.Sink, hc *health.Controller, retry RetryConfig) *ErrorHandlerProcessor {
	return &ErrorHandlerProcessor{
		Component: component, Codec: ec, Buffer: buf, Emitter: emitter,
		Checkpointer: checkpointer, Sink: sink, Health: hc, Retry: retry, sleep: time.Sleep,
	}
}

func (p *ErrorHandlerProcessor) Init(shardID string) {
	tlog.Info("[Shard %s] Initializing error handler processor", shardID)
	p.shardID = shardID
	p.state = Running
}

// ProcessBatch decodes each record and buffers an ErrorRecord only for the
// records that failed outright, or that decoded successfully but required
// sanitization.
func (p *ErrorHandlerProcessor) ProcessBatch(ctx context.Context, records []streamclient.Record, millisBehindLatest int64) error {
	var sanitizationErrors, validationErrors, parseErrors, serializationErrors, totalErrors int

	for _, r := range records {
		meta := codec.TransportMeta{ShardID: p.shardID, SequenceNumber: r.SequenceNumber, PartitionKey: r.PartitionKey}
		event, _, outcome, err := p.Codec.Decode(r.Data, meta, time.Now())

		var rec *ErrorRecord
		switch {
		case err == nil && outcome == codec.Success && event.RequiredSanitization:
			tlog.Info("[Shard %s] Event failed sanitization!", p.shardID)
			rec = &ErrorRecord{Reason: "SanitizationException", Fields: event.SanitizedFields, JSON: string(r.Data)}
			sanitizationErrors++
			totalErrors++
		case outcome == codec.ValidationErrorKind:
			rec = &ErrorRecord{Reason: "TelemetryEventValidationException", JSON: string(r.Data), Hex: codec.ToHex(r.Data)}
			validationErrors++
			totalErrors++
		case outcome == codec.SerializationErrorKind:
			rec = &ErrorRecord{Reason: "TelemetryEventSerializationException", JSON: string(r.Data), Hex: codec.ToHex(r.Data)}
			serializationErrors++
			totalErrors++
		case outcome == codec.ParseErrorKind:
			rec = &ErrorRecord{Reason: "TelemetryEventParseException", JSON: string(r.Data), Hex: codec.ToHex(r.Data)}
			parseErrors++
			totalErrors++
		}

		if rec == nil {
			continue
		}
		body, marshalErr := json.Marshal(rec)
		if marshalErr != nil {
			tlog.Error("[Shard %s] Failed to marshal error record: %v", p.shardID, marshalErr)
			continue
		}
		body = append(body, '\n')
		p.Buffer.Append(body, r.SequenceNumber, time.Now().UTC(), time.Now().UTC())
	}

	p.record("NumSanitizationErrors", float64(sanitizationErrors))
	p.record("NumValidationErrors", float64(validationErrors))
	p.record("NumParseErrors", float64(parseErrors))
	p.record("NumSerializationErrors", float64(serializationErrors))
	p.record("TotalErrors", float64(totalErrors))

	if p.Buffer.ShouldFlush() {
		return p.flushAndCheckpoint(ctx)
	}
	return nil
}

func (p *ErrorHandlerProcessor) flushAndCheckpoint(ctx context.Context) error {
	recs := p.Buffer.Records()
	failed := recs
	var err error
	for attempt := 1; attempt <= p.Retry.EmitRetryLimit; attempt++ {
		failed, err = p.Emitter.Emit(ctx, failed)
		if len(failed) == 0 {
			break
		}
		tlog.Warn("[Shard %s] Error emitting %d error records: %v", p.shardID, len(failed), err)
		p.backoffSleep()
	}
	if len(failed) > 0 {
		p.Emitter.Fail(failed)
	}

	lastSeq := p.Buffer.LastSequenceNumber()
	p.Buffer.Clear()

	if p.Checkpointer != nil {
		if cerr := p.Checkpointer.Checkpoint(ctx, p.shardID, lastSeq); cerr != nil {
			tlog.Error("[Shard %s] Failed to checkpoint after emit: %v", p.shardID, cerr)
			if p.Health != nil {
				p.Health.MarkUnhealthy()
			}
		} else if p.Health != nil {
			p.Health.MarkHealthy()
		}
	}
	return nil
}

func (p *ErrorHandlerProcessor) backoffSleep() {
	if p.sleep != nil {
		p.sleep(p.Retry.BaseDelay)
	}
}

func (p *ErrorHandlerProcessor) Shutdown(ctx context.Context, reason ShutdownReason) error {
	tlog.Info("[Shard %s] Shutting down error handler processor with reason %v", p.shardID, reason)
	switch reason {
	case ShutdownTerminate:
		p.state = Draining
		err := p.flushAndCheckpoint(ctx)
		p.state = Terminated
		if err != nil {
			return err
		}
	case ShutdownZombie:
		p.state = Zombie
	}
	return p.Emitter.Shutdown(ctx)
}

func (p *ErrorHandlerProcessor) State() State { return p.state }

func (p *ErrorHandlerProcessor) record(name string, value float64) {
	if p.Sink == nil {
		return
	}
	p.Sink.Record(name, metrics.Count, value, metrics.Dimensions{"Operation": "ProcessRecords", "Component": p.Component})
}
