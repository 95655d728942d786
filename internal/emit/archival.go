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
	"bytes"
	"compress/gzip"
	"context"
	"time"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
	"github.com/aws-samples/gameanalytics-pipeline/internal/metrics"
	"github.com/aws-samples/gameanalytics-pipeline/internal/objectstore"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
)

// ArchivalConfig configures one ArchivalEmitter instance.
type ArchivalConfig struct {
	Bucket     string
	PathPrefix string
	Gzip       bool
	Component  string
}

// ArchivalEmitter concatenates a buffer snapshot in insertion order,
// optionally gzips it, and PUTs the result as a single object keyed by the
// batch's sequence-number range.
type ArchivalEmitter struct {
	cfg   ArchivalConfig
	store objectstore.Store
	sink  *metrics.Sink
}

// NewArchivalEmitter builds an ArchivalEmitter against store.
func NewArchivalEmitter(store objectstore.Store, sink *metrics.Sink, cfg ArchivalConfig) *ArchivalEmitter {
	return &ArchivalEmitter{cfg: cfg, store: store, sink: sink}
}

// Emit concatenates and optionally compresses records, then PUTs them as a
// single object. On any failure the entire batch is returned unmodified
// (all-or-nothing): a partial archival object would be worse than none.
func (e *ArchivalEmitter) Emit(ctx context.Context, records []buffer.Record) ([]buffer.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	start := time.Now()

	payload, err := e.concatenate(records)
	e.recordTiming("FileCompressTime", time.Since(start))
	if err != nil {
		tlog.Warn("archival emit: compress failed for shard batch starting at %s: %v", records[0].Seq, err)
		e.recordAvailability(false)
		return records, err
	}

	key := e.Key(records)
	putStart := time.Now()
	if err := e.store.Put(ctx, e.cfg.Bucket, key, payload); err != nil {
		e.recordTiming("ObjectUploadTime", time.Since(putStart))
		e.recordAvailability(false)
		return records, err
	}
	e.recordTiming("ObjectUploadTime", time.Since(putStart))
	e.recordAvailability(true)
	return nil, nil
}

// Key computes the archival object key for records, using the first
// record's arrival timestamp (falling back to the current time if somehow
// unset) as the calendar path.
func (e *ArchivalEmitter) Key(records []buffer.Record) string {
	ts := time.Now().UTC()
	if len(records) > 0 && !records[0].ArrivalTS.IsZero() {
		ts = records[0].ArrivalTS
	}
	first := records[0].Seq
	last := records[len(records)-1].Seq
	return ObjectPath(e.cfg.PathPrefix, ts, first, last, e.cfg.Gzip)
}

func (e *ArchivalEmitter) concatenate(records []buffer.Record) ([]byte, error) {
	var buf bytes.Buffer
	if !e.cfg.Gzip {
		for _, r := range records {
			buf.Write(r.Payload)
		}
		return buf.Bytes(), nil
	}

	gz := gzip.NewWriter(&buf)
	for _, r := range records {
		if _, err := gz.Write(r.Payload); err != nil {
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *ArchivalEmitter) Fail(records []buffer.Record) {
	tlog.Error("archival emit: %d records permanently failed for component %s", len(records), e.cfg.Component)
}

func (e *ArchivalEmitter) Shutdown(ctx context.Context) error { return nil }

func (e *ArchivalEmitter) recordTiming(name string, d time.Duration) {
	if e.sink == nil {
		return
	}
	e.sink.Record(name, metrics.Milliseconds, float64(d.Milliseconds()), metrics.Dimensions{"component": e.cfg.Component})
}

func (e *ArchivalEmitter) recordAvailability(ok bool) {
	if e.sink == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1.0
	}
	e.sink.Record("UploadAvailability", metrics.Count, v, metrics.Dimensions{"component": e.cfg.Component})
	e.sink.Record("EmitAvailability", metrics.Count, v, metrics.Dimensions{"component": e.cfg.Component})
}
