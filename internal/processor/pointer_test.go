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
	"testing"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
	"github.com/aws-samples/gameanalytics-pipeline/internal/checkpoint"
	"github.com/aws-samples/gameanalytics-pipeline/internal/streamclient"
)

func pointerRecordsFor(filenames ...string) []streamclient.Record {
	out := make([]streamclient.Record, len(filenames))
	for i, f := range filenames {
		out[i] = streamclient.Record{SequenceNumber: "S" + string(rune('1'+i)), Data: []byte(`{"filename":"` + f + `"}`)}
	}
	return out
}

func TestPointerRecordProcessor_BuffersWellFormedPointers(t *testing.T) {
	buf := buffer.New(buffer.Config{ByteLimit: 1 << 20, RecordLimit: 100})
	emitter := &fakeEmitter{}
	cp := checkpoint.NewInMemory()
	p := NewPointerRecordProcessor("warehouse", buf, emitter, cp, nil, nil, testRetry())
	p.sleep = noSleep
	p.Init("shard-1")

	if err := p.ProcessBatch(context.Background(), pointerRecordsFor("events/2017/10/24/18/S1-S2.gzip"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 1 {
		t.Fatalf("expected 1 buffered pointer, got %d", buf.Len())
	}
}

func TestPointerRecordProcessor_MalformedPointerIsRejectedNotBuffered(t *testing.T) {
	buf := buffer.New(buffer.Config{ByteLimit: 1 << 20, RecordLimit: 100})
	emitter := &fakeEmitter{}
	p := NewPointerRecordProcessor("warehouse", buf, emitter, checkpoint.NewInMemory(), nil, nil, testRetry())
	p.sleep = noSleep
	p.Init("shard-1")

	recs := []streamclient.Record{{SequenceNumber: "S1", Data: []byte(`{"filename":""}`)}}
	if err := p.ProcessBatch(context.Background(), recs, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty-filename pointer to be rejected, got %d buffered", buf.Len())
	}
}

func TestPointerRecordProcessor_FlushesOnRecordLimit(t *testing.T) {
	buf := buffer.New(buffer.Config{ByteLimit: 1 << 20, RecordLimit: 1})
	emitter := &fakeEmitter{}
	cp := checkpoint.NewInMemory()
	p := NewPointerRecordProcessor("warehouse", buf, emitter, cp, nil, nil, testRetry())
	p.sleep = noSleep
	p.Init("shard-1")

	if err := p.ProcessBatch(context.Background(), pointerRecordsFor("events/2017/10/24/18/S1-S2.gzip"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected buffer cleared after flush, got %d", buf.Len())
	}
	if len(emitter.emitted) != 1 {
		t.Fatalf("expected 1 flush to the emitter, got %d", len(emitter.emitted))
	}
	if v, ok := cp.Get("shard-1"); !ok || v != "S1" {
		t.Fatalf("expected checkpoint at S1, got %q ok=%v", v, ok)
	}
}

func TestPointerRecordProcessor_ShutdownTerminateFlushesRemaining(t *testing.T) {
	buf := buffer.New(buffer.Config{ByteLimit: 1 << 20, RecordLimit: 100})
	emitter := &fakeEmitter{}
	p := NewPointerRecordProcessor("warehouse", buf, emitter, checkpoint.NewInMemory(), nil, nil, testRetry())
	p.sleep = noSleep
	p.Init("shard-1")

	_ = p.ProcessBatch(context.Background(), pointerRecordsFor("events/2017/10/24/18/S1-S2.gzip"), 0)
	if err := p.Shutdown(context.Background(), ShutdownTerminate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State() != Terminated {
		t.Fatalf("expected Terminated, got %v", p.State())
	}
	if len(emitter.emitted) != 1 {
		t.Fatalf("expected shutdown to flush the pending pointer, got %d", len(emitter.emitted))
	}
}
