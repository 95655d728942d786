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

// Package buffer implements the time-and-size-bounded in-memory record
// buffer shared by every RecordProcessor.
package buffer

import (
	"sync/atomic"
	"time"
)

// Record is one buffered, already-processed payload plus the transport
// metadata needed to derive an archival object key from the batch.
type Record struct {
	Payload   []byte
	Seq       string
	EventTS   time.Time
	ArrivalTS time.Time
}

// Config bounds when a Buffer reports itself ready to flush.
type Config struct {
	ByteLimit   int64
	RecordLimit int64
	AgeLimit    time.Duration
}

// Buffer accumulates records and reports flush readiness by bytes, count,
// or age. It is not safe for concurrent use: each shard owns exactly one
// Buffer, exactly as its one processor goroutine owns it.
type Buffer struct {
	cfg Config

	records []Record
	byteCount int64

	firstSequenceNumber string
	lastSequenceNumber  string
	firstTimestamp      time.Time
	hasFirstTimestamp   bool

	lastFlushTime time.Time
	now           func() time.Time
}

// New builds an empty Buffer bound by cfg.
func New(cfg Config) *Buffer {
	return &Buffer{cfg: cfg, now: time.Now, lastFlushTime: time.Now()}
}

// Append adds record to the buffer. On an empty buffer, the flush clock and
// first-sequence-number bookkeeping are reset before the record is added.
func (b *Buffer) Append(payload []byte, seq string, eventTS, arrivalTS time.Time) {
	if len(b.records) == 0 {
		b.resetStats()
		b.firstSequenceNumber = seq
		b.firstTimestamp = arrivalTS
		b.hasFirstTimestamp = true
	}
	b.lastSequenceNumber = seq
	b.records = append(b.records, Record{Payload: payload, Seq: seq, EventTS: eventTS, ArrivalTS: arrivalTS})
	atomic.AddInt64(&b.byteCount, int64(len(payload)))
}

// ShouldFlush reports whether the buffer has crossed any configured bound.
// It is always false on an empty buffer.
func (b *Buffer) ShouldFlush() bool {
	if len(b.records) == 0 {
		return false
	}
	if int64(len(b.records)) >= b.cfg.RecordLimit {
		return true
	}
	if atomic.LoadInt64(&b.byteCount) >= b.cfg.ByteLimit {
		return true
	}
	if b.cfg.AgeLimit > 0 && b.now().Sub(b.lastFlushTime) >= b.cfg.AgeLimit {
		return true
	}
	return false
}

// Records returns the buffered records in insertion order. The returned
// slice aliases the buffer's internal storage and must not be retained past
// the next Clear.
func (b *Buffer) Records() []Record { return b.records }

// ByteCount returns the number of bytes accumulated since the last Clear.
func (b *Buffer) ByteCount() int64 { return atomic.LoadInt64(&b.byteCount) }

// FirstSequenceNumber returns the sequence number of the oldest buffered
// record, or "" if the buffer is empty.
func (b *Buffer) FirstSequenceNumber() string { return b.firstSequenceNumber }

// LastSequenceNumber returns the sequence number of the newest buffered
// record, or "" if the buffer is empty.
func (b *Buffer) LastSequenceNumber() string { return b.lastSequenceNumber }

// FirstTimestamp returns the arrival timestamp of the oldest buffered
// record. ok is false if the buffer is empty.
func (b *Buffer) FirstTimestamp() (time.Time, bool) { return b.firstTimestamp, b.hasFirstTimestamp }

// Clear empties the buffer and resets all bookkeeping, including the flush
// clock. ShouldFlush is guaranteed false immediately after Clear.
func (b *Buffer) Clear() {
	b.records = nil
	b.resetStats()
}

func (b *Buffer) resetStats() {
	atomic.StoreInt64(&b.byteCount, 0)
	b.lastFlushTime = b.now()
	b.firstSequenceNumber = ""
	b.lastSequenceNumber = ""
	b.hasFirstTimestamp = false
	b.firstTimestamp = time.Time{}
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int { return len(b.records) }

// SetClock overrides the time source; used only by tests.
func (b *Buffer) SetClock(now func() time.Time) {
	b.now = now
	b.lastFlushTime = now()
}
