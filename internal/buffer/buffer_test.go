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

package buffer

import (
	"testing"
	"time"
)

func TestBuffer_FlushByCount(t *testing.T) {
	b := New(Config{RecordLimit: 3, ByteLimit: 1 << 40, AgeLimit: time.Hour * 24 * 365})
	now := time.Now()

	for i := 0; i < 3; i++ {
		b.Append(make([]byte, 10), "seq-"+string(rune('0'+i)), now, now)
	}
	if !b.ShouldFlush() {
		t.Fatalf("expected ShouldFlush()==true after reaching record limit")
	}
	if b.FirstSequenceNumber() != "seq-0" {
		t.Fatalf("expected first sequence number seq-0, got %s", b.FirstSequenceNumber())
	}
	b.Clear()
	if b.ShouldFlush() {
		t.Fatalf("expected ShouldFlush()==false immediately after Clear")
	}
}

func TestBuffer_ClearResetsAllFields(t *testing.T) {
	b := New(Config{RecordLimit: 1000, ByteLimit: 1000, AgeLimit: time.Hour})
	now := time.Now()
	b.Append([]byte("x"), "s1", now, now)
	b.Append([]byte("y"), "s2", now, now)
	b.Clear()

	if b.ByteCount() != 0 {
		t.Fatalf("expected byte_count=0, got %d", b.ByteCount())
	}
	if b.FirstSequenceNumber() != "" || b.LastSequenceNumber() != "" {
		t.Fatalf("expected sequence numbers reset, got first=%q last=%q", b.FirstSequenceNumber(), b.LastSequenceNumber())
	}
	if _, ok := b.FirstTimestamp(); ok {
		t.Fatalf("expected first timestamp unset after Clear")
	}
}

func TestBuffer_EmptyNeverFlushes(t *testing.T) {
	b := New(Config{RecordLimit: 0, ByteLimit: 0, AgeLimit: 0})
	if b.ShouldFlush() {
		t.Fatalf("expected empty buffer to never report ShouldFlush, even with zero limits")
	}
}

func TestBuffer_FlushByAge(t *testing.T) {
	b := New(Config{RecordLimit: 1000, ByteLimit: 1 << 40, AgeLimit: 10 * time.Millisecond})
	base := time.Now()
	clock := base
	b.SetClock(func() time.Time { return clock })

	b.Append([]byte("x"), "s1", base, base)
	if b.ShouldFlush() {
		t.Fatalf("expected no flush immediately after append")
	}
	clock = base.Add(20 * time.Millisecond)
	if !b.ShouldFlush() {
		t.Fatalf("expected flush once age limit elapsed")
	}
}

func TestBuffer_FlushByBytes(t *testing.T) {
	b := New(Config{RecordLimit: 1000, ByteLimit: 15, AgeLimit: time.Hour})
	now := time.Now()
	b.Append(make([]byte, 10), "s1", now, now)
	if b.ShouldFlush() {
		t.Fatalf("expected no flush below byte limit")
	}
	b.Append(make([]byte, 10), "s2", now, now)
	if !b.ShouldFlush() {
		t.Fatalf("expected flush once byte limit crossed")
	}
}

func TestBuffer_AppendResetsStatsOnEmptyToNonEmptyTransition(t *testing.T) {
	b := New(Config{RecordLimit: 2, ByteLimit: 1 << 40, AgeLimit: time.Hour})
	now := time.Now()
	b.Append([]byte("a"), "s1", now, now)
	b.Append([]byte("b"), "s2", now, now)
	b.Clear()

	later := now.Add(time.Second)
	b.Append([]byte("c"), "s3", later, later)
	if b.FirstSequenceNumber() != "s3" {
		t.Fatalf("expected new first sequence number s3 after clear+append, got %s", b.FirstSequenceNumber())
	}
	ts, ok := b.FirstTimestamp()
	if !ok || !ts.Equal(later) {
		t.Fatalf("expected first timestamp reset to the new record's arrival time")
	}
}
