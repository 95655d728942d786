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

package codec

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodeRaw(t *testing.T, c *EventCodec, raw string) (*TelemetryEvent, []byte, OutcomeKind, error) {
	t.Helper()
	serverTS := time.UnixMilli(1508872164000)
	return c.Decode([]byte(raw), TransportMeta{ShardID: "shard-0", SequenceNumber: "S1"}, serverTS)
}

func TestDecode_MinimalValidEvent(t *testing.T) {
	c := NewEventCodec(DefaultLimits())
	raw := `{"event_version":"1.0","app_name":"SampleGame","client_id":"d57faa2b-9bfd-4502-a7b7-a43cb365f8f2","event_id":"91650ce5-825a-4e90-ab22-174a4fb2da79","event_timestamp":1508872163135,"event_type":"test_event"}`

	ev, processed, kind, err := decodeRaw(t, c, raw)
	if err != nil || kind != Success {
		t.Fatalf("unexpected failure: kind=%v err=%v", kind, err)
	}
	if ev.RequiredSanitization {
		t.Fatalf("expected required_sanitization=false")
	}
	if !strings.HasSuffix(string(processed), "\n") {
		t.Fatalf("expected trailing newline, got %q", processed)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(processed, &out); err != nil {
		t.Fatalf("processed JSON did not parse: %v", err)
	}
	if out["server_timestamp"].(float64) != 1508872164000 {
		t.Fatalf("expected server_timestamp=1508872164000, got %v", out["server_timestamp"])
	}
	for _, key := range []string{"event_version", "app_name", "client_id", "event_id", "event_timestamp", "event_type"} {
		if _, ok := out[key]; !ok {
			t.Fatalf("expected processed JSON to retain key %q", key)
		}
	}
}

func TestDecode_MissingRequiredField(t *testing.T) {
	c := NewEventCodec(DefaultLimits())
	raw := `{"event_version":"1.0","app_name":"SampleGame","client_id":"d57faa2b-9bfd-4502-a7b7-a43cb365f8f2","event_id":"91650ce5-825a-4e90-ab22-174a4fb2da79","event_timestamp":1508872163135}`

	_, _, kind, err := decodeRaw(t, c, raw)
	if kind != ValidationErrorKind {
		t.Fatalf("expected ValidationErrorKind, got %v", kind)
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Field != "event_type" {
		t.Fatalf("expected ValidationError on event_type, got %v", err)
	}
}

func TestDecode_OverlongAppNameIsSanitized(t *testing.T) {
	c := NewEventCodec(DefaultLimits())
	longName := strings.Repeat("a", 100)
	raw := `{"event_version":"1.0","app_name":"` + longName + `","client_id":"c","event_id":"e","event_timestamp":1,"event_type":"t"}`

	ev, _, kind, err := decodeRaw(t, c, raw)
	if err != nil || kind != Success {
		t.Fatalf("unexpected failure: kind=%v err=%v", kind, err)
	}
	if len(ev.AppName) != 64 || ev.AppName != strings.Repeat("a", 64) {
		t.Fatalf("expected truncated app_name of length 64, got %d", len(ev.AppName))
	}
	if !ev.RequiredSanitization {
		t.Fatalf("expected required_sanitization=true")
	}
	found := false
	for _, f := range ev.SanitizedFields {
		if f == "app_name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sanitized_fields to contain app_name, got %v", ev.SanitizedFields)
	}
}

func TestDecode_CharsetViolationAfterTruncation(t *testing.T) {
	c := NewEventCodec(DefaultLimits())
	raw := `{"event_version":"1.0","app_name":"Sample*Game","client_id":"c","event_id":"e","event_timestamp":1,"event_type":"t"}`

	_, _, kind, err := decodeRaw(t, c, raw)
	if kind != ValidationErrorKind {
		t.Fatalf("expected ValidationErrorKind, got %v", kind)
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Field != "app_name" {
		t.Fatalf("expected ValidationError on app_name, got %v", err)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	c := NewEventCodec(DefaultLimits())
	longName := strings.Repeat("b", 200)
	raw := `{"event_version":"1.0","app_name":"` + longName + `","client_id":"c","event_id":"e","event_timestamp":-5,"event_type":"t","position_x":"not-a-number"}`

	tree, err := c.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	first, err := c.ValidateAndSanitize(tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Re-run sanitization against a tree built from the already-sanitized
	// values; the result must be identical (idempotent).
	again := map[string]interface{}{
		"event_version": first.EventVersion,
		"app_name":      first.AppName,
		"client_id":     first.ClientID,
		"event_id":      first.EventID,
		"event_type":    first.EventType,
		"event_timestamp": first.EventTimestamp,
	}
	second, err := c.ValidateAndSanitize(again)
	if err != nil {
		t.Fatalf("unexpected error on second pass: %v", err)
	}
	if second.RequiredSanitization {
		t.Fatalf("expected second pass to require no further sanitization, got fields=%v", second.SanitizedFields)
	}
	if second.AppName != first.AppName || second.EventTimestamp != first.EventTimestamp {
		t.Fatalf("sanitize was not idempotent: first=%+v second=%+v", first, second)
	}
}

func TestDecode_IntegerTimestampAsString(t *testing.T) {
	c := NewEventCodec(DefaultLimits())
	raw := `{"event_version":"1.0","app_name":"a","client_id":"c","event_id":"e","event_timestamp":"1508872163135","event_type":"t"}`

	ev, _, kind, err := decodeRaw(t, c, raw)
	if err != nil || kind != Success {
		t.Fatalf("unexpected failure: kind=%v err=%v", kind, err)
	}
	if ev.EventTimestamp != 1508872163135 {
		t.Fatalf("expected numeric string to parse, got %d", ev.EventTimestamp)
	}
}

func TestDecode_ParseError(t *testing.T) {
	c := NewEventCodec(DefaultLimits())
	_, _, kind, err := decodeRaw(t, c, `not json`)
	if kind != ParseErrorKind || err == nil {
		t.Fatalf("expected ParseErrorKind, got %v / %v", kind, err)
	}
}

func TestDecode_UnknownKeysPreserved(t *testing.T) {
	c := NewEventCodec(DefaultLimits())
	raw := `{"event_version":"1.0","app_name":"a","client_id":"c","event_id":"e","event_timestamp":1,"event_type":"t","custom_field":"keep-me"}`

	_, processed, kind, err := decodeRaw(t, c, raw)
	if err != nil || kind != Success {
		t.Fatalf("unexpected failure: kind=%v err=%v", kind, err)
	}
	var out map[string]interface{}
	json.Unmarshal(processed, &out)
	if out["custom_field"] != "keep-me" {
		t.Fatalf("expected unknown key to be preserved, got %v", out["custom_field"])
	}
}
