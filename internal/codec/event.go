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

// Package codec parses, validates, sanitizes, and re-serializes raw
// telemetry JSON into a TelemetryEvent plus its processed JSON form.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// charsetPattern is the allowed character set for every validated string
// field: letters, digits, hyphen, underscore, period and space.
var charsetPattern = regexp.MustCompile(`^[-A-Za-z0-9_. ]*$`)

// Limits holds the configurable maximum length for each string field.
// Defaults match the source system's field lengths.
type Limits struct {
	AppName      int
	AppVersion   int
	EventVersion int
	EventID      int
	EventType    int
	ClientID     int
	LevelID      int
}

// DefaultLimits returns the out-of-the-box field length limits.
func DefaultLimits() Limits {
	return Limits{
		AppName:      64,
		AppVersion:   64,
		EventVersion: 64,
		EventID:      36,
		EventType:    256,
		ClientID:     36,
		LevelID:      64,
	}
}

// TelemetryEvent is the decoded, validated, sanitized logical record.
type TelemetryEvent struct {
	EventVersion   string
	AppName        string
	ClientID       string
	EventID        string
	EventType      string
	EventTimestamp int64

	AppVersion string
	LevelID    string

	HasPositionX bool
	PositionX    float64
	HasPositionY bool
	PositionY    float64

	ShardID         string
	SequenceNumber  string
	PartitionKey    string
	ServerTimestamp int64

	RequiredSanitization bool
	SanitizedFields      []string
}

// TransportMeta carries the fields attached by the stream transport, not
// present in the client-sent JSON payload.
type TransportMeta struct {
	ShardID        string
	SequenceNumber string
	PartitionKey   string
}

// OutcomeKind classifies the result of Decode for counter purposes.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	ParseErrorKind
	ValidationErrorKind
	SerializationErrorKind
)

// ParseError reports that the raw input was not valid JSON.
type ParseError struct{ Err error }

func (e *ParseError) Error() string { return fmt.Sprintf("codec: parse error: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a missing required field or a character-set
// violation, surfaced after truncation has already been applied.
type ValidationError struct {
	Field string
	Raw   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("codec: validation error on field %q", e.Field)
}

// SerializationError reports that the enriched tree could not be
// re-serialized to JSON.
type SerializationError struct{ Err error }

func (e *SerializationError) Error() string {
	return fmt.Sprintf("codec: serialization error: %v", e.Err)
}
func (e *SerializationError) Unwrap() error { return e.Err }

// EventCodec decodes raw telemetry JSON using a fixed set of field limits.
type EventCodec struct {
	Limits Limits
}

// NewEventCodec builds a codec with the given limits.
func NewEventCodec(limits Limits) *EventCodec {
	return &EventCodec{Limits: limits}
}

// Decode runs the full parse -> validate/sanitize -> enrich -> serialize
// pipeline. On success it returns the decoded event and the enriched,
// newline-terminated processed JSON. On failure it returns a *ParseError,
// *ValidationError, or *SerializationError.
func (c *EventCodec) Decode(raw []byte, meta TransportMeta, serverTimestamp time.Time) (*TelemetryEvent, []byte, OutcomeKind, error) {
	tree, err := c.Parse(raw)
	if err != nil {
		return nil, nil, ParseErrorKind, err
	}

	ev, err := c.ValidateAndSanitize(tree)
	if err != nil {
		return nil, nil, ValidationErrorKind, err
	}
	ev.ShardID = meta.ShardID
	ev.SequenceNumber = meta.SequenceNumber
	ev.PartitionKey = meta.PartitionKey

	serverTS := serverTimestamp.UnixMilli()
	c.Enrich(tree, serverTS)
	ev.ServerTimestamp = serverTS

	processed, err := c.Serialize(tree)
	if err != nil {
		return nil, nil, SerializationErrorKind, &SerializationError{Err: err}
	}
	return ev, processed, Success, nil
}

// Parse decodes raw bytes into a generic JSON tree, preserving unknown keys
// and using json.Number so integer timestamps are not subject to float64
// precision loss.
func (c *EventCodec) Parse(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree map[string]interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, &ParseError{Err: err}
	}
	if tree == nil {
		return nil, &ParseError{Err: fmt.Errorf("empty JSON body")}
	}
	return tree, nil
}

// ValidateAndSanitize walks the fixed set of known fields, truncating
// overlong strings and defaulting malformed numbers, flagging each touched
// field, and validating the (possibly truncated) result's character set.
// It fails fast on the first missing-required or charset-invalid field.
func (c *EventCodec) ValidateAndSanitize(tree map[string]interface{}) (*TelemetryEvent, error) {
	ev := &TelemetryEvent{}
	var sanitized []string

	str := func(field string, maxLen int, required bool) (string, error) {
		v, truncated, err := c.sanitizeString(tree, field, maxLen, required)
		if err != nil {
			return "", err
		}
		if truncated {
			sanitized = append(sanitized, field)
		}
		return v, nil
	}

	var err error
	if ev.EventVersion, err = str("event_version", c.Limits.EventVersion, true); err != nil {
		return nil, err
	}
	if ev.AppName, err = str("app_name", c.Limits.AppName, true); err != nil {
		return nil, err
	}
	if ev.ClientID, err = str("client_id", c.Limits.ClientID, true); err != nil {
		return nil, err
	}
	if ev.EventID, err = str("event_id", c.Limits.EventID, true); err != nil {
		return nil, err
	}
	if ev.EventType, err = str("event_type", c.Limits.EventType, true); err != nil {
		return nil, err
	}
	if ev.AppVersion, err = str("app_version", c.Limits.AppVersion, false); err != nil {
		return nil, err
	}
	if ev.LevelID, err = str("level_id", c.Limits.LevelID, false); err != nil {
		return nil, err
	}

	ts, tsSanitized, tsErr := c.sanitizeTimestamp(tree, "event_timestamp", true)
	if tsErr != nil {
		return nil, tsErr
	}
	if tsSanitized {
		sanitized = append(sanitized, "event_timestamp")
	}
	ev.EventTimestamp = ts

	if x, present, flagged := c.sanitizeDouble(tree, "position_x"); present {
		ev.HasPositionX = true
		ev.PositionX = x
		if flagged {
			sanitized = append(sanitized, "position_x")
		}
	}
	if y, present, flagged := c.sanitizeDouble(tree, "position_y"); present {
		ev.HasPositionY = true
		ev.PositionY = y
		if flagged {
			sanitized = append(sanitized, "position_y")
		}
	}

	if len(sanitized) > 0 {
		ev.RequiredSanitization = true
		ev.SanitizedFields = sanitized
	}
	return ev, nil
}

// sanitizeString truncates an overlong value to maxLen, then validates the
// (possibly truncated) value's character set. Character-set validation
// always runs after truncation, never before.
func (c *EventCodec) sanitizeString(tree map[string]interface{}, field string, maxLen int, required bool) (string, bool, error) {
	raw, ok := tree[field]
	if !ok || raw == nil {
		if required {
			return "", false, &ValidationError{Field: field}
		}
		return "", false, nil
	}

	s, ok := raw.(string)
	if !ok {
		// Non-string values in a string field are not a recognized input
		// shape; treat as missing for required fields, empty otherwise.
		if required {
			return "", false, &ValidationError{Field: field}
		}
		return "", false, nil
	}

	truncated := false
	if len(s) > maxLen {
		s = s[:maxLen]
		truncated = true
	}

	if !charsetPattern.MatchString(s) {
		return "", false, &ValidationError{Field: field, Raw: s}
	}
	return s, truncated, nil
}

// sanitizeTimestamp accepts either a JSON number or a numeric JSON string.
// A negative or non-numeric value sanitizes to 0 and flags the field;
// absence of a required field is a validation error.
func (c *EventCodec) sanitizeTimestamp(tree map[string]interface{}, field string, required bool) (int64, bool, error) {
	raw, ok := tree[field]
	if !ok || raw == nil {
		if required {
			return 0, false, &ValidationError{Field: field}
		}
		return 0, false, nil
	}

	n, ok := parseInt64(raw)
	if !ok {
		return 0, true, nil
	}
	if n < 0 {
		return 0, true, nil
	}
	return n, false, nil
}

// sanitizeDouble accepts either a JSON number or a numeric JSON string for
// an optional field. present reports whether the field existed at all;
// flagged reports whether a non-numeric value was defaulted to 0.0.
func (c *EventCodec) sanitizeDouble(tree map[string]interface{}, field string) (value float64, present bool, flagged bool) {
	raw, ok := tree[field]
	if !ok || raw == nil {
		return 0, false, false
	}
	f, ok := parseFloat64(raw)
	if !ok {
		return 0, true, true
	}
	return f, true, false
}

func parseInt64(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

func parseFloat64(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Enrich injects the server arrival timestamp into the tree in place.
func (c *EventCodec) Enrich(tree map[string]interface{}, serverTimestampMillis int64) {
	tree["server_timestamp"] = serverTimestampMillis
}

// Serialize re-encodes the tree to JSON, appending a trailing newline if one
// is not already present.
func (c *EventCodec) Serialize(tree map[string]interface{}) ([]byte, error) {
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}
