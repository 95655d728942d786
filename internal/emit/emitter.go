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

// Package emit implements the ArchivalEmitter, PointerPublishingEmitter,
// and ManifestEmitter sink family.
package emit

import (
	"context"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
)

// Emitter pushes a buffer snapshot to its sink. A non-empty failed return
// reports records the sink rejected; the caller's retry policy owns what
// happens next. Emit must be safe to call repeatedly against the same
// snapshot (emitters are expected idempotent at the destination).
type Emitter interface {
	Emit(ctx context.Context, records []buffer.Record) (failed []buffer.Record, err error)
	Fail(records []buffer.Record)
	Shutdown(ctx context.Context) error
}
