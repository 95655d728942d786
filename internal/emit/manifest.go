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
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
	"github.com/aws-samples/gameanalytics-pipeline/internal/metrics"
	"github.com/aws-samples/gameanalytics-pipeline/internal/objectstore"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
	"github.com/aws-samples/gameanalytics-pipeline/internal/warehouse"
)

// ManifestEntry is one pointer inside a Manifest.
type ManifestEntry struct {
	URL       string `json:"url"`
	Mandatory bool   `json:"mandatory"`
}

// Manifest is the JSON index of object-store keys consumed atomically by
// the warehouse COPY command.
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// ManifestConfig configures one ManifestEmitter.
type ManifestConfig struct {
	ObjectBucket         string
	StoreScheme          string
	ManifestPathPrefix   string
	LoadStagingTable     string
	CanonicalEventsTable string // structural template for the load-staging table
	DedupeStagingPrefix  string
	EventsTablePrefix    string
	RetentionMonths      int
	CopyMandatory        bool
	Component            string
}

// Opener opens a fresh warehouse.Session for every Emit call, matching the
// "each flush opens and closes its own connector" invariant.
type Opener interface {
	Open(ctx context.Context) (warehouse.Session, error)
}

// ManifestEmitter batches archival-object pointers into a single warehouse
// COPY, then dedupe-upserts the copied rows into the per-month destination
// event tables.
type ManifestEmitter struct {
	cfg    ManifestConfig
	store  objectstore.Store
	opener Opener
	sink   *metrics.Sink
	now    func() time.Time
}

// NewManifestEmitter builds a ManifestEmitter.
func NewManifestEmitter(store objectstore.Store, opener Opener, sink *metrics.Sink, cfg ManifestConfig) *ManifestEmitter {
	return &ManifestEmitter{cfg: cfg, store: store, opener: opener, sink: sink, now: time.Now}
}

// Emit runs the full manifest-load-dedupe-upsert pipeline. Any SQL error
// aborts the attempt and the whole batch is returned as failed.
func (e *ManifestEmitter) Emit(ctx context.Context, records []buffer.Record) ([]buffer.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	start := time.Now()

	conn, err := e.opener.Open(ctx)
	if err != nil {
		return records, fmt.Errorf("manifest emit: open failed: %w", err)
	}
	e.recordTiming("RedshiftConnectTime", time.Since(start))
	defer conn.Close(ctx)

	manifestURL, err := e.putManifest(ctx, records)
	if err != nil {
		return records, fmt.Errorf("manifest emit: manifest upload failed: %w", err)
	}

	if err := conn.CreateStagingTable(ctx, e.cfg.LoadStagingTable, e.cfg.CanonicalEventsTable); err != nil {
		return records, fmt.Errorf("manifest emit: create staging table failed: %w", err)
	}
	defer conn.DropTable(ctx, e.cfg.LoadStagingTable)

	copyStart := time.Now()
	if err := conn.CopyFromObjectStore(ctx, e.cfg.LoadStagingTable, manifestURL); err != nil {
		return records, fmt.Errorf("manifest emit: COPY failed: %w", err)
	}
	e.recordTiming("CopyFromS3Time", time.Since(copyStart))
	e.record("NumRecordsReceived", float64(len(records)))

	if n := conn.GetLastLoadErrorCount(ctx); n >= 0 {
		e.record("LoadErrorsCount", float64(n))
	}
	if n := conn.GetCopyCount(ctx); n >= 0 {
		e.record("NumRecordsCopied", float64(n))
	}

	pairs, err := conn.UniqueYearMonthPairs(ctx, e.cfg.LoadStagingTable)
	if err != nil {
		return records, fmt.Errorf("manifest emit: year/month discovery failed: %w", err)
	}

	inWindow, skipped := warehouse.ClampToRetentionWindow(pairs, e.now(), e.cfg.RetentionMonths)
	for _, ym := range skipped {
		tlog.Warn("manifest emit: skipping out-of-window month %04d-%02d", ym.Year, ym.Month)
		e.record("NumDuplicateRecordsIgnored", 0)
	}

	upsertStart := time.Now()
	for _, ym := range inWindow {
		if err := e.upsertMonth(ctx, conn, ym); err != nil {
			return records, fmt.Errorf("manifest emit: upsert for %04d-%02d failed: %w", ym.Year, ym.Month, err)
		}
	}
	e.recordTiming("UpsertTime", time.Since(upsertStart))
	e.record("UpsertNumMonths", float64(len(inWindow)))

	if err := conn.Commit(ctx); err != nil {
		return records, fmt.Errorf("manifest emit: commit failed: %w", err)
	}
	e.recordTiming("TotalLoadTime", time.Since(start))
	e.recordAvailability(true)
	return nil, nil
}

func (e *ManifestEmitter) upsertMonth(ctx context.Context, conn warehouse.Session, ym warehouse.YearMonth) error {
	dedupeTable := ym.TableName(e.cfg.DedupeStagingPrefix)
	eventsTable := ym.TableName(e.cfg.EventsTablePrefix)

	createStart := time.Now()
	if err := conn.CreateStagingTable(ctx, dedupeTable, eventsTable); err != nil {
		return err
	}
	e.recordTiming("CreateLoadStagingTableTime", time.Since(createStart))
	defer conn.DropTable(ctx, dedupeTable)

	if err := conn.DedupeInsert(ctx, dedupeTable, eventsTable); err != nil {
		return err
	}
	if err := conn.FinalInsert(ctx, dedupeTable, eventsTable); err != nil {
		return err
	}
	if n := conn.GetInsertCount(ctx); n >= 0 {
		e.record("UpsertNumRecordsInserted", float64(n))
	}
	return nil
}

// putManifest builds and uploads the manifest JSON, naming it after the
// first and last pointer basenames in the batch.
func (e *ManifestEmitter) putManifest(ctx context.Context, records []buffer.Record) (string, error) {
	entries := make([]ManifestEntry, 0, len(records))
	var firstBase, lastBase string
	for i, r := range records {
		var pointer ObjectPointerEvent
		if err := json.Unmarshal(r.Payload, &pointer); err != nil {
			return "", fmt.Errorf("manifest emit: malformed pointer record: %w", err)
		}
		entries = append(entries, ManifestEntry{
			URL:       fmt.Sprintf("%s://%s/%s", e.cfg.StoreScheme, e.cfg.ObjectBucket, pointer.Filename),
			Mandatory: e.cfg.CopyMandatory,
		})
		base := path.Base(pointer.Filename)
		if i == 0 {
			firstBase = base
		}
		lastBase = base
	}

	manifest := Manifest{Entries: entries}
	body, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s-%s", e.cfg.ManifestPathPrefix, firstBase, lastBase)
	putStart := time.Now()
	if err := e.store.Put(ctx, e.cfg.ObjectBucket, key, body); err != nil {
		return "", err
	}
	e.recordTiming("ManifestPutTime", time.Since(putStart))
	e.record("NumFilesPerManifest", float64(len(entries)))

	return fmt.Sprintf("%s://%s/%s", e.cfg.StoreScheme, e.cfg.ObjectBucket, key), nil
}

func (e *ManifestEmitter) Fail(records []buffer.Record) {
	tlog.Error("manifest emit: %d pointer records permanently failed", len(records))
	e.recordAvailability(false)
}

func (e *ManifestEmitter) Shutdown(ctx context.Context) error { return nil }

func (e *ManifestEmitter) record(name string, v float64) {
	if e.sink == nil {
		return
	}
	e.sink.Record(name, metrics.Count, v, metrics.Dimensions{"component": e.cfg.Component})
}

func (e *ManifestEmitter) recordTiming(name string, d time.Duration) {
	if e.sink == nil {
		return
	}
	e.sink.Record(name, metrics.Milliseconds, float64(d.Milliseconds()), metrics.Dimensions{"component": e.cfg.Component})
}

func (e *ManifestEmitter) recordAvailability(ok bool) {
	if e.sink == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1.0
	}
	e.sink.Record("EmitAvailability", metrics.Count, v, metrics.Dimensions{"component": e.cfg.Component})
}
