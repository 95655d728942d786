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
	"errors"
	"testing"
	"time"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
	"github.com/aws-samples/gameanalytics-pipeline/internal/warehouse"
)

type fakeSession struct {
	createdTables []string
	droppedTables []string
	copied        bool
	dedupeInserts []string
	finalInserts  []string
	committed     bool

	pairs []warehouse.YearMonth

	failCopy   bool
	failCreate bool
	failDedupe bool
	failCommit bool
}

func (s *fakeSession) Close(ctx context.Context) error { return nil }

func (s *fakeSession) CreateEventTable(ctx context.Context, ym warehouse.YearMonth, eventsPrefix string) error {
	return nil
}

func (s *fakeSession) ListTables(ctx context.Context, likePattern string) ([]string, error) {
	return nil, nil
}

func (s *fakeSession) CreateUnionView(ctx context.Context, viewName string, tables []string) error {
	return nil
}

func (s *fakeSession) AnalyzeTable(ctx context.Context, name string) error { return nil }

func (s *fakeSession) VacuumTable(ctx context.Context, name string, reindex bool) error { return nil }

func (s *fakeSession) Rollback(ctx context.Context) error { return nil }

func (s *fakeSession) CreateStagingTable(ctx context.Context, name, likeTable string) error {
	if s.failCreate {
		return errors.New("create staging table failed")
	}
	s.createdTables = append(s.createdTables, name)
	return nil
}

func (s *fakeSession) CopyFromObjectStore(ctx context.Context, stagingTable, manifestURL string) error {
	if s.failCopy {
		return errors.New("copy failed")
	}
	s.copied = true
	return nil
}

func (s *fakeSession) GetLastLoadErrorCount(ctx context.Context) int64 { return 0 }
func (s *fakeSession) GetCopyCount(ctx context.Context) int64          { return int64(len(s.pairs)) }
func (s *fakeSession) GetInsertCount(ctx context.Context) int64        { return 1 }

func (s *fakeSession) UniqueYearMonthPairs(ctx context.Context, table string) ([]warehouse.YearMonth, error) {
	return s.pairs, nil
}

func (s *fakeSession) DropTable(ctx context.Context, name string) error {
	s.droppedTables = append(s.droppedTables, name)
	return nil
}

func (s *fakeSession) DedupeInsert(ctx context.Context, dedupeTable, eventsTable string) error {
	if s.failDedupe {
		return errors.New("dedupe insert failed")
	}
	s.dedupeInserts = append(s.dedupeInserts, dedupeTable+"->"+eventsTable)
	return nil
}

func (s *fakeSession) FinalInsert(ctx context.Context, dedupeTable, eventsTable string) error {
	s.finalInserts = append(s.finalInserts, dedupeTable+"->"+eventsTable)
	return nil
}

func (s *fakeSession) Commit(ctx context.Context) error {
	if s.failCommit {
		return errors.New("commit failed")
	}
	s.committed = true
	return nil
}

type fakeOpener struct {
	session  *fakeSession
	failOpen bool
}

func (o *fakeOpener) Open(ctx context.Context) (warehouse.Session, error) {
	if o.failOpen {
		return nil, errors.New("open failed")
	}
	return o.session, nil
}

func pointerRecords(filenames ...string) []buffer.Record {
	now := time.Date(2017, time.October, 24, 18, 29, 23, 0, time.UTC)
	out := make([]buffer.Record, len(filenames))
	for i, f := range filenames {
		out[i] = buffer.Record{Payload: []byte(`{"filename":"` + f + `"}`), Seq: "S" + string(rune('1'+i)), ArrivalTS: now}
	}
	return out
}

func newTestManifestEmitter(store *fakeStore, opener *fakeOpener) *ManifestEmitter {
	return NewManifestEmitter(store, opener, nil, ManifestConfig{
		ObjectBucket:         "telemetry",
		StoreScheme:          "s3",
		ManifestPathPrefix:   "manifests",
		LoadStagingTable:     "load_staging",
		CanonicalEventsTable: "events",
		DedupeStagingPrefix:  "dedupe_staging",
		EventsTablePrefix:    "events",
		RetentionMonths:      3,
	})
}

func TestManifestEmitter_SuccessPathCopiesAndUpsertsEachMonth(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{pairs: []warehouse.YearMonth{{Year: 2017, Month: 9}, {Year: 2017, Month: 10}}}
	opener := &fakeOpener{session: session}
	e := newTestManifestEmitter(store, opener)
	e.now = func() time.Time { return time.Date(2017, time.October, 15, 0, 0, 0, 0, time.UTC) }

	failed, err := e.Emit(context.Background(), pointerRecords("events/2017/10/24/18/S1-S2.gzip"))
	if err != nil || len(failed) != 0 {
		t.Fatalf("expected success, got failed=%v err=%v", failed, err)
	}

	if !session.copied {
		t.Fatalf("expected COPY to have run")
	}
	if !session.committed {
		t.Fatalf("expected commit")
	}
	if len(session.dedupeInserts) != 2 || len(session.finalInserts) != 2 {
		t.Fatalf("expected one dedupe+final insert per in-window month, got %v / %v", session.dedupeInserts, session.finalInserts)
	}
	if len(session.droppedTables) != 3 {
		t.Fatalf("expected the load-staging table and both dedupe-staging tables dropped, got %v", session.droppedTables)
	}
}

func TestManifestEmitter_OutOfWindowMonthIsSkipped(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{pairs: []warehouse.YearMonth{{Year: 2017, Month: 6}, {Year: 2017, Month: 9}, {Year: 2017, Month: 10}}}
	opener := &fakeOpener{session: session}
	e := newTestManifestEmitter(store, opener)
	e.now = func() time.Time { return time.Date(2017, time.October, 15, 0, 0, 0, 0, time.UTC) }

	_, err := e.Emit(context.Background(), pointerRecords("events/2017/10/24/18/S1-S2.gzip"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(session.dedupeInserts) != 2 {
		t.Fatalf("expected the out-of-window month (2017,6) to be skipped, got %v", session.dedupeInserts)
	}
}

func TestManifestEmitter_CopyFailureAbortsAndReturnsFullBatch(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{failCopy: true}
	opener := &fakeOpener{session: session}
	e := newTestManifestEmitter(store, opener)

	recs := pointerRecords("events/2017/10/24/18/S1-S2.gzip")
	failed, err := e.Emit(context.Background(), recs)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(failed) != len(recs) {
		t.Fatalf("expected the whole batch returned as failed, got %d", len(failed))
	}
	if session.committed {
		t.Fatalf("expected no commit after COPY failure")
	}
}

func TestManifestEmitter_OpenFailureReturnsFullBatch(t *testing.T) {
	store := newFakeStore()
	opener := &fakeOpener{failOpen: true}
	e := newTestManifestEmitter(store, opener)

	recs := pointerRecords("events/2017/10/24/18/S1-S2.gzip")
	failed, err := e.Emit(context.Background(), recs)
	if err == nil || len(failed) != len(recs) {
		t.Fatalf("expected open failure to return the full batch, got failed=%v err=%v", failed, err)
	}
}

func TestManifestEmitter_ManifestPutUsesFirstAndLastBasenames(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	opener := &fakeOpener{session: session}
	e := newTestManifestEmitter(store, opener)

	recs := pointerRecords("events/2017/10/24/18/S1.gzip", "events/2017/10/24/18/S2.gzip")
	if _, err := e.Emit(context.Background(), recs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := store.objects["telemetry/manifests/S1.gzip-S2.gzip"]; !ok {
		t.Fatalf("expected manifest key derived from first/last basenames, got keys %v", keysOf(store.objects))
	}
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
