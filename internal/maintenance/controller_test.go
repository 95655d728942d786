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

package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws-samples/gameanalytics-pipeline/internal/health"
	"github.com/aws-samples/gameanalytics-pipeline/internal/warehouse"
)

type fakeSession struct {
	createdTables []string
	droppedTables []string
	vacuumed      []string
	analyzed      []string
	tables        []string
	committed     bool

	failCreate bool
	failList   bool
	failCommit bool
}

func (s *fakeSession) Close(ctx context.Context) error { return nil }

func (s *fakeSession) CreateEventTable(ctx context.Context, ym warehouse.YearMonth, prefix string) error {
	if s.failCreate {
		return errors.New("create failed")
	}
	s.createdTables = append(s.createdTables, ym.TableName(prefix))
	return nil
}

func (s *fakeSession) DropTable(ctx context.Context, name string) error {
	s.droppedTables = append(s.droppedTables, name)
	return nil
}

func (s *fakeSession) CreateStagingTable(ctx context.Context, name, likeTable string) error { return nil }
func (s *fakeSession) CopyFromObjectStore(ctx context.Context, stagingTable, manifestURL string) error {
	return nil
}
func (s *fakeSession) GetLastLoadErrorCount(ctx context.Context) int64 { return -1 }
func (s *fakeSession) GetCopyCount(ctx context.Context) int64          { return -1 }
func (s *fakeSession) GetInsertCount(ctx context.Context) int64        { return -1 }

func (s *fakeSession) ListTables(ctx context.Context, likePattern string) ([]string, error) {
	if s.failList {
		return nil, errors.New("list failed")
	}
	return s.tables, nil
}

func (s *fakeSession) CreateUnionView(ctx context.Context, viewName string, tables []string) error {
	return nil
}

func (s *fakeSession) UniqueYearMonthPairs(ctx context.Context, table string) ([]warehouse.YearMonth, error) {
	return nil, nil
}

func (s *fakeSession) AnalyzeTable(ctx context.Context, name string) error {
	s.analyzed = append(s.analyzed, name)
	return nil
}

func (s *fakeSession) VacuumTable(ctx context.Context, name string, reindex bool) error {
	s.vacuumed = append(s.vacuumed, name)
	return nil
}

func (s *fakeSession) DedupeInsert(ctx context.Context, dedupeTable, eventsTable string) error { return nil }
func (s *fakeSession) FinalInsert(ctx context.Context, dedupeTable, eventsTable string) error   { return nil }

func (s *fakeSession) Commit(ctx context.Context) error {
	if s.failCommit {
		return errors.New("commit failed")
	}
	s.committed = true
	return nil
}

func (s *fakeSession) Rollback(ctx context.Context) error { return nil }

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

func testController(session *fakeSession) *Controller {
	c := NewController(&fakeOpener{session: session}, nil, health.New(), Config{
		EventsTablePrefix: "events",
		UnionViewName:     "events_view",
		RetentionMonths:   3,
		Component:         "maintenance",
	})
	c.now = func() time.Time { return time.Date(2017, time.October, 15, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestController_BootInitializeCreatesMonthsAndCommits(t *testing.T) {
	session := &fakeSession{}
	c := testController(session)

	if err := c.BootInitialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(session.createdTables) != 4 {
		t.Fatalf("expected 4 months created (-1 through retentionMonths-1), got %d: %v", len(session.createdTables), session.createdTables)
	}
	if !session.committed {
		t.Fatalf("expected commit")
	}
	if !c.health.Healthy() {
		t.Fatalf("expected healthy after success")
	}
}

func TestController_BootInitializeFailureMarksUnhealthy(t *testing.T) {
	session := &fakeSession{failCreate: true}
	c := testController(session)

	if err := c.BootInitialize(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if c.health.Healthy() {
		t.Fatalf("expected unhealthy after failure")
	}
}

func TestController_RollTimeSeriesDropsAndRecreates(t *testing.T) {
	session := &fakeSession{tables: []string{"events_2017_09", "events_2017_10"}}
	c := testController(session)

	if err := c.RollTimeSeries(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(session.droppedTables) != 2 {
		t.Fatalf("expected next-month and expired-month tables dropped, got %v", session.droppedTables)
	}
	if session.droppedTables[0] != "events_2017_11" {
		t.Fatalf("expected next month (2017-11) dropped first, got %s", session.droppedTables[0])
	}
	if session.droppedTables[1] != "events_2017_07" {
		t.Fatalf("expected expired month (2017-07) dropped, got %s", session.droppedTables[1])
	}
	if len(session.createdTables) != 1 || session.createdTables[0] != "events_2017_11" {
		t.Fatalf("expected next month recreated, got %v", session.createdTables)
	}
	if !session.committed {
		t.Fatalf("expected commit")
	}
}

func TestController_VacuumAndAnalyzeContinuesPastPerTableFailure(t *testing.T) {
	session := &fakeSession{tables: []string{"events_2017_09", "events_2017_10"}}
	c := testController(session)

	if err := c.VacuumAndAnalyze(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(session.vacuumed) != 2 || len(session.analyzed) != 2 {
		t.Fatalf("expected both tables vacuumed and analyzed, got vacuumed=%v analyzed=%v", session.vacuumed, session.analyzed)
	}
}

func TestController_OpenFailureMarksUnhealthyAndAborts(t *testing.T) {
	c := NewController(&fakeOpener{failOpen: true}, nil, health.New(), Config{EventsTablePrefix: "events", RetentionMonths: 3})
	if err := c.RollTimeSeries(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if c.health.Healthy() {
		t.Fatalf("expected unhealthy after open failure")
	}
}
