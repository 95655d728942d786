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

// Package maintenance implements the periodic warehouse upkeep operations:
// rolling monthly time-series tables, vacuuming/analyzing them, and the
// one-time bootstrap that creates the initial table set.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/aws-samples/gameanalytics-pipeline/internal/health"
	"github.com/aws-samples/gameanalytics-pipeline/internal/metrics"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
	"github.com/aws-samples/gameanalytics-pipeline/internal/warehouse"
)

// Config parameterizes the Controller's table naming and retention policy.
type Config struct {
	EventsTablePrefix string
	UnionViewName     string
	RetentionMonths   int
	Component         string
}

// Controller runs the three maintenance operations against a warehouse
// session, each opening and closing its own connector.
type Controller struct {
	cfg     Config
	opener  Opener
	sink    *metrics.Sink
	health  *health.Controller
	now     func() time.Time
}

// Opener opens a fresh warehouse.Session, mirroring emit.Opener so a single
// warehouse.Factory can serve both the processing and maintenance paths.
type Opener interface {
	Open(ctx context.Context) (warehouse.Session, error)
}

// NewController builds a Controller.
func NewController(opener Opener, sink *metrics.Sink, hc *health.Controller, cfg Config) *Controller {
	return &Controller{cfg: cfg, opener: opener, sink: sink, health: hc, now: time.Now}
}

// BootInitialize creates every monthly event table from next month back to
// the retention horizon, then (re)creates the union view over all of them.
// It is idempotent: CreateEventTable uses CREATE TABLE IF NOT EXISTS
// semantics supplied by the configured SQL template.
func (c *Controller) BootInitialize(ctx context.Context) error {
	tlog.Info("maintenance: bootstrapping event tables")
	conn, err := c.openConnector(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	today := c.now().UTC()
	for i := -1; i < c.cfg.RetentionMonths; i++ {
		month := today.AddDate(0, -i, 0)
		ym := warehouse.YearMonth{Year: month.Year(), Month: int(month.Month())}
		if err := conn.CreateEventTable(ctx, ym, c.cfg.EventsTablePrefix); err != nil {
			c.health.MarkUnhealthy()
			return fmt.Errorf("maintenance: boot table create failed for %v: %w", ym, err)
		}
	}

	tables, err := conn.ListTables(ctx, c.cfg.EventsTablePrefix+"_%")
	if err != nil {
		c.health.MarkUnhealthy()
		return fmt.Errorf("maintenance: boot list tables failed: %w", err)
	}
	if err := conn.CreateUnionView(ctx, c.cfg.UnionViewName, tables); err != nil {
		c.health.MarkUnhealthy()
		return fmt.Errorf("maintenance: boot union view failed: %w", err)
	}

	if err := conn.Commit(ctx); err != nil {
		c.health.MarkUnhealthy()
		return fmt.Errorf("maintenance: boot commit failed: %w", err)
	}
	c.health.MarkHealthy()
	return nil
}

// RollTimeSeries (re)creates next month's event table, drops the table that
// just fell off the retention horizon, and refreshes the union view.
func (c *Controller) RollTimeSeries(ctx context.Context) error {
	tlog.Info("maintenance: rolling time-series tables")
	start := c.now()
	conn, err := c.openConnector(ctx)
	if err != nil {
		c.recordAvailability(false)
		return err
	}
	defer conn.Close(ctx)
	c.recordTiming("RedshiftConnectTime", time.Since(start))

	today := c.now().UTC()
	nextMonth := today.AddDate(0, 1, 0)
	expiredMonth := today.AddDate(0, -c.cfg.RetentionMonths, 0)

	nextYM := warehouse.YearMonth{Year: nextMonth.Year(), Month: int(nextMonth.Month())}
	expiredYM := warehouse.YearMonth{Year: expiredMonth.Year(), Month: int(expiredMonth.Month())}
	nextTable := nextYM.TableName(c.cfg.EventsTablePrefix)
	expiredTable := expiredYM.TableName(c.cfg.EventsTablePrefix)

	dropStart := c.now()
	if err := conn.DropTable(ctx, nextTable); err != nil {
		c.health.MarkUnhealthy()
		c.recordAvailability(false)
		return fmt.Errorf("maintenance: drop next table failed: %w", err)
	}
	c.recordTiming("DropNextTableTime", time.Since(dropStart))

	createStart := c.now()
	if err := conn.CreateEventTable(ctx, nextYM, c.cfg.EventsTablePrefix); err != nil {
		c.health.MarkUnhealthy()
		c.recordAvailability(false)
		return fmt.Errorf("maintenance: create next table failed: %w", err)
	}
	c.recordTiming("CreateEventTableTime", time.Since(createStart))

	dropPrevStart := c.now()
	if err := conn.DropTable(ctx, expiredTable); err != nil {
		c.health.MarkUnhealthy()
		c.recordAvailability(false)
		return fmt.Errorf("maintenance: drop expired table failed: %w", err)
	}
	c.recordTiming("DropPreviousTableTime", time.Since(dropPrevStart))

	tables, err := conn.ListTables(ctx, c.cfg.EventsTablePrefix+"_%")
	if err != nil {
		c.health.MarkUnhealthy()
		c.recordAvailability(false)
		return fmt.Errorf("maintenance: list tables failed: %w", err)
	}

	viewStart := c.now()
	if err := conn.CreateUnionView(ctx, c.cfg.UnionViewName, tables); err != nil {
		c.health.MarkUnhealthy()
		c.recordAvailability(false)
		return fmt.Errorf("maintenance: create union view failed: %w", err)
	}
	c.recordTiming("CreateUnionedViewTime", time.Since(viewStart))

	commitStart := c.now()
	if err := conn.Commit(ctx); err != nil {
		c.health.MarkUnhealthy()
		c.recordAvailability(false)
		return fmt.Errorf("maintenance: commit failed: %w", err)
	}
	c.recordTiming("CommitTransactionTime", time.Since(commitStart))

	c.health.MarkHealthy()
	c.recordAvailability(true)
	return nil
}

// VacuumAndAnalyze runs VACUUM then ANALYZE over every event table. A
// failure on one table is logged and skipped rather than aborting the run,
// matching the source system's per-table isolation.
func (c *Controller) VacuumAndAnalyze(ctx context.Context) error {
	tlog.Info("maintenance: vacuuming and analyzing tables")
	start := c.now()
	conn, err := c.openConnector(ctx)
	if err != nil {
		c.recordAvailability(false)
		return err
	}
	defer conn.Close(ctx)
	c.recordTiming("RedshiftConnectTime", time.Since(start))

	listStart := c.now()
	tables, err := conn.ListTables(ctx, c.cfg.EventsTablePrefix+"_%")
	if err != nil {
		c.health.MarkUnhealthy()
		c.recordAvailability(false)
		return fmt.Errorf("maintenance: list tables failed: %w", err)
	}
	c.recordTiming("GetTablesTime", time.Since(listStart))
	c.record("NumTables", float64(len(tables)))

	vacuumStart := c.now()
	for _, table := range tables {
		if err := conn.VacuumTable(ctx, table, false); err != nil {
			tlog.Error("maintenance: could not vacuum table %q: %v", table, err)
		}
	}
	c.recordTiming("VacuumTablesTime", time.Since(vacuumStart))

	analyzeStart := c.now()
	for _, table := range tables {
		if err := conn.AnalyzeTable(ctx, table); err != nil {
			tlog.Warn("maintenance: could not analyze table %q: %v", table, err)
		}
	}
	c.recordTiming("AnalyzeTablesTime", time.Since(analyzeStart))

	c.health.MarkHealthy()
	c.recordAvailability(true)
	return nil
}

func (c *Controller) openConnector(ctx context.Context) (warehouse.Session, error) {
	conn, err := c.opener.Open(ctx)
	if err != nil {
		c.health.MarkUnhealthy()
		return nil, fmt.Errorf("maintenance: open failed: %w", err)
	}
	return conn, nil
}

func (c *Controller) record(name string, v float64) {
	if c.sink == nil {
		return
	}
	c.sink.Record(name, metrics.Count, v, metrics.Dimensions{"Component": c.cfg.Component})
}

func (c *Controller) recordTiming(name string, d time.Duration) {
	if c.sink == nil {
		return
	}
	c.sink.Record(name, metrics.Milliseconds, float64(d.Milliseconds()), metrics.Dimensions{"Component": c.cfg.Component})
}

func (c *Controller) recordAvailability(ok bool) {
	v := 0.0
	if ok {
		v = 1.0
	}
	c.record("Availability", v)
}
