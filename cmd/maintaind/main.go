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

// Package main runs the warehouse maintenance daemon: BootInitialize once at
// startup, then RollTimeSeries and VacuumAndAnalyze on their own internal
// tickers, alongside an HTTP surface that answers the same operations
// on-demand.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/aws-samples/gameanalytics-pipeline/internal/config"
	"github.com/aws-samples/gameanalytics-pipeline/internal/health"
	"github.com/aws-samples/gameanalytics-pipeline/internal/httpapi"
	"github.com/aws-samples/gameanalytics-pipeline/internal/maintenance"
	"github.com/aws-samples/gameanalytics-pipeline/internal/metrics"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
	"github.com/aws-samples/gameanalytics-pipeline/internal/warehouse"
)

// scheduler runs maintenance.Controller operations on their own tickers,
// mirroring the teacher's background Worker: one goroutine per periodic
// task, shut down together via a shared stop channel and WaitGroup.
type scheduler struct {
	controller *maintenance.Controller

	rollInterval   time.Duration
	vacuumInterval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func newScheduler(controller *maintenance.Controller, rollInterval, vacuumInterval time.Duration) *scheduler {
	return &scheduler{controller: controller, rollInterval: rollInterval, vacuumInterval: vacuumInterval, stopCh: make(chan struct{})}
}

func (s *scheduler) Start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.loop("roll time series", s.rollInterval, s.controller.RollTimeSeries)
	}()
	go func() {
		defer s.wg.Done()
		s.loop("vacuum and analyze", s.vacuumInterval, s.controller.VacuumAndAnalyze)
	}()
}

func (s *scheduler) loop(name string, interval time.Duration, op func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if err := op(ctx); err != nil {
				tlog.Error("maintaind: %s failed: %v", name, err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

func (s *scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func main() {
	var (
		configFile      = pflag.String("config", "", "Optional YAML config file, flattened into dotted keys")
		localMode       = pflag.Bool("local", true, "Local development mode: also consults test.*-prefixed config keys")
		httpAddr        = pflag.String("http_addr", ":8082", "HTTP listen address for health/metrics/cron endpoints")
		retentionMonths = pflag.Int("retention_months", 3, "Warehouse retention window, in months")
		rollInterval    = pflag.Duration("roll_interval", 12*time.Hour, "How often to run RollTimeSeries")
		vacuumInterval  = pflag.Duration("vacuum_interval", 24*time.Hour, "How often to run VacuumAndAnalyze")
	)
	pflag.Parse()

	var sources []config.Source
	if *configFile != "" {
		src, err := config.LoadYAMLSource(*configFile)
		if err != nil {
			tlog.Error("maintaind: failed to load config file %s: %v", *configFile, err)
			os.Exit(1)
		}
		sources = append(sources, src)
	}
	cfg := config.Initialize("gameanalytics", *localMode, sources...)

	schema := cfg.StringDefault("warehouse", "schema", "gameanalytics")
	eventsPrefix := cfg.StringDefault("warehouse", "events_table_prefix", "events")

	hc := health.New()
	sink := metrics.New(metrics.DefaultConfig())

	factory := warehouse.NewFactory(
		warehouse.StaticCredentialProvider{Credentials: warehouse.Credentials{
			Host:     cfg.StringDefault("warehouse", "host", "localhost"),
			Port:     5439,
			Database: cfg.StringDefault("warehouse", "database", "gameanalytics"),
			Username: cfg.StringDefault("warehouse", "username", "maintenance"),
			Password: cfg.StringDefault("warehouse", "password", ""),
		}},
		warehouse.DefaultTemplates(),
		schema,
	)

	controller := maintenance.NewController(factory, sink, hc, maintenance.Config{
		EventsTablePrefix: eventsPrefix,
		UnionViewName:     cfg.StringDefault("warehouse", "union_view", eventsPrefix+"_view"),
		RetentionMonths:   *retentionMonths,
		Component:         "maintaind",
	})

	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := controller.BootInitialize(bootCtx); err != nil {
		tlog.Error("maintaind: boot initialize failed: %v", err)
	}
	bootCancel()

	sched := newScheduler(controller, *rollInterval, *vacuumInterval)
	sched.Start()

	srv := httpapi.NewServer(controller, hc)
	go func() {
		tlog.Info("maintaind: HTTP surface listening on %s", *httpAddr)
		if err := srv.ListenAndServe(*httpAddr); err != nil {
			tlog.Error("maintaind: HTTP server exited: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	tlog.Info("maintaind: shutting down...")
	sched.Stop()

	if err := sink.Shutdown(context.Background()); err != nil {
		tlog.Warn("maintaind: metric sink shutdown: %v", err)
	}
	tlog.Info("maintaind: stopped.")
}
