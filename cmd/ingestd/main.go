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

// Package main runs the ingestion daemon.
//
// It claims a fixed shard set on the raw event stream and, per shard, runs a
// CompoundProcessor pairing the archival+pointer-publishing path with the
// error-handler path. A second shard set drains the archival-pointer stream
// into the warehouse manifest-load path. The HTTP surface exposes process
// health, Prometheus metrics, and the maintenance cron endpoints so a single
// deployable can also serve on-demand maintenance triggers in development.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/aws-samples/gameanalytics-pipeline/internal/buffer"
	"github.com/aws-samples/gameanalytics-pipeline/internal/checkpoint"
	"github.com/aws-samples/gameanalytics-pipeline/internal/codec"
	"github.com/aws-samples/gameanalytics-pipeline/internal/config"
	"github.com/aws-samples/gameanalytics-pipeline/internal/emit"
	"github.com/aws-samples/gameanalytics-pipeline/internal/health"
	"github.com/aws-samples/gameanalytics-pipeline/internal/httpapi"
	"github.com/aws-samples/gameanalytics-pipeline/internal/maintenance"
	"github.com/aws-samples/gameanalytics-pipeline/internal/metrics"
	"github.com/aws-samples/gameanalytics-pipeline/internal/objectstore"
	"github.com/aws-samples/gameanalytics-pipeline/internal/processor"
	"github.com/aws-samples/gameanalytics-pipeline/internal/streamclient"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
	"github.com/aws-samples/gameanalytics-pipeline/internal/warehouse"
)

func main() {
	var (
		configFile      = pflag.String("config", "", "Optional YAML config file, flattened into dotted keys")
		localMode       = pflag.Bool("local", true, "Local development mode: also consults test.*-prefixed config keys")
		httpAddr        = pflag.String("http_addr", ":8081", "HTTP listen address for health/metrics/cron endpoints")
		dataDir         = pflag.String("data_dir", "./data", "Root directory for the local filesystem object store")
		inputShards     = pflag.Int("input_shards", 4, "Number of shards to claim on the raw event stream")
		pointerShards   = pflag.Int("pointer_shards", 2, "Number of shards to claim on the archival-pointer stream")
		pollInterval    = pflag.Duration("poll_interval", 250*time.Millisecond, "How long an idle shard worker waits before re-polling")
		retentionMonths = pflag.Int("retention_months", 3, "Warehouse retention window, in months")
	)
	pflag.Parse()

	var sources []config.Source
	if *configFile != "" {
		src, err := config.LoadYAMLSource(*configFile)
		if err != nil {
			tlog.Error("ingestd: failed to load config file %s: %v", *configFile, err)
			os.Exit(1)
		}
		sources = append(sources, src)
	}
	cfg := config.Initialize("gameanalytics", *localMode, sources...)

	schema := cfg.StringDefault("warehouse", "schema", "gameanalytics")
	eventsPrefix := cfg.StringDefault("warehouse", "events_table_prefix", "events")
	rawBucket := cfg.StringDefault("archival", "raw_bucket", "raw-events")
	errorBucket := cfg.StringDefault("archival", "error_bucket", "error-events")

	hc := health.New()
	sink := metrics.New(metrics.DefaultConfig())

	store, err := objectstore.NewFileStore(*dataDir)
	if err != nil {
		tlog.Error("ingestd: failed to open local object store at %s: %v", *dataDir, err)
		os.Exit(1)
	}

	stream := streamclient.NewInMemoryStream()
	rawShardIDs := stream.EnsureShards("raw-events", *inputShards)
	pointerShardIDs := stream.EnsureShards("archival-pointers", *pointerShards)

	warehouseFactory := warehouse.NewFactory(
		warehouse.StaticCredentialProvider{Credentials: warehouse.Credentials{
			Host:     cfg.StringDefault("warehouse", "host", "localhost"),
			Port:     5439,
			Database: cfg.StringDefault("warehouse", "database", "gameanalytics"),
			Username: cfg.StringDefault("warehouse", "username", "ingest"),
			Password: cfg.StringDefault("warehouse", "password", ""),
		}},
		warehouse.DefaultTemplates(),
		schema,
	)

	maintController := maintenance.NewController(warehouseFactory, sink, hc, maintenance.Config{
		EventsTablePrefix: eventsPrefix,
		UnionViewName:     cfg.StringDefault("warehouse", "union_view", eventsPrefix+"_view"),
		RetentionMonths:   *retentionMonths,
		Component:         "ingestd",
	})

	ecodec := codec.NewEventCodec(codec.DefaultLimits())
	cp := checkpoint.NewInMemory()

	var wg sync.WaitGroup
	stopCh := make(chan struct{})

	// runShard owns shardID end to end: fetch, process, and — on stop — a
	// final TERMINATE shutdown that flushes and checkpoints.
	runShard := func(shardID string, proc processor.Processor) {
		defer wg.Done()
		proc.Init(shardID)
		for {
			select {
			case <-stopCh:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := proc.Shutdown(ctx, processor.ShutdownTerminate); err != nil {
					tlog.Error("[Shard %s] shutdown error: %v", shardID, err)
				}
				cancel()
				return
			default:
			}

			fetchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			recs, behind, ferr := stream.GetRecords(fetchCtx, shardID, 500)
			cancel()
			if ferr != nil {
				tlog.Error("[Shard %s] fetch error: %v", shardID, ferr)
				time.Sleep(*pollInterval)
				continue
			}
			if len(recs) == 0 {
				time.Sleep(*pollInterval)
				continue
			}
			if perr := proc.ProcessBatch(context.Background(), recs, behind); perr != nil {
				tlog.Error("[Shard %s] process error: %v", shardID, perr)
			}
		}
	}

	for _, shardID := range rawShardIDs {
		archival := emit.NewArchivalEmitter(store, sink, emit.ArchivalConfig{
			Bucket: rawBucket, PathPrefix: "events", Gzip: true, Component: "ingestd",
		})
		pointerEmitter := emit.NewPointerPublishingEmitter(archival, stream, "archival-pointers", pointerShardIDs)
		mainBuf := buffer.New(buffer.Config{ByteLimit: 4 << 20, RecordLimit: 500, AgeLimit: 30 * time.Second})
		mainProc := processor.NewRecordProcessor("ingestd", ecodec, mainBuf, pointerEmitter, cp, sink, hc, processor.DefaultRetryConfig())

		errArchival := emit.NewArchivalEmitter(store, sink, emit.ArchivalConfig{
			Bucket: errorBucket, PathPrefix: "errors", Gzip: true, Component: "ingestd",
		})
		errBuf := buffer.New(buffer.Config{ByteLimit: 1 << 20, RecordLimit: 200, AgeLimit: 60 * time.Second})
		errProc := processor.NewErrorHandlerProcessor("ingestd", ecodec, errBuf, errArchival, cp, sink, hc, processor.DefaultRetryConfig())

		compound := processor.NewCompoundProcessor()
		compound.Add(mainProc)
		compound.Add(errProc)

		wg.Add(1)
		go runShard(shardID, compound)
	}

	for _, shardID := range pointerShardIDs {
		manifestEmitter := emit.NewManifestEmitter(store, warehouseFactory, sink, emit.ManifestConfig{
			ObjectBucket:         rawBucket,
			StoreScheme:          "file",
			ManifestPathPrefix:   "manifests",
			LoadStagingTable:     "load_staging",
			CanonicalEventsTable: eventsPrefix,
			DedupeStagingPrefix:  "dedupe_staging",
			EventsTablePrefix:    eventsPrefix,
			RetentionMonths:      *retentionMonths,
			CopyMandatory:        true,
			Component:            "ingestd",
		})
		ptrBuf := buffer.New(buffer.Config{ByteLimit: 8 << 20, RecordLimit: 1000, AgeLimit: 60 * time.Second})
		ptrProc := processor.NewPointerRecordProcessor("ingestd-warehouse", ptrBuf, manifestEmitter, cp, sink, hc, processor.DefaultRetryConfig())

		wg.Add(1)
		go runShard(shardID, ptrProc)
	}

	srv := httpapi.NewServer(maintController, hc)
	go func() {
		tlog.Info("ingestd: HTTP surface listening on %s", *httpAddr)
		if err := srv.ListenAndServe(*httpAddr); err != nil {
			tlog.Error("ingestd: HTTP server exited: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	tlog.Info("ingestd: shutting down...")
	close(stopCh)
	wg.Wait()

	if err := sink.Shutdown(context.Background()); err != nil {
		tlog.Warn("ingestd: metric sink shutdown: %v", err)
	}
	tlog.Info("ingestd: stopped.")
}
