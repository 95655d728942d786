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

// eventgen is a tiny, dependency-light synthetic event generator for local
// development: it publishes well-formed (and, at a configurable rate,
// malformed) game-analytics telemetry JSON onto an in-memory stream created
// inside its own process, and reports publish throughput. The published
// records are not visible to any other process.
//
// Modes:
//   - single: every event uses the same client_id
//   - zipf:   approximate 80/20 skew (hot/cold) without PRNG: send the hot
//     client 4/5 of the time
//
// Usage examples:
//
//	eventgen --mode=single --client=alice --n=5000 --c=16
//	eventgen --mode=zipf --hot_client=hot-1 --cold_clients=50 --n=8000 --c=16
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/aws-samples/gameanalytics-pipeline/internal/streamclient"
)

type modeType string

const (
	modeSingle modeType = "single"
	modeZipf   modeType = "zipf"
)

var eventTypes = []string{"level_start", "level_complete", "purchase", "session_start", "session_end"}

func main() {
	var (
		streamName = pflag.String("stream", "raw-events", "Stream name to publish onto")
		shards     = pflag.Int("shards", 4, "Number of shards to spread records across")
		modeS      = pflag.String("mode", string(modeSingle), "Mode: single|zipf")
		client     = pflag.String("client", "alice-client", "client_id for single mode")
		hotClient  = pflag.String("hot_client", "hot-1", "Hot client_id for zipf mode")
		coldN      = pflag.Int("cold_clients", 50, "Number of cold client_ids to round-robin in zipf mode")
		appName    = pflag.String("app", "match-three", "app_name to stamp on every event")
		N          = pflag.Int("n", 5000, "Total events to publish")
		conc       = pflag.Int("c", 8, "Number of concurrent publishers")
		hotEvery   = pflag.Int("hot_every", 5, "Zipf-like skew period (all but 1 of every this-many events go to hot; minimum 2)")
		malformed  = pflag.Float64("malformed_rate", 0, "Fraction (0..1) of events published as malformed JSON, to exercise the error path")
		timeout    = pflag.Duration("timeout", 20*time.Second, "Overall timeout for the run")
	)
	pflag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSingle && m != modeZipf {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want single|zipf)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}
	if m == modeZipf {
		if *coldN <= 0 {
			fmt.Fprintln(os.Stderr, "-cold_clients must be > 0 in zipf mode")
			os.Exit(2)
		}
		if *hotEvery < 2 {
			*hotEvery = 2
		}
	}

	stream := streamclient.NewInMemoryStream()
	shardIDs := stream.EnsureShards(*streamName, *shards)
	fmt.Printf("eventgen: publishing onto %q across %d shards: %v\n", *streamName, len(shardIDs), shardIDs)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var done, malformedCount int64

	worker := func(id, count int) {
		defer atomic.AddInt64(&done, int64(count))
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var clientID string
			if m == modeSingle {
				clientID = *client
			} else if ((i + id) % *hotEvery) != 0 {
				clientID = *hotClient
			} else {
				idx := ((i + id) % *coldN) + 1
				clientID = fmt.Sprintf("cold-%d", idx)
			}

			payload, isMalformed := buildPayload(*appName, clientID, i, *malformed)
			if isMalformed {
				atomic.AddInt64(&malformedCount, 1)
			}

			if err := stream.Publish(ctx, *streamName, clientID, payload); err != nil {
				time.Sleep(200 * time.Microsecond)
			}
		}
	}

	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*N) / elapsed.Seconds()
	fmt.Printf("eventgen: mode=%s N=%d c=%d go=%d malformed=%d Duration=%s Throughput=%.0f events/s\n",
		m, *N, *conc, runtime.GOMAXPROCS(0), malformedCount, elapsed.Truncate(time.Millisecond), ops)
}

// buildPayload returns the next event's raw JSON. At the configured rate it
// instead returns truncated, unparseable JSON to exercise the error-handler
// path downstream.
func buildPayload(appName, clientID string, i int, malformedRate float64) ([]byte, bool) {
	if malformedRate > 0 && float64(i%1000)/1000.0 < malformedRate {
		return []byte(fmt.Sprintf(`{"app_name":"%s","client_id":"%s","event_typ`, appName, clientID)), true
	}

	event := map[string]interface{}{
		"event_version":   "1.0",
		"app_name":        appName,
		"app_version":     "2.3.1",
		"client_id":       clientID,
		"event_id":        uuid.NewString(),
		"event_type":      eventTypes[i%len(eventTypes)],
		"event_timestamp": time.Now().UnixMilli(),
		"level_id":        fmt.Sprintf("level-%d", 1+i%20),
		"position_x":      float64(i%100) * 1.5,
		"position_y":      float64(i%50) * 2.0,
	}
	out, err := json.Marshal(event)
	if err != nil {
		return []byte(`{"event_version":"1.0"}`), true
	}
	return out, false
}
