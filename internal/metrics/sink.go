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

// Package metrics implements the batching MetricSink shared process-wide by
// every RecordProcessor, Emitter, and maintenance Controller.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Unit distinguishes the Prometheus collector type a datum is recorded
// against.
type Unit int

const (
	Count Unit = iota
	Milliseconds
	Bytes
)

// Dimensions is an unordered label set attached to a recorded datum.
type Dimensions map[string]string

// signature returns a stable string key for a (name, unit, dims) triple,
// used to key the lazily-registered collector cache.
func (d Dimensions) signature(name string, unit Unit) string {
	sig := name + "|" + string(rune('0'+int(unit)))
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	// Map iteration order is random, so sort the label names to keep the key
	// identical for every datum carrying the same label set.
	sort.Strings(keys)
	for _, k := range keys {
		sig += "|" + k + "=" + d[k]
	}
	return sig
}

// datum is one enqueued recording awaiting flush.
type datum struct {
	name  string
	unit  Unit
	value float64
	dims  Dimensions
	at    time.Time
}

// Config bounds the batching behavior of Sink.
type Config struct {
	BatchSize    int
	QueueTimeout time.Duration
	QueueCap     int
	Async        bool
	ShutdownWait time.Duration
}

// DefaultConfig returns reasonable batching defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 200, QueueTimeout: 10 * time.Second, QueueCap: 10000, Async: true, ShutdownWait: 5 * time.Second}
}

// Sink is a dimensioned, batching metric recorder safe for concurrent
// Record calls from every shard's processor goroutine.
type Sink struct {
	cfg Config

	mu     sync.Mutex
	queue  []datum
	oldest time.Time

	// flushMu is the single-holder flush lock: whoever locks it owns the
	// current flush end to end, including its async delivery, and is the
	// only one who unlocks it.
	flushMu sync.Mutex

	collectorsMu sync.Mutex
	collectors   map[string]prometheus.Collector

	inFlight sync.WaitGroup
	closed   atomic.Bool
}

// New builds a Sink. Every distinct (name, unit, dims-signature) lazily
// registers its own Prometheus collector on first flush.
func New(cfg Config) *Sink {
	return &Sink{cfg: cfg, collectors: make(map[string]prometheus.Collector)}
}

// Record enqueues a datum. When the queue is at capacity, the oldest datum
// is evicted to make room (bounded, evicting queue). A flush is triggered
// inline when the batch size or age threshold is crossed.
func (s *Sink) Record(name string, unit Unit, value float64, dims Dimensions) {
	if s.closed.Load() {
		return
	}
	now := time.Now()
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.oldest = now
	}
	if len(s.queue) >= s.cfg.QueueCap {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, datum{name: name, unit: unit, value: value, dims: dims, at: now})
	shouldFlush := len(s.queue) >= s.cfg.BatchSize || (s.cfg.QueueTimeout > 0 && now.Sub(s.oldest) >= s.cfg.QueueTimeout)
	s.mu.Unlock()

	if shouldFlush {
		s.Flush(false)
	}
}

// Flush drains the queue and delivers every datum to its Prometheus
// collector. If force is false and another flush is already in progress,
// this call is a no-op (single-holder flush lock). If force is true, it
// waits for the in-progress flush to finish and then becomes the holder
// itself, rather than running a second delivery concurrently with it.
// Delivery runs inline for synchronous configuration, or on a tracked
// background goroutine when Config.Async is set; either way, the flush
// lock stays held until that delivery completes, and only the goroutine
// that actually holds it ever releases it.
func (s *Sink) Flush(force bool) {
	if force {
		s.flushMu.Lock()
	} else if !s.flushMu.TryLock() {
		return
	}

	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	deliver := func() {
		defer s.flushMu.Unlock()
		for _, d := range batch {
			s.deliver(d)
		}
	}

	if s.cfg.Async {
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			deliver()
		}()
	} else {
		deliver()
	}
}

func (s *Sink) deliver(d datum) {
	sig := d.dims.signature(d.name, d.unit)

	s.collectorsMu.Lock()
	c, ok := s.collectors[sig]
	if !ok {
		c = s.newCollector(d.name, d.unit, d.dims)
		s.collectors[sig] = c
	}
	s.collectorsMu.Unlock()

	switch coll := c.(type) {
	case prometheus.Counter:
		coll.Add(d.value)
	case prometheus.Histogram:
		coll.Observe(d.value)
	case prometheus.Gauge:
		coll.Set(d.value)
	}
}

func (s *Sink) newCollector(name string, unit Unit, dims Dimensions) prometheus.Collector {
	labels := prometheus.Labels(dims)
	switch unit {
	case Milliseconds:
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        sanitizeMetricName(name),
			Help:        name + " (ms)",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 16),
		})
		prometheus.Register(h)
		return h
	case Bytes:
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitizeMetricName(name), Help: name + " (bytes)", ConstLabels: labels})
		prometheus.Register(g)
		return g
	default:
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: sanitizeMetricName(name), Help: name, ConstLabels: labels})
		prometheus.Register(c)
		return c
	}
}

func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return "gameanalytics_" + string(out)
}

// Shutdown force-flushes the remaining queue and waits for any in-flight
// async deliveries to finish, bounded by Config.ShutdownWait.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.Flush(true)

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	wait := s.cfg.ShutdownWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
