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

// Package httpapi implements the cron-triggered HTTP surface: the
// maintenance endpoints invoked on a schedule by the deployment platform,
// plus the process health and metrics endpoints.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aws-samples/gameanalytics-pipeline/internal/health"
	"github.com/aws-samples/gameanalytics-pipeline/internal/maintenance"
	tlog "github.com/aws-samples/gameanalytics-pipeline/internal/telemetry/log"
)

// Server exposes the maintenance cron endpoints and the process health and
// Prometheus metrics endpoints.
type Server struct {
	controller *maintenance.Controller
	health     *health.Controller
}

// NewServer builds a Server bound to a maintenance.Controller and the
// shared health.Controller.
func NewServer(controller *maintenance.Controller, hc *health.Controller) *Server {
	return &Server{controller: controller, health: hc}
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/redshift-time-series-table-create", s.handleRollTimeSeries)
	mux.HandleFunc("/redshift-analyze-vacuum-tables", s.handleVacuumAndAnalyze)
	mux.HandleFunc("/report-solution-statistics", s.handleReportSolutionStatistics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleRollTimeSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	tlog.Info("httpapi: updateTimeSeriesTables()")
	if err := s.controller.RollTimeSeries(r.Context()); err != nil {
		tlog.Error("httpapi: error updating time series tables: %v", err)
		http.Error(w, "Operation Failed.", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleVacuumAndAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	tlog.Info("httpapi: analyzeVacuumTables()")
	if err := s.controller.VacuumAndAnalyze(r.Context()); err != nil {
		tlog.Error("httpapi: error vacuuming/analyzing tables: %v", err)
		http.Error(w, "Operation Failed.", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleReportSolutionStatistics is a no-op placeholder: this deployment
// does not opt into anonymous usage reporting.
func (s *Server) handleReportSolutionStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	tlog.Info("httpapi: reportSolutionStatistics() - reporting DISABLED")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy, shards := s.health.Snapshot()
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprintf(w, "healthy=%v shards=%v\n", healthy, shards)
}

// ListenAndServe starts the HTTP server on the specified address.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	tlog.Info("httpapi: maintenance server listening on %s", addr)
	return httpServer.ListenAndServe()
}

// Shutdown gracefully stops the underlying HTTP server, if running.
func (s *Server) Shutdown(ctx context.Context, httpServer *http.Server) error {
	return httpServer.Shutdown(ctx)
}
