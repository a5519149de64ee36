/*
 * SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
// Package service assembles the orchestrator from configuration: registry,
// credential store, protocol client, maintenance coordinator, job machine,
// scheduler, reconciler, and the metrics/health endpoint.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/firmware-maestro/maestro/pkg/credentials"
	"github.com/firmware-maestro/maestro/pkg/hostlock"
	"github.com/firmware-maestro/maestro/pkg/hostregistry"
	"github.com/firmware-maestro/maestro/pkg/jobs"
	"github.com/firmware-maestro/maestro/pkg/objects/artifact"
	"github.com/firmware-maestro/maestro/pkg/orchestrator"
	"github.com/firmware-maestro/maestro/pkg/redfish"
	"github.com/firmware-maestro/maestro/pkg/scheduler"
	"github.com/firmware-maestro/maestro/pkg/vsphere"
)

// Service owns the assembled components and their lifecycle.
type Service struct {
	cfg *Config

	registry    hostregistry.Registry
	creds       credentials.Manager
	coordinator vsphere.Coordinator
	locks       *hostlock.Manager
	sched       *scheduler.Scheduler
	reconciler  *hostregistry.Reconciler
	orch        *orchestrator.Orchestrator

	httpServer *http.Server
}

// New assembles a Service from configuration. Nothing runs until Start.
func New(ctx context.Context, cfg *Config) (*Service, error) {
	registry, err := hostregistry.New(ctx, cfg.toRegistryConf())
	if err != nil {
		return nil, fmt.Errorf("could not create host registry: %w", err)
	}

	creds, err := credentials.New(ctx, cfg.toCredentialConf())
	if err != nil {
		return nil, fmt.Errorf("could not create credential manager: %w", err)
	}

	client, err := redfish.NewClient(cfg.Redfish)
	if err != nil {
		return nil, fmt.Errorf("could not create protocol client: %w", err)
	}

	var coordinator vsphere.Coordinator
	if vcConf := cfg.toVSphereConf(); vcConf != nil {
		coordinator, err = vsphere.NewCoordinator(ctx, *vcConf)
		if err != nil {
			return nil, fmt.Errorf("could not connect to vcenter: %w", err)
		}
	} else {
		log.Warn("No vCenter configured, running without maintenance coordination")
		coordinator = vsphere.NopCoordinator{}
	}

	catalog := artifact.NewCatalog()
	for _, spec := range cfg.Artifacts {
		var a *artifact.Artifact
		if spec.Checksum == "" {
			// local images may omit the digest; it is computed here, at
			// registration time
			a, err = artifact.NewFromFile(spec.ID, spec.DeviceClass, spec.Version, spec.Path)
		} else {
			a, err = artifact.New(spec.ID, spec.DeviceClass, spec.Version, spec.Checksum, spec.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid artifact in config: %w", err)
		}
		if err := catalog.Register(a); err != nil {
			return nil, err
		}
	}

	locks := hostlock.NewManager(cfg.LockMaxHold)
	locks.Reclaimed = func(host, holder string) {
		log.WithFields(log.Fields{"host": host, "holder": holder}).
			Warn("Reclaimed abandoned host lock")
	}

	history, err := buildHistory(cfg, registry)
	if err != nil {
		return nil, err
	}

	svc := &Service{cfg: cfg, registry: registry, creds: creds, coordinator: coordinator, locks: locks}

	machine, err := jobs.NewMachine(&jobs.MachineConfig{
		Limits:      cfg.Limits,
		Poll:        cfg.Redfish,
		Client:      client,
		Coordinator: coordinator,
		Credentials: creds,
		Locks:       locks,
		Hosts:       registry,
		Notifier:    jobs.MultiNotifier{jobs.LogNotifier{}, notifierFunc(svc.notifyTerminal)},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create job machine: %w", err)
	}

	svc.sched, err = scheduler.New(&scheduler.Config{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		GroupLimit:    cfg.Scheduler.GroupLimit,
		TickInterval:  cfg.Scheduler.TickInterval,
		Machine:       machine,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create scheduler: %w", err)
	}

	seeds := make([]hostregistry.Seed, 0, len(cfg.Seeds))
	for _, s := range cfg.Seeds {
		seeds = append(seeds, hostregistry.Seed{Hostname: s.Hostname, ControllerIP: s.ControllerIP})
	}

	svc.reconciler, err = hostregistry.NewReconciler(&hostregistry.ReconcilerConfig{
		Interval:       cfg.Reconciler.Interval,
		StaleThreshold: cfg.Reconciler.StaleThreshold,
		VCenterName:    cfg.VCenter.Name,
		Seeds:          seeds,
		Registry:       registry,
		Coordinator:    coordinator,
		Client:         client,
		Credentials:    creds,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create reconciler: %w", err)
	}

	metrics := orchestrator.NewMetrics(prometheus.DefaultRegisterer,
		func() float64 { return float64(svc.sched.Active()) },
		func() float64 { return float64(svc.sched.QueueDepth()) },
	)

	svc.orch, err = orchestrator.New(&orchestrator.Config{
		Registry:   registry,
		Catalog:    catalog,
		Scheduler:  svc.sched,
		Reconciler: svc.reconciler,
		History:    history,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}

	return svc, nil
}

func buildHistory(cfg *Config, registry hostregistry.Registry) (orchestrator.HistoryStore, error) {
	if cfg.DataStoreType != DatastoreTypePersistent {
		return orchestrator.NewMemHistory(1000), nil
	}

	pgReg, ok := registry.(*hostregistry.PostgresRegistry)
	if !ok {
		return nil, fmt.Errorf("persistent mode requires the postgres registry")
	}
	return orchestrator.NewPostgresHistory(pgReg.DB()), nil
}

// Orchestrator exposes the facade for callers embedding the service.
func (s *Service) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// Start brings up the backends, the reconciler, and the HTTP endpoint.
func (s *Service) Start(ctx context.Context) error {
	if err := s.creds.Start(ctx); err != nil {
		return fmt.Errorf("could not start credential manager: %w", err)
	}
	if err := s.registry.Start(ctx); err != nil {
		return fmt.Errorf("could not start host registry: %w", err)
	}
	if err := s.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("could not start reconciler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthz)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", s.httpServer.Addr).Info("Serving metrics and health")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server stopped")
		}
	}()

	return nil
}

// Stop winds the service down: no new dispatches, in-flight jobs canceled
// (they still exit maintenance mode), then backends closed.
func (s *Service) Stop(ctx context.Context) error {
	s.reconciler.Stop()
	s.sched.Stop()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Metrics server shutdown failed")
		}
	}

	if err := s.registry.Stop(ctx); err != nil {
		log.WithError(err).Warn("Host registry shutdown failed")
	}
	return s.creds.Stop(ctx)
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":      "ok",
		"active_jobs": s.sched.Active(),
		"queued_jobs": s.sched.QueueDepth(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.WithError(err).Warn("Could not write health response")
	}
}

func (s *Service) notifyTerminal(n jobs.Notification) {
	s.orch.Notify(n)
}

// notifierFunc adapts a function to jobs.Notifier, letting the service pass
// the orchestrator's recorder before the orchestrator exists.
type notifierFunc func(jobs.Notification)

func (f notifierFunc) Notify(n jobs.Notification) { f(n) }
