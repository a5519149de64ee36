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
// Package orchestrator is the exposed facade: job submission against hosts or
// policy groups, cancellation, status queries, and job history. It ties the
// registry, artifact catalog, scheduler, and reconciler together and records
// terminal outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/firmware-maestro/maestro/pkg/db/model"
	"github.com/firmware-maestro/maestro/pkg/hostregistry"
	"github.com/firmware-maestro/maestro/pkg/jobs"
	"github.com/firmware-maestro/maestro/pkg/objects/artifact"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
	"github.com/firmware-maestro/maestro/pkg/scheduler"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Registry   hostregistry.Registry
	Catalog    *artifact.Catalog
	Scheduler  *scheduler.Scheduler
	Reconciler *hostregistry.Reconciler // optional
	History    HistoryStore
	Metrics    *Metrics // optional
}

// Validate checks required collaborators.
func (c *Config) Validate() error {
	if c.Registry == nil {
		return errors.New("host registry is required")
	}
	if c.Catalog == nil {
		return errors.New("artifact catalog is required")
	}
	if c.Scheduler == nil {
		return errors.New("scheduler is required")
	}
	if c.History == nil {
		c.History = NewMemHistory(0)
	}
	return nil
}

// Orchestrator is the service facade.
type Orchestrator struct {
	cfg *Config
}

// New creates the facade.
func New(cfg *Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{cfg: cfg}, nil
}

// SubmitRequest describes one submission: either a single host or every host
// in a policy group, against one artifact. A cron expression or interval
// makes the submission recurring.
type SubmitRequest struct {
	Hostname   string
	Group      string
	ArtifactID string
	DryRun     bool

	At       time.Time     // one-shot: dispatch no earlier than this
	Cron     string        // recurring: standard cron expression
	Interval time.Duration // recurring: fixed interval
}

func (r *SubmitRequest) validate() error {
	if (r.Hostname == "") == (r.Group == "") {
		return errors.New("exactly one of hostname or group is required")
	}
	if r.ArtifactID == "" {
		return errors.New("artifact id is required")
	}
	if r.Cron != "" && r.Interval > 0 {
		return errors.New("cron and interval are mutually exclusive")
	}
	return nil
}

// SubmitJobs queues one job per target host and returns their IDs. Stale
// hosts are skipped. Recurring submissions register one schedule per host
// resolved at submit time.
func (o *Orchestrator) SubmitJobs(ctx context.Context, req SubmitRequest) ([]string, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	art, err := o.cfg.Catalog.Get(req.ArtifactID)
	if err != nil {
		return nil, err
	}

	targets, err := o.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no eligible hosts for submission")
	}

	if req.Cron != "" || req.Interval > 0 {
		return o.submitRecurring(req, art, targets)
	}

	ids := make([]string, 0, len(targets))
	for _, h := range targets {
		job, err := o.mintJob(h.Hostname, art, req)
		if err != nil {
			return ids, err
		}
		if err := o.cfg.Scheduler.Submit(job, req.At); err != nil {
			return ids, err
		}
		o.countSubmitted(req.DryRun)
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func (o *Orchestrator) resolveTargets(ctx context.Context, req SubmitRequest) ([]*host.Host, error) {
	if req.Hostname != "" {
		h, err := o.cfg.Registry.Get(ctx, req.Hostname)
		if err != nil {
			return nil, err
		}
		return []*host.Host{h}, nil
	}

	hosts, err := o.cfg.Registry.ListByPolicyTag(ctx, req.Group)
	if err != nil {
		return nil, err
	}

	eligible := hosts[:0]
	for _, h := range hosts {
		if h.Stale {
			log.WithField("host", h.Hostname).Info("Skipping stale host")
			continue
		}
		eligible = append(eligible, h)
	}
	return eligible, nil
}

func (o *Orchestrator) mintJob(hostname string, art *artifact.Artifact, req SubmitRequest) (*jobs.Job, error) {
	job, err := jobs.NewJob(hostname, art)
	if err != nil {
		return nil, err
	}
	job.Group = req.Group
	job.DryRun = req.DryRun
	return job, nil
}

func (o *Orchestrator) submitRecurring(req SubmitRequest, art *artifact.Artifact, targets []*host.Host) ([]string, error) {
	var sched scheduler.Schedule
	if req.Cron != "" {
		c, err := scheduler.ParseCron(req.Cron)
		if err != nil {
			return nil, err
		}
		sched = c
	} else {
		sched = scheduler.Every{Interval: req.Interval}
	}

	names := make([]string, 0, len(targets))
	for _, h := range targets {
		hostname := h.Hostname
		name := fmt.Sprintf("%s/%s", hostname, art.ID)
		err := o.cfg.Scheduler.SubmitRecurring(name, sched, func() (*jobs.Job, error) {
			job, err := o.mintJob(hostname, art, req)
			if err == nil {
				o.countSubmitted(req.DryRun)
			}
			return job, err
		})
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

// Cancel requests cancellation of a one-shot job or deregisters a recurring
// submission by name.
func (o *Orchestrator) Cancel(id string) bool {
	if o.cfg.Scheduler.Cancel(id) {
		return true
	}
	return o.cfg.Scheduler.CancelRecurring(id)
}

// JobStatus reports a job's current state, falling back to history for jobs
// the scheduler no longer tracks.
func (o *Orchestrator) JobStatus(ctx context.Context, id string) (*model.JobRecord, error) {
	if job, ok := o.cfg.Scheduler.Job(id); ok {
		return recordFromSnapshot(job.Snapshot()), nil
	}
	return o.cfg.History.Job(ctx, id)
}

// ListJobs snapshots every job the scheduler tracks.
func (o *Orchestrator) ListJobs() []jobs.Snapshot {
	return o.cfg.Scheduler.Jobs()
}

// JobHistory lists completed job runs for a host, newest first.
func (o *Orchestrator) JobHistory(ctx context.Context, hostname string) ([]model.JobRecord, error) {
	return o.cfg.History.ForHost(ctx, hostname)
}

// HostStatus returns one host's registry view.
func (o *Orchestrator) HostStatus(ctx context.Context, hostname string) (*host.Host, error) {
	return o.cfg.Registry.Get(ctx, hostname)
}

// ListHosts returns all registered hosts.
func (o *Orchestrator) ListHosts(ctx context.Context) ([]*host.Host, error) {
	return o.cfg.Registry.List(ctx)
}

// Artifacts lists the registered firmware artifacts.
func (o *Orchestrator) Artifacts() []*artifact.Artifact {
	return o.cfg.Catalog.List()
}

// MetricsSummary aggregates fleet and queue state: host count, queued and
// running jobs, and firmware compliance against the newest catalog version
// for each host's device class.
type MetricsSummary struct {
	Hosts     int `json:"hosts"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Compliant int `json:"compliant"`
	Drifted   int `json:"drifted"`
}

// Summary computes the current metrics summary. Hosts without a known
// firmware version or with no catalog entry for their device class count as
// neither compliant nor drifted.
func (o *Orchestrator) Summary(ctx context.Context) (*MetricsSummary, error) {
	hosts, err := o.cfg.Registry.List(ctx)
	if err != nil {
		return nil, err
	}

	s := &MetricsSummary{
		Hosts:   len(hosts),
		Pending: o.cfg.Scheduler.QueueDepth(),
		Running: o.cfg.Scheduler.Active(),
	}
	for _, h := range hosts {
		latest := o.cfg.Catalog.LatestFor(h.DeviceClass)
		if latest == nil || h.FirmwareVersion == "" {
			continue
		}
		if h.FirmwareVersion == latest.Version {
			s.Compliant++
		} else {
			s.Drifted++
		}
	}
	return s, nil
}

// TriggerDiscovery requests an immediate reconciliation pass.
func (o *Orchestrator) TriggerDiscovery() {
	if o.cfg.Reconciler != nil {
		o.cfg.Reconciler.Trigger()
	}
}

// Notify implements jobs.Notifier: terminal outcomes are written to history
// and counted.
func (o *Orchestrator) Notify(n jobs.Notification) {
	job, ok := o.cfg.Scheduler.Job(n.JobID)
	if !ok {
		log.WithField("job", n.JobID).Warn("Terminal notification for unknown job")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.cfg.History.Record(ctx, job.Snapshot()); err != nil {
		log.WithField("job", n.JobID).WithError(err).Error("Could not record job history")
	}

	if o.cfg.Metrics == nil {
		return
	}
	switch n.State {
	case jobs.StateSucceeded:
		o.cfg.Metrics.JobsCompleted.WithLabelValues("succeeded").Inc()
	case jobs.StateFailed:
		o.cfg.Metrics.JobsCompleted.WithLabelValues("failed").Inc()
		o.cfg.Metrics.JobsFailed.WithLabelValues(string(n.Reason)).Inc()
	}
}

func (o *Orchestrator) countSubmitted(dryRun bool) {
	if o.cfg.Metrics == nil {
		return
	}
	o.cfg.Metrics.JobsSubmitted.WithLabelValues(fmt.Sprintf("%t", dryRun)).Inc()
}
