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
package redfish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	retry "github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"
	"github.com/stmcginnis/gofish"
	"github.com/stmcginnis/gofish/common"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
	"github.com/firmware-maestro/maestro/pkg/objects/artifact"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

const simpleUpdateURI = "/redfish/v1/UpdateService/Actions/UpdateService.SimpleUpdate"

type gofishClient struct {
	cfg Config
}

// NewClient creates a gofish-backed protocol client.
func NewClient(cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &gofishClient{cfg: cfg}, nil
}

// Connect opens an authenticated session against the host's controller.
// Transient connect failures are retried with exponential backoff; credential
// and TLS failures are not.
func (c *gofishClient) Connect(ctx context.Context, h *host.Host, cred *credential.Credential) (Session, error) {
	if !cred.Validate() {
		return nil, fmt.Errorf("%w: missing credentials for %s", ErrUnauthorized, h.Hostname)
	}

	clientCfg := gofish.ClientConfig{
		Endpoint:         fmt.Sprintf("https://%s", h.ControllerIP.String()),
		Username:         cred.User,
		Password:         cred.Password.Value,
		Insecure:         c.cfg.Insecure,
		ReuseConnections: true,
	}

	var api *gofish.APIClient
	err := retry.Do(
		func() error {
			cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			defer cancel()

			a, err := gofish.ConnectContext(cctx, clientCfg)
			if err != nil {
				return classify(err)
			}

			api = a
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.RequestAttempts),
		retry.Delay(c.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return &gofishSession{
		api:       api,
		clientCfg: clientCfg,
		cfg:       c.cfg,
		host:      h,
	}, nil
}

type gofishSession struct {
	api       *gofish.APIClient
	clientCfg gofish.ClientConfig
	cfg       Config
	host      *host.Host
	reauthed  bool
}

// call runs one protocol operation with bounded retries for transient
// failures. A session-expiry (401) is answered with one transparent
// re-authentication; a second expiry surfaces as ErrUnreachable.
func (s *gofishSession) call(ctx context.Context, op func() error) error {
	return retry.Do(
		func() error {
			err := op()
			if err == nil {
				return nil
			}

			cerr := classify(err)
			if errors.Is(cerr, ErrUnauthorized) {
				if s.reauthed {
					return fmt.Errorf("%w: session expired again on %s", ErrUnreachable, s.host.Hostname)
				}
				s.reauthed = true

				log.Debugf("session lease expired on %s, re-authenticating", s.host.Hostname)
				if rerr := s.reconnect(ctx); rerr != nil {
					return rerr
				}
				// retry the operation on the fresh session
				return Transient(cerr)
			}

			return cerr
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.RequestAttempts),
		retry.Delay(s.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
}

func (s *gofishSession) reconnect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	api, err := gofish.ConnectContext(cctx, s.clientCfg)
	if err != nil {
		return classify(err)
	}

	s.api.Logout()
	s.api = api
	return nil
}

// Inventory queries controller firmware version, model, and health.
func (s *gofishSession) Inventory(ctx context.Context) (*Inventory, error) {
	var inv *Inventory

	err := s.call(ctx, func() error {
		systems, err := s.api.Service.Systems()
		if err != nil {
			return err
		}
		if len(systems) == 0 {
			return fmt.Errorf("controller %s exposes no computer systems", s.host.Hostname)
		}
		sys := systems[0]

		managers, err := s.api.Service.Managers()
		if err != nil {
			return err
		}
		if len(managers) == 0 {
			return fmt.Errorf("controller %s exposes no managers", s.host.Hostname)
		}

		inv = &Inventory{
			FirmwareVersion: managers[0].FirmwareVersion,
			Model:           sys.Model,
			DeviceClass:     sys.Model,
			HealthOK:        sys.Status.Health == common.OKHealth,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return inv, nil
}

// UploadImage verifies the artifact checksum, then stages the image on the
// controller. Remote http(s) artifact paths are handed to the controller as-is
// (it fetches them itself); local files are pushed to the update service.
func (s *gofishSession) UploadImage(ctx context.Context, a *artifact.Artifact) (ImageHandle, error) {
	if strings.HasPrefix(a.Path, "http://") || strings.HasPrefix(a.Path, "https://") {
		// checksum for remote images is verified at registration time
		return ImageHandle(a.Path), nil
	}

	if err := a.VerifyFile(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
	}

	var handle ImageHandle
	err := s.call(ctx, func() error {
		f, err := os.Open(a.Path)
		if err != nil {
			return err
		}
		defer f.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.clientCfg.Endpoint+"/redfish/v1/UpdateService", f)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.SetBasicAuth(s.clientCfg.Username, s.clientCfg.Password)

		resp, err := s.api.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("image push rejected with %d", resp.StatusCode)
		}

		if loc := resp.Header.Get("Location"); loc != "" {
			handle = ImageHandle(loc)
		} else {
			handle = ImageHandle(a.Path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return handle, nil
}

// SubmitUpdate starts the firmware update task via SimpleUpdate and returns
// the task monitor to poll.
func (s *gofishSession) SubmitUpdate(ctx context.Context, handle ImageHandle) (TaskID, error) {
	var task TaskID

	err := s.call(ctx, func() error {
		resp, err := s.api.Post(simpleUpdateURI, map[string]interface{}{
			"ImageURI": string(handle),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		loc := resp.Header.Get("Location")
		if loc == "" {
			return fmt.Errorf("controller %s returned no task monitor for update", s.host.Hostname)
		}

		task = TaskID(loc)
		return nil
	})
	if err != nil {
		return "", err
	}

	return task, nil
}

// taskMonitor is the subset of the Redfish task resource the poller reads.
type taskMonitor struct {
	TaskState       string `json:"TaskState"`
	TaskStatus      string `json:"TaskStatus"`
	PercentComplete int    `json:"PercentComplete"`
	Messages        []struct {
		Message string `json:"Message"`
	} `json:"Messages"`
}

// PollTask reads one observation of the update task.
func (s *gofishSession) PollTask(ctx context.Context, id TaskID) (TaskStatus, error) {
	var status TaskStatus

	err := s.call(ctx, func() error {
		resp, err := s.api.Get(string(id))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var mon taskMonitor
		if err := json.NewDecoder(resp.Body).Decode(&mon); err != nil {
			return err
		}

		switch mon.TaskState {
		case "Completed":
			status = TaskStatus{State: TaskSucceeded, Progress: 100}
		case "Exception", "Killed", "Cancelled", "Interrupted":
			reason := mon.TaskStatus
			if reason == "" && len(mon.Messages) > 0 {
				reason = mon.Messages[0].Message
			}
			status = TaskStatus{State: TaskFailed, Progress: mon.PercentComplete, Reason: reason}
		default:
			status = TaskStatus{State: TaskRunning, Progress: mon.PercentComplete}
		}
		return nil
	})
	if err != nil {
		return TaskStatus{}, err
	}

	return status, nil
}

// Reboot requests a graceful restart of the host system. A busy controller
// surfaces as ErrBusy without retries.
func (s *gofishSession) Reboot(ctx context.Context) error {
	return s.call(ctx, func() error {
		systems, err := s.api.Service.Systems()
		if err != nil {
			return err
		}
		if len(systems) == 0 {
			return fmt.Errorf("controller %s exposes no computer systems", s.host.Hostname)
		}

		resp, err := s.api.Post(systems[0].ODataID+"/Actions/ComputerSystem.Reset", map[string]interface{}{
			"ResetType": "GracefulRestart",
		})
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// Close logs the session out.
func (s *gofishSession) Close() {
	s.api.Logout()
}
