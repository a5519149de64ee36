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
package credentials

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
)

// The mount path for the secrets engine
const mountPath = "secrets"

// The path for storing per-host credentials
const credentialPath = mountPath + "/data/hosts"

// VaultConfig configures access to Vault (address and token). The token should be scoped minimally for KV operations.
type VaultConfig struct {
	Address string
	Token   string
}

func (c VaultConfig) String() string {
	return fmt.Sprintf("Vault Address: %s", c.Address)
}

// Validate ensures required Vault fields are provided.
func (c *VaultConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return errors.New("invalid vault address specified")
	}

	if strings.TrimSpace(c.Token) == "" {
		return errors.New("invalid vault token specified")
	}

	return nil
}

// VaultManager implements the Manager interface with a Vault store.
type VaultManager struct {
	client *vault.Client
}

// NewManager initializes a Vault client with the configured address and token.
// TLS verification is skipped to handle self-signed certificates in Kubernetes environments.
func (c *VaultConfig) NewManager() (*VaultManager, error) {
	config := &vault.Config{
		Address: c.Address,
		HttpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, //nolint:gosec // Skip TLS verify for internal K8s services
				},
			},
		},
	}
	client, err := vault.NewClient(config)
	if err != nil {
		return nil, err
	}

	client.SetToken(c.Token)

	return &VaultManager{client: client}, nil
}

func (m *VaultManager) pathExists(path string) (bool, error) {
	mounts, err := m.client.Sys().ListMounts()
	if err != nil {
		return false, err
	}

	for mount := range mounts {
		if mount == path || mount == path+"/" {
			return true, nil
		}
	}
	return false, nil
}

// Start ensures the kv-v2 secrets engine is mounted.
func (m *VaultManager) Start(ctx context.Context) error {
	exists, err := m.pathExists(mountPath)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	data := map[string]any{
		"type": "kv-v2",
	}
	_, err = m.client.Logical().WriteWithContext(ctx, fmt.Sprintf("/sys/mounts/%s", mountPath), data)
	return err
}

func (m *VaultManager) Stop(ctx context.Context) error { return nil }

// Put stores both credentials for a host under its own KV path.
func (m *VaultManager) Put(ctx context.Context, hostname string, creds HostCredentials) error {
	payload := map[string]any{}
	if creds.Controller != nil {
		payload["controller_user"] = creds.Controller.User
		payload["controller_password"] = creds.Controller.Password.Value
	}
	if creds.VSphere != nil {
		payload["vsphere_user"] = creds.VSphere.User
		payload["vsphere_password"] = creds.VSphere.Password.Value
	}

	_, err := m.client.Logical().WriteWithContext(ctx, fmt.Sprintf("%s/%s", credentialPath, hostname), map[string]any{
		"data": payload,
	})
	return err
}

// Get resolves credentials for a host.
func (m *VaultManager) Get(ctx context.Context, hostname string) (*HostCredentials, error) {
	secret, err := m.client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/%s", credentialPath, hostname))
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hostname)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hostname)
	}

	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}

	creds := &HostCredentials{}
	if u := str("controller_user"); u != "" {
		creds.Controller = credential.New(u, str("controller_password"))
	}
	if u := str("vsphere_user"); u != "" {
		creds.VSphere = credential.New(u, str("vsphere_password"))
	}

	return creds, nil
}
