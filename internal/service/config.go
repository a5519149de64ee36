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
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
	"github.com/firmware-maestro/maestro/pkg/credentials"
	"github.com/firmware-maestro/maestro/pkg/db"
	"github.com/firmware-maestro/maestro/pkg/hostregistry"
	"github.com/firmware-maestro/maestro/pkg/jobs"
	"github.com/firmware-maestro/maestro/pkg/redfish"
	"github.com/firmware-maestro/maestro/pkg/vsphere"
)

// DataStoreType selects between fully in-memory operation and persistent
// backends (Postgres registry plus Vault credentials).
type DataStoreType string

const (
	DatastoreTypeInMemory   DataStoreType = "InMemory"
	DatastoreTypePersistent DataStoreType = "Persistent"
)

// ArtifactSpec is one firmware artifact declared in the config file.
type ArtifactSpec struct {
	ID          string `mapstructure:"id"`
	DeviceClass string `mapstructure:"device_class"`
	Version     string `mapstructure:"version"`
	Checksum    string `mapstructure:"checksum"`
	Path        string `mapstructure:"path"`
}

// SeedSpec is one statically configured host.
type SeedSpec struct {
	Hostname     string `mapstructure:"hostname"`
	ControllerIP string `mapstructure:"controller_ip"`
}

// Config captures the service's runtime settings: datastore mode, external
// endpoints, concurrency ceilings, and the declared artifact catalog.
type Config struct {
	MetricsPort   int           `mapstructure:"metrics_port"`
	DataStoreType DataStoreType `mapstructure:"datastore_type"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Name     string `mapstructure:"name"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		CACert   string `mapstructure:"ca_cert"`
	} `mapstructure:"db"`

	Vault struct {
		Address string `mapstructure:"address"`
		Token   string `mapstructure:"token"`
	} `mapstructure:"vault"`

	VCenter struct {
		URL               string        `mapstructure:"url"`
		User              string        `mapstructure:"user"`
		Password          string        `mapstructure:"password"`
		Insecure          bool          `mapstructure:"insecure"`
		EvacuationTimeout time.Duration `mapstructure:"evacuation_timeout"`
		PolicyAttribute   string        `mapstructure:"policy_attribute"`
		Name              string        `mapstructure:"name"`
	} `mapstructure:"vcenter"`

	Redfish redfish.Config `mapstructure:"redfish"`
	Limits  jobs.Limits    `mapstructure:"limits"`

	Scheduler struct {
		MaxConcurrent int64         `mapstructure:"max_concurrent"`
		GroupLimit    int           `mapstructure:"group_limit"`
		TickInterval  time.Duration `mapstructure:"tick_interval"`
	} `mapstructure:"scheduler"`

	Reconciler struct {
		Interval       time.Duration `mapstructure:"interval"`
		StaleThreshold int           `mapstructure:"stale_threshold"`
	} `mapstructure:"reconciler"`

	LockMaxHold time.Duration `mapstructure:"lock_max_hold"`

	Artifacts []ArtifactSpec `mapstructure:"artifacts"`
	Seeds     []SeedSpec     `mapstructure:"seeds"`
}

// Load reads configuration from the given file (optional) and the MAESTRO_*
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MAESTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("metrics_port", 9090)
	v.SetDefault("datastore_type", string(DatastoreTypeInMemory))
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "maestro")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("lock_max_hold", 2*time.Hour)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.DataStoreType {
	case DatastoreTypeInMemory, DatastoreTypePersistent:
	default:
		return fmt.Errorf("unsupported datastore type %s", c.DataStoreType)
	}

	if c.DataStoreType == DatastoreTypePersistent && c.Vault.Address == "" {
		return errors.New("vault address is required in persistent mode")
	}

	return nil
}

func (c *Config) toDBConf() db.Config {
	return db.Config{
		Host:              c.DB.Host,
		Port:              c.DB.Port,
		DBName:            c.DB.Name,
		Credential:        *credential.New(c.DB.User, c.DB.Password),
		CACertificatePath: c.DB.CACert,
	}
}

func (c *Config) toRegistryConf() *hostregistry.Config {
	switch c.DataStoreType {
	case DatastoreTypePersistent:
		dbConf := c.toDBConf()
		return &hostregistry.Config{
			BackendType: hostregistry.BackendTypePostgres,
			Postgres:    &dbConf,
		}
	default:
		return &hostregistry.Config{BackendType: hostregistry.BackendTypeInMemory}
	}
}

func (c *Config) toCredentialConf() *credentials.Config {
	switch c.DataStoreType {
	case DatastoreTypePersistent:
		return &credentials.Config{
			DataStoreType: credentials.DatastoreTypeVault,
			VaultConfig: &credentials.VaultConfig{
				Address: c.Vault.Address,
				Token:   c.Vault.Token,
			},
		}
	default:
		return &credentials.Config{DataStoreType: credentials.DatastoreTypeInMemory}
	}
}

// toVSphereConf returns nil when no vCenter endpoint is configured; the
// service then runs without maintenance coordination or discovery.
func (c *Config) toVSphereConf() *vsphere.Config {
	if c.VCenter.URL == "" {
		return nil
	}
	return &vsphere.Config{
		URL:               c.VCenter.URL,
		Credential:        credential.New(c.VCenter.User, c.VCenter.Password),
		Insecure:          c.VCenter.Insecure,
		EvacuationTimeout: c.VCenter.EvacuationTimeout,
		PolicyAttribute:   c.VCenter.PolicyAttribute,
	}
}
