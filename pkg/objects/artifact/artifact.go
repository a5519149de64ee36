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
// Package artifact defines immutable firmware artifacts and the catalog that
// registers and resolves them. An artifact is referenced by jobs, never
// copied, and its checksum is verified before any upload.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// Artifact is an immutable firmware image reference plus metadata.
type Artifact struct {
	ID          string `json:"id"`
	DeviceClass string `json:"device_class"`
	Version     string `json:"version"`
	Checksum    string `json:"checksum"` // hex-encoded SHA-256
	Path        string `json:"path"`    // local path or image URI served to the controller
}

// New validates and creates an Artifact.
func New(id, deviceClass, version, checksum, path string) (*Artifact, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("artifact id is required")
	}
	if strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("artifact version is required")
	}
	if _, err := hex.DecodeString(checksum); err != nil || len(checksum) != sha256.Size*2 {
		return nil, fmt.Errorf("artifact checksum must be a hex-encoded SHA-256 digest")
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("artifact path is required")
	}

	return &Artifact{
		ID:          id,
		DeviceClass: deviceClass,
		Version:     version,
		Checksum:    strings.ToLower(checksum),
		Path:        path,
	}, nil
}

// NewFromFile creates an Artifact whose checksum is computed from the file at
// path, for local images registered without a declared digest.
func NewFromFile(id, deviceClass, version, path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %s: %w", id, err)
	}
	defer f.Close()

	sum, err := ChecksumOf(f)
	if err != nil {
		return nil, fmt.Errorf("failed to hash artifact %s: %w", id, err)
	}

	return New(id, deviceClass, version, sum, path)
}

func (a *Artifact) String() string {
	return fmt.Sprintf("%s (%s %s)", a.ID, a.DeviceClass, a.Version)
}

// VerifyReader checks the reader's content against the artifact checksum.
func (a *Artifact) VerifyReader(r io.Reader) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("failed to hash artifact %s: %w", a.ID, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if sum != a.Checksum {
		return fmt.Errorf("artifact %s checksum mismatch: expected %s, computed %s", a.ID, a.Checksum, sum)
	}

	return nil
}

// VerifyFile opens the artifact's local path and verifies its checksum.
func (a *Artifact) VerifyFile() error {
	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", a.ID, err)
	}
	defer f.Close()

	return a.VerifyReader(f)
}

// ChecksumOf computes the hex-encoded SHA-256 digest of a reader, for use at
// registration time.
func ChecksumOf(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Catalog is an in-memory registry of immutable artifacts keyed by ID.
type Catalog struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{artifacts: make(map[string]*Artifact)}
}

// Register adds an artifact. Artifacts are immutable once registered;
// re-registering an existing ID is an error.
func (c *Catalog) Register(a *Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.artifacts[a.ID]; ok {
		return fmt.Errorf("artifact %s is already registered", a.ID)
	}

	c.artifacts[a.ID] = a
	return nil
}

// Get resolves an artifact by ID.
func (c *Catalog) Get(id string) (*Artifact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("artifact %s is not registered", id)
	}

	return a, nil
}

// List returns all registered artifacts ordered by ID.
func (c *Catalog) List() []*Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Artifact, 0, len(c.artifacts))
	for _, a := range c.artifacts {
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LatestFor returns the most recently registered version for a device class,
// used to judge firmware compliance. Returns nil if the class is unknown.
func (c *Catalog) LatestFor(deviceClass string) *Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var latest *Artifact
	for _, a := range c.artifacts {
		if a.DeviceClass != deviceClass {
			continue
		}
		if latest == nil || a.Version > latest.Version {
			latest = a
		}
	}

	return latest
}
