/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"groupstore/internal/container"
)

// DefaultName is the store name used when none is configured.
const DefaultName = "default"

// StoreExt is appended to the store name to form the file name.
const StoreExt = ".store"

// ErrNoGroupAccess is returned when a group container cannot be resolved.
var ErrNoGroupAccess = errors.New("store: no access to group container")

// Configuration describes where and how a container is opened.
// The zero value opens DefaultName in DefaultDirectory, read-write, without sync.
type Configuration struct {
	Name          string
	ReadOnly      bool
	SyncBackendID string
	// GroupID names the shared container Dir was resolved from, if any.
	GroupID string
	Dir     string
}

// ConfigOption sets one field of a Configuration.
type ConfigOption func(*Configuration)

func WithName(name string) ConfigOption { return func(c *Configuration) { c.Name = name } }

func WithReadOnly(ro bool) ConfigOption { return func(c *Configuration) { c.ReadOnly = ro } }

// WithSyncBackend records the identifier of the backend the store syncs with.
func WithSyncBackend(id string) ConfigOption { return func(c *Configuration) { c.SyncBackendID = id } }

func WithDirectory(dir string) ConfigOption { return func(c *Configuration) { c.Dir = dir } }

// WithGroupContainer scopes the configuration to a resolved shared container directory.
func WithGroupContainer(groupID, dir string) ConfigOption {
	return func(c *Configuration) {
		c.GroupID = groupID
		c.Dir = dir
	}
}

// NewConfiguration builds a Configuration from opts.
func NewConfiguration(opts ...ConfigOption) Configuration {
	var c Configuration
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// GroupConfiguration ensures the shared container groupID exists and returns a
// configuration scoped to it together with the group's Defaults suite.
func GroupConfiguration(l container.Locator, groupID string, opts ...ConfigOption) (Configuration, *Defaults, error) {
	dir, err := l.EnsureExists(groupID)
	if err != nil {
		if errors.Is(err, container.ErrNoAccess) {
			return Configuration{}, nil, fmt.Errorf("%w: %q", ErrNoGroupAccess, groupID)
		}
		return Configuration{}, nil, err
	}
	defaults, err := OpenDefaults(dir, groupID)
	if err != nil {
		return Configuration{}, nil, err
	}
	cfg := NewConfiguration(append([]ConfigOption{WithGroupContainer(groupID, dir)}, opts...)...)
	return cfg, defaults, nil
}

// StoreName returns the configured name or DefaultName.
func (c Configuration) StoreName() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	return DefaultName
}

// Path returns the store file location for c.
func (c Configuration) Path() (string, error) {
	name := c.StoreName()
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid store name %q", name)
	}
	dir := c.Dir
	if strings.TrimSpace(dir) == "" {
		d, err := DefaultDirectory()
		if err != nil {
			return "", err
		}
		dir = d
	}
	return filepath.Join(dir, name+StoreExt), nil
}

// DefaultDirectory is the per-user directory for stores outside any shared container.
func DefaultDirectory() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve default store directory: %w", err)
	}
	return filepath.Join(base, "groupstore"), nil
}
