/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package container resolves shared-container identifiers to directories.
// A shared container is a directory that several cooperating applications on
// the same machine read and write; each one lives directly below a common root.
package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvRoot overrides the platform default container root.
const EnvRoot = "GST_CONTAINER_ROOT"

// ErrNoAccess is returned when an identifier cannot be resolved to a container directory.
var ErrNoAccess = errors.New("no access to shared container")

// Locator maps identifiers to directories below Root.
// A Locator whose Root is empty or missing on disk resolves nothing, which
// is how a process without the shared-container entitlement behaves.
type Locator struct {
	Root string
}

// NewLocator returns a Locator rooted at root, or at DefaultRoot when root is empty.
func NewLocator(root string) (Locator, error) {
	if strings.TrimSpace(root) == "" {
		r, err := DefaultRoot()
		if err != nil {
			return Locator{}, err
		}
		root = r
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Locator{}, fmt.Errorf("resolve container root: %w", err)
	}
	return Locator{Root: abs}, nil
}

// DefaultRoot returns the per-user directory holding shared containers.
func DefaultRoot() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvRoot)); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errors.New("cannot resolve container root")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Group Containers"), nil
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, "GroupContainers"), nil
	default:
		base := os.Getenv("XDG_DATA_HOME")
		if base == "" {
			base = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(base, "group-containers"), nil
	}
}

// Resolve returns the directory for id. The directory itself need not exist;
// the root does.
func (l Locator) Resolve(id string) (string, bool) {
	if !validIdentifier(id) || strings.TrimSpace(l.Root) == "" {
		return "", false
	}
	st, err := os.Stat(l.Root)
	if err != nil || !st.IsDir() {
		return "", false
	}
	return filepath.Join(l.Root, id), true
}

// EnsureExists resolves id and creates its directory if missing.
// Creating it up front keeps the persistence backend from doing so lazily on first open.
func (l Locator) EnsureExists(id string) (string, error) {
	dir, ok := l.Resolve(id)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoAccess, id)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create container %q: %w", id, err)
	}
	return dir, nil
}

// validIdentifier rejects ids that would escape the root or name it, and ids
// with surrounding whitespace.
func validIdentifier(id string) bool {
	if id == "" || id != strings.TrimSpace(id) || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.ContainsRune(id, 0)
}
