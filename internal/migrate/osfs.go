/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package migrate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	jujufs "github.com/juju/utils/v4/fs"

	"groupstore/internal/container"
)

// OSAccess implements FilesystemAccess, ContentChecker and SpaceChecker on the
// local filesystem, resolving identifiers through a container.Locator.
type OSAccess struct {
	Locator container.Locator
}

// NewOSAccess returns an OSAccess resolving through l.
func NewOSAccess(l container.Locator) *OSAccess { return &OSAccess{Locator: l} }

func (a *OSAccess) Resolve(id Identifier) (Location, bool) {
	dir, ok := a.Locator.Resolve(string(id))
	return Location(dir), ok
}

func (a *OSAccess) Exists(loc Location) bool {
	_, err := os.Lstat(string(loc))
	return err == nil
}

func (a *OSAccess) CreateDirectory(loc Location, recursive bool) error {
	if recursive {
		return os.MkdirAll(string(loc), 0o755)
	}
	return os.Mkdir(string(loc), 0o755)
}

// CopyRecursive copies files, directories and symlinks without following links.
// Copied regular files are flushed to disk before returning.
func (a *OSAccess) CopyRecursive(from, to Location) error {
	if err := jujufs.Copy(string(from), string(to)); err != nil {
		return err
	}
	return syncTree(string(to))
}

func (a *OSAccess) RemoveRecursive(loc Location) error {
	return os.RemoveAll(string(loc))
}

// Rename moves from over to and flushes the parent directory entry.
func (a *OSAccess) Rename(from, to Location) error {
	if err := os.Rename(string(from), string(to)); err != nil {
		return err
	}
	return syncDir(filepath.Dir(string(to)))
}

// HasContent reports whether loc is a non-empty file or a directory with entries.
func (a *OSAccess) HasContent(loc Location) (bool, error) {
	st, err := os.Lstat(string(loc))
	if err != nil {
		return false, err
	}
	if !st.IsDir() {
		return st.Size() > 0 || st.Mode()&fs.ModeSymlink != 0, nil
	}
	d, err := os.Open(string(loc))
	if err != nil {
		return false, err
	}
	defer func() { _ = d.Close() }()
	_, err = d.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BundleSize sums the sizes of the regular files below loc.
func (a *OSAccess) BundleSize(loc Location) (uint64, error) {
	var size uint64
	err := filepath.WalkDir(string(loc), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += uint64(info.Size())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", loc, err)
	}
	return size, nil
}

func (a *OSAccess) FreeSpace(loc Location) (uint64, error) {
	return freeSpace(string(loc))
}

func syncTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		serr := f.Sync()
		if cerr := f.Close(); serr == nil {
			serr = cerr
		}
		return serr
	})
}
