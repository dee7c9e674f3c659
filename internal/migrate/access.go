/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package migrate

// Identifier names a shared container. It is opaque to this package.
type Identifier string

// Location is a resolved filesystem path for an Identifier. It may not exist yet.
type Location string

// FilesystemAccess is the narrow filesystem capability the migrator works through.
type FilesystemAccess interface {
	// Resolve maps an identifier to its container location; false means no access.
	Resolve(id Identifier) (Location, bool)
	Exists(loc Location) bool
	CreateDirectory(loc Location, recursive bool) error
	// CopyRecursive copies the file or tree at from to to, which must not exist.
	CopyRecursive(from, to Location) error
	RemoveRecursive(loc Location) error
	// Rename moves from over to within the same filesystem.
	Rename(from, to Location) error
}

// ContentChecker is implemented by accesses that can tell an empty destination
// directory from one holding a store.
type ContentChecker interface {
	HasContent(loc Location) (bool, error)
}

// SpaceChecker is implemented by accesses that can size a bundle and report
// free space at a location.
type SpaceChecker interface {
	BundleSize(loc Location) (uint64, error)
	FreeSpace(loc Location) (uint64, error)
}
