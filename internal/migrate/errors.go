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
)

var (
	// ErrContainerUnresolvable is reported as Outcome.Cause of a skip, never returned.
	ErrContainerUnresolvable = errors.New("migrate: container unresolvable")
	// ErrCopyFailed matches every *CopyFailedError.
	ErrCopyFailed = errors.New("migrate: copy failed")
	// ErrCleanupFailed matches every *CleanupFailedError.
	ErrCleanupFailed = errors.New("migrate: cleanup failed")
	// ErrInsufficientSpace is wrapped by a CopyFailedError when the preflight check fails.
	ErrInsufficientSpace = errors.New("insufficient space")
)

// CopyFailedError reports that the store bundle could not be put in place.
// The destination is absent when this is returned, so callers must not open a
// container against it.
type CopyFailedError struct {
	From, To Location
	Op       string
	Err      error
}

func (e *CopyFailedError) Error() string {
	return fmt.Sprintf("migrate: copy %s -> %s: %s: %v", e.From, e.To, e.Op, e.Err)
}

func (e *CopyFailedError) Unwrap() error { return e.Err }

func (e *CopyFailedError) Is(target error) bool { return target == ErrCopyFailed }

// CleanupFailedError reports that the source bundle survived a successful migration.
type CleanupFailedError struct {
	Path Location
	Err  error
}

func (e *CleanupFailedError) Error() string {
	return fmt.Sprintf("migrate: remove source %s: %v", e.Path, e.Err)
}

func (e *CleanupFailedError) Unwrap() error { return e.Err }

func (e *CleanupFailedError) Is(target error) bool { return target == ErrCleanupFailed }
