/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package store opens the persistence container applications work against.
// A container is a single SQLite file, <dir>/<name>.store, created from a
// schema descriptor and a Configuration. Group-scoped configurations place
// the file inside a shared container so cooperating applications see the same
// data. When the shared container identifier changes, run the migrate package
// first; OpenAfterMigration does both in the required order.
package store
