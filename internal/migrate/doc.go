/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package migrate relocates a persisted store from one shared container to another.
// It decides whether a move is required (the new container is empty and the old one
// holds data), copies the store bundle into place through a hidden sibling that is
// renamed over the destination, and optionally removes the old copy.
//
// Migration must run before any persistence container is opened against the
// destination. The package never opens stores and never exits the process.
package migrate
