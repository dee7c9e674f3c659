/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed schema.meta.json
var schemaMeta []byte

// ErrInvalidSchema is wrapped by every schema validation failure.
var ErrInvalidSchema = errors.New("store: invalid schema")

// Entity is one persisted type: a table plus its indexes and triggers.
type Entity struct {
	Name string   `json:"name"`
	DDL  []string `json:"ddl"`
}

// MigrationStep upgrades a store to version To from To-1.
type MigrationStep struct {
	To         int      `json:"to"`
	Statements []string `json:"statements"`
}

// Schema describes the entities of a store at Version and how older stores get there.
type Schema struct {
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Entities   []Entity        `json:"entities"`
	Migrations []MigrationStep `json:"migrations,omitempty"`
}

// LoadSchema parses and validates a JSON schema descriptor.
func LoadSchema(data []byte) (Schema, error) {
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaMeta), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return Schema{}, fmt.Errorf("%w: %s", ErrInvalidSchema, strings.Join(msgs, "; "))
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate checks the constraints JSON Schema cannot express: unique entity
// names and migration steps that stay within Version without repeats.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" || s.Version < 1 || len(s.Entities) == 0 {
		return fmt.Errorf("%w: name, version and at least one entity are required", ErrInvalidSchema)
	}
	seen := map[string]bool{}
	for _, e := range s.Entities {
		if seen[e.Name] {
			return fmt.Errorf("%w: duplicate entity %q", ErrInvalidSchema, e.Name)
		}
		seen[e.Name] = true
	}
	steps := map[int]bool{}
	for _, m := range s.Migrations {
		if m.To < 2 || m.To > s.Version {
			return fmt.Errorf("%w: migration to version %d outside 2..%d", ErrInvalidSchema, m.To, s.Version)
		}
		if steps[m.To] {
			return fmt.Errorf("%w: duplicate migration to version %d", ErrInvalidSchema, m.To)
		}
		steps[m.To] = true
	}
	return nil
}

// stepsAfter returns the migration steps that bring a store at version cur up to s.Version, in order.
func (s Schema) stepsAfter(cur int) []MigrationStep {
	var out []MigrationStep
	for _, m := range s.Migrations {
		if m.To > cur && m.To <= s.Version {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	return out
}
