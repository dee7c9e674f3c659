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
	"testing"
)

const notesJSON = `{
  "name": "notes",
  "version": 2,
  "entities": [
    {"name": "note", "ddl": ["CREATE TABLE IF NOT EXISTS note (id INTEGER PRIMARY KEY, body TEXT)"]}
  ],
  "migrations": [
    {"to": 2, "statements": ["ALTER TABLE note ADD COLUMN pinned INTEGER NOT NULL DEFAULT 0"]}
  ]
}`

func TestLoadSchema(t *testing.T) {
	s, err := LoadSchema([]byte(notesJSON))
	if err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	if s.Name != "notes" || s.Version != 2 || len(s.Entities) != 1 || len(s.Migrations) != 1 {
		t.Fatalf("schema = %+v", s)
	}
	if steps := s.stepsAfter(1); len(steps) != 1 || steps[0].To != 2 {
		t.Fatalf("stepsAfter(1) = %+v", steps)
	}
	if steps := s.stepsAfter(2); len(steps) != 0 {
		t.Fatalf("stepsAfter(2) = %+v", steps)
	}
}

func TestLoadSchemaRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing entities":  `{"name":"n","version":1}`,
		"bad entity name":   `{"name":"n","version":1,"entities":[{"name":"1bad","ddl":["x"]}]}`,
		"unknown field":     `{"name":"n","version":1,"entities":[{"name":"a","ddl":["x"]}],"extra":true}`,
		"duplicate entity":  `{"name":"n","version":1,"entities":[{"name":"a","ddl":["x"]},{"name":"a","ddl":["y"]}]}`,
		"step past version": `{"name":"n","version":2,"entities":[{"name":"a","ddl":["x"]}],"migrations":[{"to":3,"statements":["s"]}]}`,
		"duplicate step":    `{"name":"n","version":2,"entities":[{"name":"a","ddl":["x"]}],"migrations":[{"to":2,"statements":["s"]},{"to":2,"statements":["t"]}]}`,
	}
	for name, doc := range cases {
		if _, err := LoadSchema([]byte(doc)); !errors.Is(err, ErrInvalidSchema) {
			t.Errorf("%s: expected ErrInvalidSchema, got %v", name, err)
		}
	}
}
