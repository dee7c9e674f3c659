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
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// PreferencesDirName holds Defaults suites inside a container directory.
const PreferencesDirName = "Preferences"

// Defaults is a small key/value suite shared by every app using a group container.
// Each Set rewrites the whole file through a temp file and rename.
type Defaults struct {
	suite string
	path  string

	mu     sync.Mutex
	values map[string]any
}

// OpenDefaults loads suite from <dir>/Preferences/<suite>.yaml. A missing file is an empty suite.
func OpenDefaults(dir, suite string) (*Defaults, error) {
	if strings.TrimSpace(suite) == "" || strings.ContainsAny(suite, `/\`) {
		return nil, fmt.Errorf("invalid defaults suite %q", suite)
	}
	d := &Defaults{
		suite:  suite,
		path:   filepath.Join(dir, PreferencesDirName, suite+".yaml"),
		values: map[string]any{},
	}
	b, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read defaults %s: %w", suite, err)
	}
	if err := yaml.Unmarshal(b, &d.values); err != nil {
		return nil, fmt.Errorf("parse defaults %s: %w", suite, err)
	}
	if d.values == nil {
		d.values = map[string]any{}
	}
	return d, nil
}

// Suite returns the suite name.
func (d *Defaults) Suite() string { return d.suite }

// Path returns the backing file path.
func (d *Defaults) Path() string { return d.path }

// Get returns the raw value for key.
func (d *Defaults) Get(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[key]
	return v, ok
}

// String returns the value for key formatted as a string, or "".
func (d *Defaults) String(key string) string {
	v, ok := d.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the boolean value for key; false when unset or not a bool.
func (d *Defaults) Bool(key string) bool {
	v, _ := d.Get(key)
	b, _ := v.(bool)
	return b
}

// Int returns the integer value for key; 0 when unset or not an int.
func (d *Defaults) Int(key string) int {
	v, _ := d.Get(key)
	n, _ := v.(int)
	return n
}

// Keys returns the keys in sorted order.
func (d *Defaults) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set stores value under key and persists the suite.
func (d *Defaults) Set(key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("defaults key is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, had := d.values[key]
	d.values[key] = value
	if err := d.persist(); err != nil {
		if had {
			d.values[key] = prev
		} else {
			delete(d.values, key)
		}
		return err
	}
	return nil
}

// Remove deletes key and persists the suite.
func (d *Defaults) Remove(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, had := d.values[key]
	if !had {
		return nil
	}
	delete(d.values, key)
	if err := d.persist(); err != nil {
		d.values[key] = prev
		return err
	}
	return nil
}

func (d *Defaults) persist() error {
	data, err := yaml.Marshal(d.values)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure preferences dir: %w", err)
	}
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(d.path), os.Getpid(), rand.Int()))
	if err := writeFileSync(temp, data); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("write temp defaults: %w", err)
	}
	if err := os.Rename(temp, d.path); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace defaults: %w", err)
	}
	return nil
}

// writeFileSync writes data to path and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
