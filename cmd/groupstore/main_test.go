/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type cli struct {
	t    *testing.T
	root string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	root := filepath.Join(t.TempDir(), "containers")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GST_CONFIG", filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv("GST_CONTAINER_ROOT", root)
	for _, k := range []string{"GST_MIGRATE_FROM", "GST_MIGRATE_TO", "GST_DELETE_SOURCE", "GST_MIGRATE_STRATEGY", "GST_STORE_NAME", "GST_READ_ONLY", "GST_TELEMETRY_OPT_IN", "GST_TELEMETRY_URL", "GST_LOG_FILE"} {
		t.Setenv(k, "")
	}
	return &cli{t: t, root: root}
}

func (c *cli) run(args ...string) (int, string, string) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func (c *cli) write(rel, content string) {
	c.t.Helper()
	p := filepath.Join(c.root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		c.t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		c.t.Fatal(err)
	}
}

func TestMigrateCommand(t *testing.T) {
	c := newCLI(t)
	c.write("group.app.v1/default.store", "data")

	code, out, errOut := c.run("migrate", "--from", "group.app.v1", "--to", "group.app.v2")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "migrated ") {
		t.Fatalf("unexpected output %q", out)
	}
	b, err := os.ReadFile(filepath.Join(c.root, "group.app.v2", "default.store"))
	if err != nil || string(b) != "data" {
		t.Fatalf("destination not copied: %q, %v", b, err)
	}

	code, out, _ = c.run("migrate", "--from", "group.app.v1", "--to", "group.app.v2")
	if code != 0 || !strings.Contains(out, "skipped (destination-exists)") {
		t.Fatalf("second run: exit %d, %q", code, out)
	}
}

func TestMigrateDeleteSource(t *testing.T) {
	c := newCLI(t)
	c.write("old/default.store", "data")
	code, _, errOut := c.run("migrate", "--from", "old", "--to", "new", "--delete-source", "--direct")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if _, err := os.Stat(filepath.Join(c.root, "old")); !os.IsNotExist(err) {
		t.Fatalf("source should be removed, stat err=%v", err)
	}
}

func TestMigrateSourceMissingIsSuccess(t *testing.T) {
	c := newCLI(t)
	code, out, _ := c.run("migrate", "--from", "old", "--to", "new")
	if code != 0 || !strings.Contains(out, "source-missing") {
		t.Fatalf("exit %d, %q", code, out)
	}
}

func TestMigrateFromEnvironment(t *testing.T) {
	c := newCLI(t)
	c.write("env.old/default.store", "x")
	t.Setenv("GST_MIGRATE_FROM", "env.old")
	t.Setenv("GST_MIGRATE_TO", "env.new")
	code, out, errOut := c.run("migrate")
	if code != 0 || !strings.HasPrefix(out, "migrated ") {
		t.Fatalf("exit %d, %q, %s", code, out, errOut)
	}
}

func TestUsageErrors(t *testing.T) {
	c := newCLI(t)
	cases := [][]string{
		{"migrate"},
		{"migrate", "--bogus"},
		{"open"},
		{"bogus"},
		{"defaults", "get", "--group", "g"},
		{"version", "extra"},
	}
	for _, args := range cases {
		if code, _, _ := c.run(args...); code != 2 {
			t.Errorf("%v: exit %d, want 2", args, code)
		}
	}
}

func TestOpenAndPath(t *testing.T) {
	c := newCLI(t)
	code, out, errOut := c.run("open", "--group", "group.app.v2")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	want := filepath.Join(c.root, "group.app.v2", "default.store")
	if !strings.Contains(out, "store location: "+want) || !strings.Contains(out, "schema: groupstore v1") {
		t.Fatalf("unexpected output %q", out)
	}

	code, out, _ = c.run("path", "--group", "group.app.v2")
	if code != 0 || strings.TrimSpace(out) != "store location: "+want {
		t.Fatalf("path: exit %d, %q", code, out)
	}

	code, out, _ = c.run("open", "--group", "group.app.v2", "--read-only")
	if code != 0 || !strings.Contains(out, want) {
		t.Fatalf("read-only open: exit %d, %q", code, out)
	}
}

func TestOpenReadOnlyMissingFails(t *testing.T) {
	c := newCLI(t)
	if code, _, _ := c.run("open", "--group", "g", "--read-only"); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
}

func TestOpenWithMigration(t *testing.T) {
	c := newCLI(t)
	if code, _, errOut := c.run("open", "--group", "v1"); code != 0 {
		t.Fatalf("seed: %s", errOut)
	}
	code, out, errOut := c.run("open", "--group", "v2", "--migrate-from", "v1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "migrated ") || !strings.Contains(out, filepath.Join(c.root, "v2", "default.store")) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestPathUnknownGroup(t *testing.T) {
	c := newCLI(t)
	if code, _, _ := c.run("path", "--group", "a/b"); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
}

func TestDefaultsCommands(t *testing.T) {
	c := newCLI(t)
	if code, _, errOut := c.run("defaults", "set", "--group", "g", "launches", "3"); code != 0 {
		t.Fatalf("set: %s", errOut)
	}
	if code, _, errOut := c.run("defaults", "set", "--group", "g", "greeting", "hello world"); code != 0 {
		t.Fatalf("set: %s", errOut)
	}
	code, out, _ := c.run("defaults", "get", "--group", "g", "launches")
	if code != 0 || strings.TrimSpace(out) != "3" {
		t.Fatalf("get: exit %d, %q", code, out)
	}
	code, out, _ = c.run("defaults", "list", "--group", "g")
	if code != 0 || out != "greeting=hello world\nlaunches=3\n" {
		t.Fatalf("list: exit %d, %q", code, out)
	}
	if code, _, _ := c.run("defaults", "delete", "--group", "g", "launches"); code != 0 {
		t.Fatalf("delete failed")
	}
	if code, _, _ := c.run("defaults", "get", "--group", "g", "launches"); code != 1 {
		t.Fatalf("deleted key should be missing")
	}
}

func TestVersionCommand(t *testing.T) {
	c := newCLI(t)
	code, out, _ := c.run("version")
	if code != 0 || !strings.HasPrefix(out, "groupstore ") {
		t.Fatalf("exit %d, %q", code, out)
	}
}

func TestMigrationEventDeliveredBeforeExit(t *testing.T) {
	c := newCLI(t)
	c.write("v1/default.store", "data")

	var mu sync.Mutex
	var events []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var m map[string]any
		if json.Unmarshal(b, &m) == nil {
			mu.Lock()
			events = append(events, m)
			mu.Unlock()
		}
	}))
	defer srv.Close()
	t.Setenv("GST_TELEMETRY_OPT_IN", "true")
	t.Setenv("GST_TELEMETRY_URL", srv.URL)

	if code, _, errOut := c.run("migrate", "--from", "v1", "--to", "v2"); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected one delivered event when run returns, got %d", len(events))
	}
	if events[0]["name"] != "migration" || events[0]["kind"] != "migrated" {
		t.Fatalf("unexpected event %v", events[0])
	}
}

func TestConfigCommands(t *testing.T) {
	c := newCLI(t)
	if code, _, errOut := c.run("config", "set", "migration.from", "group.app.v1"); code != 0 {
		t.Fatalf("set: %s", errOut)
	}
	if code, _, _ := c.run("config", "set", "migration.strategy", "sideways"); code != 2 {
		t.Fatalf("invalid value should be a usage error")
	}
	t.Setenv("GST_STORE_NAME", "envname")
	code, _, errOut := c.run("config", "set", "store.name", "filename")
	if code != 0 || !strings.Contains(errOut, "overridden by GST_STORE_NAME") {
		t.Fatalf("set overridden key: exit %d, %q", code, errOut)
	}

	code, out, _ := c.run("config", "show")
	if code != 0 {
		t.Fatalf("show: exit %d", code)
	}
	for _, want := range []string{
		"migration.from=group.app.v1\n",
		"store.name=envname (from GST_STORE_NAME)\n",
		"migration.strategy=atomic\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	code, out, _ = c.run("config", "path")
	if code != 0 || strings.TrimSpace(out) != os.Getenv("GST_CONFIG") {
		t.Fatalf("path: exit %d, %q", code, out)
	}
}
