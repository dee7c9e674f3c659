/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package container

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveJoinsRoot(t *testing.T) {
	root := t.TempDir()
	l := Locator{Root: root}
	dir, ok := l.Resolve("group.com.example.app")
	if !ok {
		t.Fatalf("expected identifier to resolve")
	}
	if want := filepath.Join(root, "group.com.example.app"); dir != want {
		t.Fatalf("Resolve = %q, want %q", dir, want)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("Resolve must not create the directory, stat err = %v", err)
	}
}

func TestResolveRejectsBadIdentifiers(t *testing.T) {
	l := Locator{Root: t.TempDir()}
	for _, id := range []string{"", "  ", ".", "..", "a/b", `a\b`, "../escape", " group.a", "group.a\t", "a\x00b"} {
		if _, ok := l.Resolve(id); ok {
			t.Errorf("Resolve(%q) should fail", id)
		}
	}
}

func TestResolveWithoutRoot(t *testing.T) {
	if _, ok := (Locator{}).Resolve("group.app"); ok {
		t.Fatalf("empty root must not resolve")
	}
	missing := filepath.Join(t.TempDir(), "nope")
	if _, ok := (Locator{Root: missing}).Resolve("group.app"); ok {
		t.Fatalf("missing root must not resolve")
	}
}

func TestEnsureExists(t *testing.T) {
	l := Locator{Root: t.TempDir()}
	dir, err := l.EnsureExists("group.app")
	if err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Fatalf("container dir not created: %v", err)
	}
	// second call is a no-op
	if _, err := l.EnsureExists("group.app"); err != nil {
		t.Fatalf("EnsureExists again: %v", err)
	}
	if _, err := l.EnsureExists("bad/id"); !errors.Is(err, ErrNoAccess) {
		t.Fatalf("expected ErrNoAccess, got %v", err)
	}
}

func TestNewLocatorUsesEnvRoot(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvRoot, root)
	l, err := NewLocator("")
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	abs, _ := filepath.Abs(root)
	if l.Root != abs {
		t.Fatalf("Root = %q, want %q", l.Root, abs)
	}
}
