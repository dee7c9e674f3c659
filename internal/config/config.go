/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted as YAML in the user scope.
// Environment variables override file values at runtime and are never written back.
//
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int             `yaml:"config_version"`
	Containers    ContainerConfig `yaml:"containers"`
	Migration     MigrationConfig `yaml:"migration"`
	Store         StoreConfig     `yaml:"store"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

type ContainerConfig struct {
	// Root holds the shared containers; empty means the platform default.
	Root string `yaml:"root"`
}

type MigrationConfig struct {
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	DeleteSource bool   `yaml:"delete_source"`
	Strategy     string `yaml:"strategy"` // "atomic" | "direct"
}

type StoreConfig struct {
	Name          string `yaml:"name"`
	ReadOnly      bool   `yaml:"read_only"`
	SyncBackendID string `yaml:"sync_backend_id"`
	SchemaFile    string `yaml:"schema_file"`
	// The sync token is not stored on disk; it lives in the OS keychain.
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type TelemetryConfig struct {
	OptIn bool   `yaml:"opt_in"`
	URL   string `yaml:"url"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Migration:     MigrationConfig{Strategy: "atomic"},
		Store:         StoreConfig{Name: "default"},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile   = "GST_CONFIG"
	EnvContainerDir = "GST_CONTAINER_ROOT"
	EnvMigrateFrom  = "GST_MIGRATE_FROM"
	EnvMigrateTo    = "GST_MIGRATE_TO"
	EnvDeleteSource = "GST_DELETE_SOURCE"
	EnvStrategy     = "GST_MIGRATE_STRATEGY"
	EnvStoreName    = "GST_STORE_NAME"
	EnvReadOnly     = "GST_READ_ONLY"
	EnvSyncBackend  = "GST_SYNC_BACKEND"
	EnvTelemetryOpt = "GST_TELEMETRY_OPT_IN"
	EnvLogLevel     = "GST_LOG_LEVEL"
	EnvLogFormat    = "GST_LOG_FORMAT"
	EnvLogSource    = "GST_LOG_SOURCE"
	EnvLogFile      = "GST_LOG_FILE"
)

// ConfigPath returns the per-user config file path, or $GST_CONFIG when set.
func ConfigPath() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvConfigFile)); v != "" {
		return v, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "GroupStore")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "GroupStore")
	default:
		if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
			base = filepath.Join(x, "groupstore")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "groupstore")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the config file (if present), applies defaults, and merges environment overrides.
// An unreadable or malformed file is reported; a missing one is not.
func Load() (AppConfig, error) {
	cfg, err := LoadFile()
	applyEnvOverrides(&cfg)
	return cfg, err
}

// LoadFile is Load without environment overrides. Edit and Save what it returns
// so overrides never end up in the file.
func LoadFile() (AppConfig, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	var fileCfg AppConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	mergeInto(&cfg, &fileCfg)
	return cfg, nil
}

// Save writes cfg to the config file.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if v := strings.TrimSpace(src.Containers.Root); v != "" {
		dst.Containers.Root = v
	}
	if v := strings.TrimSpace(src.Migration.From); v != "" {
		dst.Migration.From = v
	}
	if v := strings.TrimSpace(src.Migration.To); v != "" {
		dst.Migration.To = v
	}
	// booleans: copy directly from the file so user preferences persist
	dst.Migration.DeleteSource = src.Migration.DeleteSource
	if v := strings.TrimSpace(src.Migration.Strategy); v != "" {
		dst.Migration.Strategy = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Store.Name); v != "" {
		dst.Store.Name = v
	}
	dst.Store.ReadOnly = src.Store.ReadOnly
	if v := strings.TrimSpace(src.Store.SyncBackendID); v != "" {
		dst.Store.SyncBackendID = v
	}
	if v := strings.TrimSpace(src.Store.SchemaFile); v != "" {
		dst.Store.SchemaFile = v
	}
	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	dst.Logging.Source = src.Logging.Source
	if v := strings.TrimSpace(src.Logging.File); v != "" {
		dst.Logging.File = v
	}
	dst.Telemetry.OptIn = src.Telemetry.OptIn
	if v := strings.TrimSpace(src.Telemetry.URL); v != "" {
		dst.Telemetry.URL = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	str := func(key string, dst *string, lower bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if lower {
				v = strings.ToLower(v)
			}
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = parseBool(v)
		}
	}
	str(EnvContainerDir, &cfg.Containers.Root, false)
	str(EnvMigrateFrom, &cfg.Migration.From, false)
	str(EnvMigrateTo, &cfg.Migration.To, false)
	boolean(EnvDeleteSource, &cfg.Migration.DeleteSource)
	str(EnvStrategy, &cfg.Migration.Strategy, true)
	str(EnvStoreName, &cfg.Store.Name, false)
	boolean(EnvReadOnly, &cfg.Store.ReadOnly)
	str(EnvSyncBackend, &cfg.Store.SyncBackendID, false)
	boolean(EnvTelemetryOpt, &cfg.Telemetry.OptIn)
	str(EnvLogLevel, &cfg.Logging.Level, true)
	str(EnvLogFormat, &cfg.Logging.Format, true)
	boolean(EnvLogSource, &cfg.Logging.Source)
	str(EnvLogFile, &cfg.Logging.File, false)
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// EnvOverrideFor returns the env var name if the dotted config key is overridden by the environment.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := envKeys[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

var envKeys = map[string]string{
	"containers.root":         EnvContainerDir,
	"migration.from":          EnvMigrateFrom,
	"migration.to":            EnvMigrateTo,
	"migration.delete_source": EnvDeleteSource,
	"migration.strategy":      EnvStrategy,
	"store.name":              EnvStoreName,
	"store.read_only":         EnvReadOnly,
	"store.sync_backend_id":   EnvSyncBackend,
	"telemetry.opt_in":        EnvTelemetryOpt,
	"logging.level":           EnvLogLevel,
	"logging.format":          EnvLogFormat,
	"logging.source":          EnvLogSource,
	"logging.file":            EnvLogFile,
}

// Keys lists the dotted keys accepted by Get and Set.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of a dotted key such as "migration.from".
func (c *AppConfig) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown config key %q", key)
	}
	return f.get(c), nil
}

// Set assigns a dotted key from its string form.
func (c *AppConfig) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	return f.set(c, strings.TrimSpace(value))
}

type field struct {
	get func(*AppConfig) string
	set func(*AppConfig, string) error
}

func stringField(ptr func(*AppConfig) *string) field {
	return field{
		get: func(c *AppConfig) string { return *ptr(c) },
		set: func(c *AppConfig, v string) error { *ptr(c) = v; return nil },
	}
}

func boolField(ptr func(*AppConfig) *bool) field {
	return field{
		get: func(c *AppConfig) string { return strconv.FormatBool(*ptr(c)) },
		set: func(c *AppConfig, v string) error {
			switch strings.ToLower(v) {
			case "1", "true", "on", "yes":
				*ptr(c) = true
			case "0", "false", "off", "no":
				*ptr(c) = false
			default:
				return fmt.Errorf("invalid boolean %q", v)
			}
			return nil
		},
	}
}

func choiceField(ptr func(*AppConfig) *string, allowed ...string) field {
	f := stringField(ptr)
	f.set = func(c *AppConfig, v string) error {
		v = strings.ToLower(v)
		for _, a := range allowed {
			if v == a {
				*ptr(c) = v
				return nil
			}
		}
		return fmt.Errorf("invalid value %q (want one of %s)", v, strings.Join(allowed, ", "))
	}
	return f
}

var fields = map[string]field{
	"containers.root":         stringField(func(c *AppConfig) *string { return &c.Containers.Root }),
	"migration.from":          stringField(func(c *AppConfig) *string { return &c.Migration.From }),
	"migration.to":            stringField(func(c *AppConfig) *string { return &c.Migration.To }),
	"migration.delete_source": boolField(func(c *AppConfig) *bool { return &c.Migration.DeleteSource }),
	"migration.strategy":      choiceField(func(c *AppConfig) *string { return &c.Migration.Strategy }, "atomic", "direct"),
	"store.name":              stringField(func(c *AppConfig) *string { return &c.Store.Name }),
	"store.read_only":         boolField(func(c *AppConfig) *bool { return &c.Store.ReadOnly }),
	"store.sync_backend_id":   stringField(func(c *AppConfig) *string { return &c.Store.SyncBackendID }),
	"store.schema_file":       stringField(func(c *AppConfig) *string { return &c.Store.SchemaFile }),
	"logging.level":           choiceField(func(c *AppConfig) *string { return &c.Logging.Level }, "debug", "info", "warn", "error"),
	"logging.format":          choiceField(func(c *AppConfig) *string { return &c.Logging.Format }, "console", "json"),
	"logging.source":          boolField(func(c *AppConfig) *bool { return &c.Logging.Source }),
	"logging.file":            stringField(func(c *AppConfig) *string { return &c.Logging.File }),
	"telemetry.opt_in":        boolField(func(c *AppConfig) *bool { return &c.Telemetry.OptIn }),
	"telemetry.url":           stringField(func(c *AppConfig) *string { return &c.Telemetry.URL }),
}
