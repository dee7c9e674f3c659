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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"groupstore/internal/config"
	"groupstore/internal/container"
	applog "groupstore/internal/log"
	"groupstore/internal/migrate"
	"groupstore/internal/store"
	"groupstore/internal/telemetry"
	"groupstore/internal/version"
)

// defaultSchema is used by open when no --schema file is given.
var defaultSchema = store.Schema{
	Name:    "groupstore",
	Version: 1,
	Entities: []store.Entity{{
		Name: "item",
		DDL: []string{
			`CREATE TABLE IF NOT EXISTS item (id TEXT PRIMARY KEY, payload BLOB, updated_at TEXT NOT NULL)`,
		},
	}},
}

type app struct {
	stdout, stderr io.Writer
	cfg            config.AppConfig
	root           string
	log            *slog.Logger
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	var logLevel string

	root := &cobra.Command{
		Use:           "groupstore",
		Short:         "Manage stores kept in shared app-group containers",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q", args[0])
			}
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	root.PersistentFlags().StringVar(&a.root, "root", "", "directory holding the shared containers (default: platform location)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		a.migrateCommand(),
		a.openCommand(),
		a.pathCommand(),
		a.defaultsCommand(),
		a.tokenCommand(),
		a.configCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads the config file and environment, then initializes logging and telemetry.
func (a *app) setup(logLevel string) error {
	cfg, loadErr := config.Load()
	a.cfg = cfg
	lvl := cfg.Logging.Level
	if logLevel != "" {
		lvl = logLevel
	}
	applog.Init(applog.Options{
		Level:     lvl,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Output:    a.stderr,
	})
	a.log = applog.WithComponent("cli")
	if loadErr != nil {
		a.log.Warn("config not loaded; using defaults", slog.Any("err", loadErr))
	}

	tc := telemetry.FromEnv()
	tc.OptIn = tc.OptIn || cfg.Telemetry.OptIn
	if tc.EventsURL == "" {
		tc.EventsURL = cfg.Telemetry.URL
	}
	telemetry.SetDefault(tc)
	return nil
}

func (a *app) locator() (container.Locator, error) {
	root := a.root
	if root == "" {
		root = a.cfg.Containers.Root
	}
	return container.NewLocator(root)
}

func (a *app) migrator(deleteSource, direct bool) (*migrate.Migrator, error) {
	l, err := a.locator()
	if err != nil {
		return nil, err
	}
	strategy := migrate.StrategyAtomic
	if direct || a.cfg.Migration.Strategy == "direct" {
		strategy = migrate.StrategyDirect
	}
	return migrate.New(migrate.NewOSAccess(l),
		migrate.WithDeleteSource(deleteSource || a.cfg.Migration.DeleteSource),
		migrate.WithStrategy(strategy),
	), nil
}

func (a *app) report(out migrate.Outcome, strategy string) {
	fmt.Fprintln(a.stdout, out.String())
	if out.Warning != nil {
		fmt.Fprintln(a.stderr, "warning:", out.Warning)
	}
	telemetry.Default().Migration(out.Kind.String(), string(out.Reason), strategy, out.Warning != nil)
}

func (a *app) migrateCommand() *cobra.Command {
	var from, to string
	var deleteSource, direct bool
	cmd := &cobra.Command{
		Use:   "migrate --from ID --to ID",
		Short: "Copy the store of one shared container into another if the new one is empty",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from = firstNonEmpty(from, a.cfg.Migration.From)
			to = firstNonEmpty(to, a.cfg.Migration.To)
			if from == "" || to == "" {
				return usageErrorf("--from and --to are required")
			}
			m, err := a.migrator(deleteSource, direct)
			if err != nil {
				return err
			}
			out, err := m.RunIfNeeded(migrate.Identifier(from), migrate.Identifier(to))
			if err != nil {
				return err
			}
			a.report(out, strategyName(direct, a.cfg))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "identifier of the container holding the current store")
	cmd.Flags().StringVar(&to, "to", "", "identifier of the container to move the store into")
	cmd.Flags().BoolVar(&deleteSource, "delete-source", false, "remove the old store after a successful copy")
	cmd.Flags().BoolVar(&direct, "direct", false, "copy straight into the destination instead of staging and renaming")
	return cmd
}

func (a *app) openCommand() *cobra.Command {
	var group, name, schemaFile, from string
	var readOnly bool
	cmd := &cobra.Command{
		Use:   "open --group ID",
		Short: "Open (creating or upgrading) the store in a shared container and print its location",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if group == "" {
				return usageErrorf("--group is required")
			}
			schema, err := loadSchema(firstNonEmpty(schemaFile, a.cfg.Store.SchemaFile))
			if err != nil {
				return err
			}
			l, err := a.locator()
			if err != nil {
				return err
			}
			cfg, _, err := store.GroupConfiguration(l, group,
				store.WithName(firstNonEmpty(name, a.cfg.Store.Name)),
				store.WithReadOnly(readOnly || a.cfg.Store.ReadOnly),
				store.WithSyncBackend(a.cfg.Store.SyncBackendID),
			)
			if err != nil {
				return err
			}

			var c *store.Container
			if from != "" {
				m, err := a.migrator(false, false)
				if err != nil {
					return err
				}
				var out migrate.Outcome
				c, out, err = store.OpenAfterMigration(cmd.Context(), m, migrate.Identifier(from), migrate.Identifier(group), schema, cfg)
				if err != nil {
					return err
				}
				a.report(out, strategyName(false, a.cfg))
			} else if c, err = store.Open(cmd.Context(), schema, cfg); err != nil {
				return err
			}
			defer c.Close()

			c.PrintStorePath(a.stdout)
			v, err := c.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "schema: %s v%d\n", schema.Name, v)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "shared container identifier")
	cmd.Flags().StringVar(&name, "name", "", "store name (default \"default\")")
	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON schema descriptor file")
	cmd.Flags().StringVar(&from, "migrate-from", "", "migrate from this container first")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "open without writing; the store must exist")
	return cmd
}

func (a *app) pathCommand() *cobra.Command {
	var group, name string
	cmd := &cobra.Command{
		Use:   "path [--group ID]",
		Short: "Print where the store file lives",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []store.ConfigOption{store.WithName(firstNonEmpty(name, a.cfg.Store.Name))}
			if group != "" {
				l, err := a.locator()
				if err != nil {
					return err
				}
				dir, ok := l.Resolve(group)
				if !ok {
					return fmt.Errorf("%w: %q", store.ErrNoGroupAccess, group)
				}
				opts = append(opts, store.WithGroupContainer(group, dir))
			}
			p, err := store.NewConfiguration(opts...).Path()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "store location: %s\n", p)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "shared container identifier")
	cmd.Flags().StringVar(&name, "name", "", "store name")
	return cmd
}

func (a *app) defaultsCommand() *cobra.Command {
	var group string
	open := func() (*store.Defaults, error) {
		if group == "" {
			return nil, usageErrorf("--group is required")
		}
		l, err := a.locator()
		if err != nil {
			return nil, err
		}
		_, d, err := store.GroupConfiguration(l, group)
		return d, err
	}

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Read and write the group's shared defaults",
		Args:  noArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return cmd.Help() },
	}
	cmd.PersistentFlags().StringVar(&group, "group", "", "shared container identifier")

	get := &cobra.Command{
		Use:  "get KEY",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			v, ok := d.Get(args[0])
			if !ok {
				return fmt.Errorf("key %q not set", args[0])
			}
			fmt.Fprintln(a.stdout, v)
			return nil
		},
	}
	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set KEY; VALUE is parsed as YAML so numbers and booleans keep their type",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			var v any
			if err := yaml.Unmarshal([]byte(args[1]), &v); err != nil || v == nil {
				v = args[1]
			}
			return d.Set(args[0], v)
		},
	}
	unset := &cobra.Command{
		Use:  "delete KEY",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			return d.Remove(args[0])
		},
	}
	list := &cobra.Command{
		Use:  "list",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			keys := d.Keys()
			sort.Strings(keys)
			for _, k := range keys {
				v, _ := d.Get(k)
				fmt.Fprintf(a.stdout, "%s=%v\n", k, v)
			}
			return nil
		},
	}
	cmd.AddCommand(get, set, unset, list)
	return cmd
}

func (a *app) tokenCommand() *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the sync backend credential kept in the OS keyring",
		Args:  noArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return cmd.Help() },
	}
	cmd.PersistentFlags().StringVar(&backend, "backend", "", "sync backend identifier (default: store.sync_backend_id)")
	backendID := func() (string, error) {
		id := firstNonEmpty(backend, a.cfg.Store.SyncBackendID)
		if id == "" {
			return "", usageErrorf("--backend is required")
		}
		return id, nil
	}

	set := &cobra.Command{
		Use:  "set TOKEN",
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := backendID()
			if err != nil {
				return err
			}
			return config.SetSyncToken(id, args[0])
		},
	}
	del := &cobra.Command{
		Use:  "delete",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := backendID()
			if err != nil {
				return err
			}
			return config.SetSyncToken(id, "")
		},
	}
	status := &cobra.Command{
		Use:  "status",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := backendID()
			if err != nil {
				return err
			}
			_, err = config.SyncToken(id)
			switch {
			case errors.Is(err, config.ErrNoToken):
				fmt.Fprintf(a.stdout, "%s: no token\n", id)
			case err != nil:
				return err
			default:
				fmt.Fprintf(a.stdout, "%s: token stored\n", id)
			}
			return nil
		},
	}
	cmd.AddCommand(set, del, status)
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the user configuration file",
		Args:  noArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return cmd.Help() },
	}
	path := &cobra.Command{
		Use:  "path",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.ConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, p)
			return nil
		},
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration; keys set by the environment are marked",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range config.Keys() {
				v, _ := a.cfg.Get(k)
				if env, ok := config.EnvOverrideFor(k); ok {
					fmt.Fprintf(a.stdout, "%s=%s (from %s)\n", k, v, env)
					continue
				}
				fmt.Fprintf(a.stdout, "%s=%s\n", k, v)
			}
			return nil
		},
	}
	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write KEY to the configuration file",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile()
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return usageError{err}
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			if env, ok := config.EnvOverrideFor(args[0]); ok {
				fmt.Fprintf(a.stderr, "warning: %s is overridden by %s\n", args[0], env)
			}
			return nil
		},
	}
	cmd.AddCommand(path, show, set)
	return cmd
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:  "version",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.stdout, "groupstore", version.String())
			return nil
		},
	}
}

func loadSchema(path string) (store.Schema, error) {
	if path == "" {
		return defaultSchema, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return store.Schema{}, fmt.Errorf("read schema: %w", err)
	}
	return store.LoadSchema(data)
}

func strategyName(direct bool, cfg config.AppConfig) string {
	if direct || cfg.Migration.Strategy == "direct" {
		return migrate.StrategyDirect.String()
	}
	return migrate.StrategyAtomic.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	check := cobra.ExactArgs(n)
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
