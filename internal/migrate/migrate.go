/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package migrate

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	applog "groupstore/internal/log"
)

// Kind distinguishes the two results of a migration check.
type Kind int

const (
	Skipped Kind = iota
	Migrated
)

func (k Kind) String() string {
	if k == Migrated {
		return "migrated"
	}
	return "skipped"
}

// SkipReason says why nothing was copied.
type SkipReason string

const (
	ReasonNone              SkipReason = ""
	ReasonUnresolvable      SkipReason = "container-unresolvable"
	ReasonDestinationExists SkipReason = "destination-exists"
	ReasonSourceMissing     SkipReason = "source-missing"
)

// Outcome describes a completed migration check.
type Outcome struct {
	Kind   Kind
	Reason SkipReason
	From   Location
	To     Location
	// Cause carries ErrContainerUnresolvable for unresolvable skips.
	Cause error
	// Warning is a *CleanupFailedError when the source could not be removed.
	Warning error
}

func (o Outcome) String() string {
	if o.Kind == Skipped {
		return fmt.Sprintf("skipped (%s)", o.Reason)
	}
	if o.Warning != nil {
		return fmt.Sprintf("migrated %s -> %s (warning: %v)", o.From, o.To, o.Warning)
	}
	return fmt.Sprintf("migrated %s -> %s", o.From, o.To)
}

// Strategy selects how the bundle is written to the destination.
type Strategy int

const (
	// StrategyAtomic copies into a hidden sibling and renames it into place,
	// so the destination is either absent or complete.
	StrategyAtomic Strategy = iota
	// StrategyDirect copies straight into the destination. An interrupted
	// copy leaves a partial destination that a later run treats as populated.
	// Kept for reproducing the behavior of older releases.
	StrategyDirect
)

func (s Strategy) String() string {
	if s == StrategyDirect {
		return "direct"
	}
	return "atomic"
}

type options struct {
	deleteSource  bool
	strategy      Strategy
	emptyIsAbsent bool
	logger        *slog.Logger
}

// Option customizes a migration.
type Option func(*options)

// WithDeleteSource removes the source bundle after a successful copy.
func WithDeleteSource(v bool) Option { return func(o *options) { o.deleteSource = v } }

// WithStrategy selects the copy strategy. Default StrategyAtomic.
func WithStrategy(s Strategy) Option { return func(o *options) { o.strategy = s } }

// WithEmptyDestinationAsAbsent controls whether an existing but empty destination
// directory is replaced. It only takes effect when the access implements
// ContentChecker. Default true.
func WithEmptyDestinationAsAbsent(v bool) Option { return func(o *options) { o.emptyIsAbsent = v } }

// WithLogger sets the logger. Default is the "migrate" component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{strategy: StrategyAtomic, emptyIsAbsent: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = applog.WithComponent("migrate")
	}
	return o
}

// Migrate copies the store in container oldID to container newID when the new
// container holds nothing and the old one exists. Skips are returned as an
// Outcome with a nil error. A returned error is always a *CopyFailedError.
func Migrate(oldID, newID Identifier, access FilesystemAccess, opts ...Option) (Outcome, error) {
	o := buildOptions(opts)
	l := applog.WithOperation(o.logger, "migrate").With(
		slog.String("from_id", string(oldID)),
		slog.String("to_id", string(newID)),
	)

	src, okSrc := access.Resolve(oldID)
	dst, okDst := access.Resolve(newID)
	if !okSrc || !okDst {
		id := oldID
		if okSrc {
			id = newID
		}
		l.Debug("container not resolvable; skipping", slog.String("id", string(id)))
		return Outcome{
			Kind:   Skipped,
			Reason: ReasonUnresolvable,
			Cause:  fmt.Errorf("%w: %q", ErrContainerUnresolvable, id),
		}, nil
	}
	l = l.With(slog.String("from", string(src)), slog.String("to", string(dst)))
	skip := func(r SkipReason) Outcome { return Outcome{Kind: Skipped, Reason: r, From: src, To: dst} }

	// a container is never migrated onto itself
	if filepath.Clean(string(src)) == filepath.Clean(string(dst)) {
		l.Debug("source and destination are the same container; skipping")
		return skip(ReasonDestinationExists), nil
	}

	clearDst := false
	if access.Exists(dst) {
		if !o.emptyIsAbsent || !destinationIsEmpty(access, dst, l) {
			l.Debug("destination already populated; skipping")
			return skip(ReasonDestinationExists), nil
		}
		clearDst = true
	}

	if !access.Exists(src) {
		l.Debug("no source store; skipping")
		return skip(ReasonSourceMissing), nil
	}

	fail := func(op string, err error) (Outcome, error) {
		l.Error("migration failed", slog.String("stage", op), slog.Any("err", err))
		return Outcome{Kind: Skipped, From: src, To: dst}, &CopyFailedError{From: src, To: dst, Op: op, Err: err}
	}

	parent := Location(filepath.Dir(string(dst)))
	if !access.Exists(parent) {
		if err := access.CreateDirectory(parent, true); err != nil {
			return fail("create parent", err)
		}
	}

	if err := checkSpace(access, src, parent, l); err != nil {
		return fail("preflight", err)
	}

	// the empty destination is only removed once the copy is known to fit
	if clearDst {
		l.Warn("destination exists but is empty; replacing it")
		if err := access.RemoveRecursive(dst); err != nil {
			return fail("remove empty destination", err)
		}
	}

	var err error
	switch o.strategy {
	case StrategyDirect:
		err = copyDirect(access, src, dst)
	default:
		err = copyAtomic(access, src, dst)
	}
	if err != nil {
		return fail("copy", err)
	}
	out := Outcome{Kind: Migrated, From: src, To: dst}
	l.Info("store migrated", slog.String("strategy", o.strategy.String()))

	if o.deleteSource {
		if rerr := access.RemoveRecursive(src); rerr != nil {
			out.Warning = &CleanupFailedError{Path: src, Err: rerr}
			l.Warn("source cleanup failed", slog.Any("err", rerr))
		} else {
			l.Info("source removed")
		}
	}
	return out, nil
}

// TempSibling is where StrategyAtomic stages a copy of dst. The name is stable
// so a copy interrupted by a crash is found and discarded on the next run.
func TempSibling(dst Location) Location {
	d := string(dst)
	return Location(filepath.Join(filepath.Dir(d), "."+filepath.Base(d)+".migrating"))
}

func copyAtomic(access FilesystemAccess, src, dst Location) error {
	tmp := TempSibling(dst)
	if access.Exists(tmp) {
		if err := access.RemoveRecursive(tmp); err != nil {
			return fmt.Errorf("remove stale staging copy: %w", err)
		}
	}
	if err := access.CopyRecursive(src, tmp); err != nil {
		return discardPartial(access, tmp, err)
	}
	if err := access.Rename(tmp, dst); err != nil {
		return discardPartial(access, tmp, fmt.Errorf("rename into place: %w", err))
	}
	return nil
}

func copyDirect(access FilesystemAccess, src, dst Location) error {
	if err := access.CopyRecursive(src, dst); err != nil {
		return discardPartial(access, dst, err)
	}
	return nil
}

// discardPartial removes a partially written loc and folds any removal error into cause.
func discardPartial(access FilesystemAccess, loc Location, cause error) error {
	if !access.Exists(loc) {
		return cause
	}
	if err := access.RemoveRecursive(loc); err != nil {
		return multierror.Append(cause, fmt.Errorf("remove partial copy %s: %w", loc, err))
	}
	return cause
}

func destinationIsEmpty(access FilesystemAccess, dst Location, l *slog.Logger) bool {
	cc, ok := access.(ContentChecker)
	if !ok {
		return false
	}
	has, err := cc.HasContent(dst)
	if err != nil {
		l.Warn("cannot inspect destination; treating it as populated", slog.Any("err", err))
		return false
	}
	return !has
}

// checkSpace refuses a copy that cannot fit. Accesses that cannot measure are not checked.
func checkSpace(access FilesystemAccess, src, parent Location, l *slog.Logger) error {
	sc, ok := access.(SpaceChecker)
	if !ok {
		return nil
	}
	size, err := sc.BundleSize(src)
	if err != nil {
		l.Debug("cannot size source bundle", slog.Any("err", err))
		return nil
	}
	free, err := sc.FreeSpace(parent)
	if err != nil {
		l.Debug("cannot read free space", slog.Any("err", err))
		return nil
	}
	l.Info("computed disk space", slog.String("required", humanize.Bytes(size)), slog.String("free", humanize.Bytes(free)))
	if size > free {
		return fmt.Errorf("%w at %s: need %s, available %s", ErrInsufficientSpace, parent, humanize.Bytes(size), humanize.Bytes(free))
	}
	return nil
}

// Migrator runs Migrate at most once per value.
type Migrator struct {
	access FilesystemAccess
	opts   []Option

	once sync.Once
	out  Outcome
	err  error
}

// New returns a Migrator using access and opts.
func New(access FilesystemAccess, opts ...Option) *Migrator {
	return &Migrator{access: access, opts: opts}
}

// RunIfNeeded performs the migration check on first call. Later calls return
// the first result without touching the filesystem, whatever ids they pass.
func (m *Migrator) RunIfNeeded(oldID, newID Identifier) (Outcome, error) {
	m.once.Do(func() {
		m.out, m.err = Migrate(oldID, newID, m.access, m.opts...)
	})
	return m.out, m.err
}
