package rollback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/models"

	"github.com/hashicorp/go-multierror"
)

// MigrationRemover applies the down-step of an applied migration.
type MigrationRemover interface {
	RemoveMigration(ctx context.Context, alias, id string) error
}

// PackageSaver persists the package record after its version changed.
type PackageSaver interface {
	SavePackage(pkg *models.LocalPackage) error
}

// Rollback steps, reported in errors and logs.
const (
	StepLoad       = "load manifest"
	StepMigrations = "reverse migrations"
	StepRestore    = "restore files"
	StepRemove     = "remove added files"
	StepSave       = "save package"
	StepCleanup    = "remove snapshot"
)

// MigrationFailure is one migration whose down-step failed.
type MigrationFailure struct {
	ID  string
	Err error
}

/**
 * Outcome of one reversed upgrade
 * @property {string} alias - Package alias
 * @property {string} version - Version that was rolled back
 * @property {string} restoredVersion - Version the package is at afterwards
 * @property {[]string} reverted - Migrations reversed, in call order
 * @property {[]MigrationFailure} failures - Migrations whose down-step failed
 */
type Result struct {
	Alias           string
	Version         string
	RestoredVersion string
	Reverted        []string
	Failures        []MigrationFailure
	FilesRestored   []string
	FilesRemoved    []string
}

// Warnings aggregates migration failures; nil when every migration was reversed.
func (r *Result) Warnings() error {
	var merr *multierror.Error
	for _, f := range r.Failures {
		merr = multierror.Append(merr, fmt.Errorf("migration %s: %w", f.ID, f.Err))
	}
	return merr.ErrorOrNil()
}

// Degraded reports whether some migration could not be reversed.
func (r *Result) Degraded() bool {
	return len(r.Failures) > 0
}

// StepError names the failing rollback step.
type StepError struct {
	Alias   string
	Version string
	Step    string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("rollback %s@%s: %s: %v", e.Alias, e.Version, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Executor reverses committed snapshots.
type Executor struct {
	workdir    string
	migrations MigrationRemover
	packages   PackageSaver
}

func NewExecutor(workdir string, migrations MigrationRemover, packages PackageSaver) *Executor {
	return &Executor{workdir: workdir, migrations: migrations, packages: packages}
}

/**
 * Reverse the upgrade of pkg to version
 * @param {context.Context} ctx - Passed to migration down-steps
 * @param {*models.LocalPackage} pkg - Package record, its Version is updated in place
 * @param {string} version - Version whose snapshot is reversed
 * @returns {(*Result, error)} Result; migration failures are warnings in the result, not errors
 * @description
 * - Runs to completion once migrations are being reversed, cancellation is not honored
 * - A failure after the migration step leaves the snapshot directory in place
 */
func (e *Executor) Rollback(ctx context.Context, pkg *models.LocalPackage, version string) (*Result, error) {
	manifest, err := LoadManifest(e.workdir, pkg.Alias, version)
	if err != nil {
		return nil, &StepError{Alias: pkg.Alias, Version: version, Step: StepLoad, Err: err}
	}
	dir := SnapshotDir(e.workdir, pkg.Alias, version)
	result := &Result{Alias: pkg.Alias, Version: version}

	for i := len(manifest.Migrations) - 1; i >= 0; i-- {
		id := manifest.Migrations[i]
		if e.migrations == nil {
			result.Failures = append(result.Failures, MigrationFailure{ID: id, Err: errors.New("no migration engine")})
			continue
		}
		if err := e.migrations.RemoveMigration(context.WithoutCancel(ctx), pkg.Alias, id); err != nil {
			logger.Warnf("Rollback %s@%s: migration %s was not reversed: %v", pkg.Alias, version, id, err)
			result.Failures = append(result.Failures, MigrationFailure{ID: id, Err: err})
			continue
		}
		result.Reverted = append(result.Reverted, id)
	}

	files, err := snapshotFiles(dir)
	if err != nil {
		return result, &StepError{Alias: pkg.Alias, Version: version, Step: StepRestore, Err: err}
	}
	for _, rel := range files {
		dst := filepath.Join(e.workdir, rel)
		if err := os.RemoveAll(dst); err != nil {
			return result, &StepError{Alias: pkg.Alias, Version: version, Step: StepRestore, Err: err}
		}
		if err := moveFile(filepath.Join(dir, rel), dst); err != nil {
			return result, &StepError{Alias: pkg.Alias, Version: version, Step: StepRestore, Err: err}
		}
		result.FilesRestored = append(result.FilesRestored, filepath.ToSlash(rel))
	}

	for _, p := range manifest.FilesAdded {
		rel, err := cleanRelative(p)
		if err != nil {
			return result, &StepError{Alias: pkg.Alias, Version: version, Step: StepRemove, Err: err}
		}
		err = os.Remove(filepath.Join(e.workdir, rel))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return result, &StepError{Alias: pkg.Alias, Version: version, Step: StepRemove, Err: err}
		}
		result.FilesRemoved = append(result.FilesRemoved, p)
	}

	pkg.Version = manifest.FromVersion
	result.RestoredVersion = manifest.FromVersion
	if e.packages != nil {
		if err := e.packages.SavePackage(pkg); err != nil {
			return result, &StepError{Alias: pkg.Alias, Version: version, Step: StepSave, Err: err}
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return result, &StepError{Alias: pkg.Alias, Version: version, Step: StepCleanup, Err: err}
	}
	// 最后一个快照删除后顺带清理包目录
	_ = os.Remove(PackageSnapshotsDir(e.workdir, pkg.Alias))

	if result.Degraded() {
		logger.Warnf("Rolled back %s %s -> %s with %d unreversed migrations",
			pkg.Alias, version, manifest.FromVersion, len(result.Failures))
	} else {
		logger.Infof("Rolled back %s %s -> %s", pkg.Alias, version, manifest.FromVersion)
	}
	return result, nil
}
