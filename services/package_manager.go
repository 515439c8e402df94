package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/metrics"
	"pkgkeeper/internal/migration"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/rollback"
	"pkgkeeper/internal/rpc"
	"pkgkeeper/internal/scaffold"
	"pkgkeeper/internal/store"
	"pkgkeeper/internal/utils"
	"pkgkeeper/internal/vcs"
)

// VCSDirName holds the source-control working copies under the workdir.
const VCSDirName = ".vcs"

var (
	ErrPackageNotFound = errors.New("package not found")
	ErrInvalidAlias    = errors.New("invalid package alias")
	ErrNotNewer        = errors.New("upgrade version is not newer than the installed version")
	ErrOrphanedFiles   = errors.New("package files exist without a package record")
)

var aliasPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

/**
 * Error of a package operation, naming the step that failed
 * @property {string} op - Operation (upgrade, delete, ...)
 * @property {string} alias - Package alias
 * @property {string} version - Version involved, may be empty
 * @property {string} step - Failing step
 */
type OperationError struct {
	Op      string
	Alias   string
	Version string
	Step    string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Alias, e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s@%s: %s: %v", e.Op, e.Alias, e.Version, e.Step, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// PackageManagerOptions carries the collaborators of a PackageManager.
type PackageManagerOptions struct {
	WorkDir     string
	Store       *store.Store
	Client      *rpc.RepositoryClient
	Migrations  *migration.Engine
	Scaffold    *scaffold.Generator
	VCS         *vcs.Client
	Retry       RetryPolicy
	DefaultRepo string
}

/**
 * Package manager orchestrates create, delete, upgrade and rollback of local packages
 * @description
 * - Composes the rollback recorder/executor, the migration engine, the store and
 *   the repository client
 * - Commands run one at a time, there is no per-package locking
 */
type PackageManager struct {
	workdir     string
	store       *store.Store
	client      *rpc.RepositoryClient
	migrations  *migration.Engine
	scaffold    *scaffold.Generator
	vcs         *vcs.Client
	recorder    *rollback.Recorder
	executor    *rollback.Executor
	retry       RetryPolicy
	defaultRepo string
}

func NewPackageManager(opts PackageManagerOptions) *PackageManager {
	if opts.Migrations == nil {
		opts.Migrations = migration.NewEngine(nil, opts.Store)
	}
	if opts.Scaffold == nil {
		opts.Scaffold = scaffold.NewGenerator("")
	}
	if opts.VCS == nil {
		opts.VCS = vcs.NewClient()
	}
	if opts.Client == nil {
		opts.Client = rpc.NewRepositoryClient(nil)
	}
	return &PackageManager{
		workdir:     opts.WorkDir,
		store:       opts.Store,
		client:      opts.Client,
		migrations:  opts.Migrations,
		scaffold:    opts.Scaffold,
		vcs:         opts.VCS,
		recorder:    rollback.NewRecorder(opts.WorkDir),
		executor:    rollback.NewExecutor(opts.WorkDir, opts.Migrations, opts.Store),
		retry:       opts.Retry,
		defaultRepo: opts.DefaultRepo,
	}
}

func (pm *PackageManager) WorkDir() string {
	return pm.workdir
}

func (pm *PackageManager) Client() *rpc.RepositoryClient {
	return pm.client
}

// Get returns ErrPackageNotFound when no package has the alias.
func (pm *PackageManager) Get(alias string) (*models.LocalPackage, error) {
	pkg, err := pm.store.GetPackage(alias)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, alias)
	}
	return pkg, err
}

func (pm *PackageManager) List() ([]*models.LocalPackage, error) {
	pkgs, err := pm.store.ListPackages()
	if err != nil {
		return nil, err
	}
	store.SortPackages(pkgs)
	return pkgs, nil
}

// CreateRequest describes a new local package.
type CreateRequest struct {
	Alias       string
	Author      string
	Version     string
	Repo        string
	Description string
	Template    string
}

/**
 * Create a local package
 * @param {CreateRequest} req - Package description
 * @returns {(*models.LocalPackage, error)} The stored package
 * @description
 * - Order: scaffold files, build the record, persist it
 * - A package record with the same alias, or files left behind by an
 *   interrupted create, reject the request
 */
func (pm *PackageManager) Create(req CreateRequest) (*models.LocalPackage, error) {
	if !aliasPattern.MatchString(req.Alias) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlias, req.Alias)
	}
	if req.Version == "" {
		req.Version = "1.0.0"
	}
	if !utils.ValidVersion(req.Version) {
		return nil, fmt.Errorf("create %s: invalid version %q", req.Alias, req.Version)
	}
	if req.Template == "" {
		req.Template = scaffold.DefaultTemplate
	}
	if req.Repo == "" {
		req.Repo = pm.defaultRepo
	}
	if _, err := pm.store.GetPackage(req.Alias); err == nil {
		return nil, fmt.Errorf("create %s: %w", req.Alias, store.ErrAliasExists)
	}

	_, err := pm.scaffold.Generate(req.Template, pm.workdir, scaffold.Data{
		Alias:       req.Alias,
		Author:      req.Author,
		Version:     req.Version,
		Description: req.Description,
	})
	if errors.Is(err, scaffold.ErrTargetExists) {
		return nil, &OperationError{Op: "create", Alias: req.Alias, Step: "scaffold", Err: fmt.Errorf("%w: %v", ErrOrphanedFiles, err)}
	}
	if err != nil {
		return nil, &OperationError{Op: "create", Alias: req.Alias, Step: "scaffold", Err: err}
	}

	pkg := &models.LocalPackage{
		Alias:   req.Alias,
		Author:  req.Author,
		Version: req.Version,
		Repo:    req.Repo,
		Local:   true,
	}
	if err := pm.store.CreatePackage(pkg); err != nil {
		return nil, &OperationError{Op: "create", Alias: req.Alias, Step: "save package", Err: err}
	}
	logger.Infof("Created package '%s' version %s", pkg.Alias, pkg.Version)
	return pkg, nil
}

/**
 * Delete a local package
 * @param {context.Context} ctx - Passed to migration down-steps
 * @param {string} alias - Package alias
 * @returns {error} Error naming the failing step
 * @description
 * - Order: remove applied migrations newest first, remove files and snapshots,
 *   delete the record; a crash part way keeps the record pointing at what is left
 */
func (pm *PackageManager) Delete(ctx context.Context, alias string) error {
	pkg, err := pm.Get(alias)
	if err != nil {
		return err
	}
	applied, err := pm.migrations.Applied(alias)
	if err != nil {
		return &OperationError{Op: "delete", Alias: alias, Step: "read migrations", Err: err}
	}
	for i := len(applied) - 1; i >= 0; i-- {
		err := pm.migrations.RemoveMigration(ctx, alias, applied[i])
		if errors.Is(err, migration.ErrUnknownMigration) {
			logger.Warnf("Delete %s: migration %s has no registered down-step, dropping it", alias, applied[i])
			continue
		}
		if err != nil {
			return &OperationError{Op: "delete", Alias: alias, Version: pkg.Version, Step: "remove migrations", Err: err}
		}
	}

	dirs := append(scaffold.PackageDirs(alias),
		filepath.Join(rollback.UpgradesDirName, alias),
		filepath.Join(VCSDirName, alias))
	for _, d := range dirs {
		if err := os.RemoveAll(filepath.Join(pm.workdir, d)); err != nil {
			return &OperationError{Op: "delete", Alias: alias, Version: pkg.Version, Step: "remove files", Err: err}
		}
	}

	if err := pm.store.DropMigrations(alias); err != nil {
		return &OperationError{Op: "delete", Alias: alias, Step: "remove from store", Err: err}
	}
	if err := pm.store.DeletePackage(alias); err != nil {
		return &OperationError{Op: "delete", Alias: alias, Step: "remove from store", Err: err}
	}
	logger.Infof("Deleted package '%s'", alias)
	return nil
}

/**
 * Apply an upgrade bundle to a package
 * @param {context.Context} ctx - Passed to migration up-steps
 * @param {string} alias - Package alias
 * @param {*models.UpgradeBundle} bundle - Files and migrations of the new version
 * @returns {(*models.RollbackManifest, error)} Committed rollback manifest
 * @description
 * - Every file is captured into the snapshot before it is written
 * - A failure after the snapshot began leaves it without manifest for the operator
 * - Refused while the package has any snapshot without manifest
 */
func (pm *PackageManager) Upgrade(ctx context.Context, alias string, bundle *models.UpgradeBundle) (m *models.RollbackManifest, err error) {
	defer func() {
		if err != nil {
			metrics.IncUpgrade(metrics.OutcomeFailed)
		} else {
			metrics.IncUpgrade(metrics.OutcomeOK)
		}
	}()

	pkg, err := pm.Get(alias)
	if err != nil {
		return nil, err
	}
	fail := func(step string, err error) error {
		return &OperationError{Op: "upgrade", Alias: alias, Version: bundle.Version, Step: step, Err: err}
	}
	if !utils.ValidVersion(bundle.Version) {
		return nil, fail("check version", fmt.Errorf("invalid version %q", bundle.Version))
	}
	if !utils.IsNewer(bundle.Version, pkg.Version) {
		return nil, fail("check version", fmt.Errorf("%w: %s <= %s", ErrNotNewer, bundle.Version, pkg.Version))
	}
	snaps, err := rollback.ListSnapshots(pm.workdir, alias)
	if err != nil {
		return nil, fail("check snapshots", err)
	}
	for _, snap := range snaps {
		// 未提交的快照必须先由人工处理
		if !snap.Complete {
			return nil, fail("check snapshots", fmt.Errorf("%w: %s@%s was never committed, resolve %s first",
				rollback.ErrIncompleteSnapshot, alias, snap.Version, rollback.SnapshotDir(pm.workdir, alias, snap.Version)))
		}
	}
	if raw, ok := bundle.Files[migration.FilePath(alias)]; ok {
		steps, err := migration.ParseCommands(raw, alias, pm.workdir)
		if err != nil {
			return nil, fail("check migrations", err)
		}
		pm.migrations.Registry().Register(alias, steps...)
	}
	for _, id := range bundle.Migrations {
		if _, ok := pm.migrations.Registry().Lookup(alias, id); !ok {
			return nil, fail("check migrations", fmt.Errorf("%w: %s", migration.ErrUnknownMigration, id))
		}
	}

	if err := pm.recorder.Begin(pkg, bundle.Version); err != nil {
		return nil, fail("begin snapshot", err)
	}
	snapshotDir := pm.recorder.Dir()
	committed := false
	defer func() {
		if !committed {
			pm.recorder.Abort()
			logger.Errorf("Upgrade of %s to %s failed, snapshot left in %s", alias, bundle.Version, snapshotDir)
		}
	}()

	files := make([]string, 0, len(bundle.Files))
	for rel := range bundle.Files {
		files = append(files, rel)
	}
	sort.Strings(files)
	for _, rel := range files {
		local := filepath.Join(pm.workdir, filepath.FromSlash(rel))
		if err := pm.recorder.CaptureFile(local, rel); err != nil {
			return nil, fail("capture files", err)
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return nil, fail("write files", err)
		}
		if err := os.WriteFile(local, bundle.Files[rel], 0o644); err != nil {
			return nil, fail("write files", err)
		}
	}

	applied, err := pm.migrations.Applied(alias)
	if err != nil {
		return nil, fail("apply migrations", err)
	}
	already := make(map[string]bool, len(applied))
	for _, id := range applied {
		already[id] = true
	}
	for _, id := range bundle.Migrations {
		// 已应用的迁移属于更早的快照，这里不再记录
		if already[id] {
			logger.Warnf("Upgrade %s: migration %s already applied, skipped", alias, id)
			continue
		}
		if err := pm.migrations.ApplyMigration(ctx, alias, id); err != nil {
			return nil, fail("apply migrations", err)
		}
		if err := pm.recorder.RecordMigration(id); err != nil {
			return nil, fail("apply migrations", err)
		}
	}

	m, err = pm.recorder.Commit()
	if err != nil {
		return nil, fail("commit snapshot", err)
	}
	committed = true

	pkg.Version = bundle.Version
	if err := pm.store.SavePackage(pkg); err != nil {
		return m, fail("save package", err)
	}
	logger.Infof("Upgraded '%s' %s -> %s", alias, m.FromVersion, bundle.Version)
	return m, nil
}

/**
 * Roll a package back
 * @param {context.Context} ctx - Passed to migration down-steps
 * @param {string} alias - Package alias
 * @param {string} toVersion - Target version; empty reverses only the most recent upgrade
 * @returns {([]*rollback.Result, error)} One result per reversed upgrade, newest first
 * @description
 * - Stops at the first snapshot that cannot be reversed, an incomplete one included
 */
func (pm *PackageManager) Rollback(ctx context.Context, alias, toVersion string) ([]*rollback.Result, error) {
	pkg, err := pm.Get(alias)
	if err != nil {
		return nil, err
	}
	snaps, err := rollback.ListSnapshots(pm.workdir, alias)
	if err != nil {
		return nil, &OperationError{Op: "rollback", Alias: alias, Version: toVersion, Step: "list snapshots", Err: err}
	}

	var targets []string
	for i := len(snaps) - 1; i >= 0; i-- {
		v := snaps[i].Version
		if toVersion == "" {
			targets = append(targets, v)
			break
		}
		if utils.CompareVersions(v, toVersion) > 0 {
			targets = append(targets, v)
		}
	}
	if len(targets) == 0 {
		metrics.IncRollback(metrics.OutcomeFailed)
		target := toVersion
		if target == "" {
			target = pkg.Version
		}
		return nil, &OperationError{Op: "rollback", Alias: alias, Version: target, Step: rollback.StepLoad,
			Err: fmt.Errorf("%w: nothing newer than %q to reverse", rollback.ErrNoSuchSnapshot, toVersion)}
	}

	var results []*rollback.Result
	for _, v := range targets {
		res, err := pm.executor.Rollback(ctx, pkg, v)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			metrics.IncRollback(metrics.OutcomeFailed)
			return results, err
		}
		if res.Degraded() {
			metrics.IncRollback(metrics.OutcomeDegraded)
		} else {
			metrics.IncRollback(metrics.OutcomeOK)
		}
	}
	if toVersion != "" && pkg.Version != toVersion {
		logger.Warnf("Rollback of %s stopped at %s, no snapshot led to %s", alias, pkg.Version, toVersion)
	}
	return results, nil
}

// RegisteredMigrations lists the migration ids that can be applied to or reversed for alias.
func (pm *PackageManager) RegisteredMigrations(alias string) []string {
	return pm.migrations.Registry().IDs(alias)
}

// Snapshots lists the snapshots kept for a package.
func (pm *PackageManager) Snapshots(alias string) ([]*models.SnapshotInfo, error) {
	if _, err := pm.Get(alias); err != nil {
		return nil, err
	}
	return rollback.ListSnapshots(pm.workdir, alias)
}

// Migrations returns the applied migration ledger of a package.
func (pm *PackageManager) Migrations(alias string) ([]string, error) {
	return pm.migrations.Applied(alias)
}

func (pm *PackageManager) repoOf(pkg *models.LocalPackage) (*models.LocalRepo, error) {
	alias := pkg.Repo
	if alias == "" {
		alias = pm.defaultRepo
	}
	repo, err := pm.store.GetRepo(alias)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("repository '%s' of package '%s' is not configured", alias, pkg.Alias)
	}
	return repo, err
}
