package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/scaffold"
	"pkgkeeper/internal/vcs"

	"github.com/fluxcd/pkg/tar"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Repository endpoints used by package operations.
const (
	PathDownloadUpgrade = "package/download_upgrade"
	PathPublish         = "package/publish"
	PathCreateRemote    = "package/create"
	PathVCSURL          = "package/vcs_url"
	PathCreateStaging   = "staging/create"
	PathStagingTransfer = "transfer"
)

/**
 * Download an upgrade bundle from the package's repository
 * @param {context.Context} ctx - Request context
 * @param {string} alias - Package alias
 * @param {string} version - Wanted version, empty asks for the latest
 * @returns {(*models.UpgradeBundle, error)} Bundle ready for Upgrade
 * @description
 * - Transport failures are retried according to the retry policy
 * - contents is a base64 tar.gz laid out like a bundle directory
 */
func (pm *PackageManager) FetchUpgrade(ctx context.Context, alias, version string) (*models.UpgradeBundle, error) {
	pkg, err := pm.Get(alias)
	if err != nil {
		return nil, err
	}
	repo, err := pm.repoOf(pkg)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"package": {alias},
		"version": {version},
		"current": {pkg.Version},
	}
	var remote models.RemoteUpgrade
	err = pm.retry.Do(ctx, "download upgrade", func() error {
		return pm.client.PostInto(ctx, repo, PathDownloadUpgrade, params, &remote)
	})
	if err != nil {
		return nil, &OperationError{Op: "fetch", Alias: alias, Version: version, Step: "download", Err: err}
	}

	raw, err := base64.StdEncoding.DecodeString(remote.Contents)
	if err != nil {
		return nil, &OperationError{Op: "fetch", Alias: alias, Version: remote.Version, Step: "decode", Err: err}
	}
	tmp, err := os.MkdirTemp("", "pkgkeeper-upgrade-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)
	if err := tar.Untar(bytes.NewReader(raw), tmp, tar.WithMaxUntarSize(-1)); err != nil {
		return nil, &OperationError{Op: "fetch", Alias: alias, Version: remote.Version, Step: "extract", Err: err}
	}

	bundle := &models.UpgradeBundle{Version: remote.Version, Migrations: remote.Migrations}
	if _, err := os.Stat(filepath.Join(tmp, BundleDescriptorName)); err == nil {
		loaded, err := LoadUpgradeDir(tmp)
		if err != nil {
			return nil, &OperationError{Op: "fetch", Alias: alias, Version: remote.Version, Step: "load", Err: err}
		}
		if bundle.Version == "" {
			bundle.Version = loaded.Version
		}
		if len(bundle.Migrations) == 0 {
			bundle.Migrations = loaded.Migrations
		}
		bundle.Files = loaded.Files
	} else {
		bundle.Files, err = loadBundleFiles(filepath.Join(tmp, BundleFilesDir))
		if err != nil {
			return nil, &OperationError{Op: "fetch", Alias: alias, Version: remote.Version, Step: "load", Err: err}
		}
	}
	if bundle.Version == "" {
		return nil, &OperationError{Op: "fetch", Alias: alias, Step: "load", Err: errors.New("repository sent no version")}
	}
	logger.Infof("Downloaded upgrade %s@%s (%d files, %d migrations)", alias, bundle.Version, len(bundle.Files), len(bundle.Migrations))
	return bundle, nil
}

/**
 * Publish the package files to its repository
 * @param {context.Context} ctx - Request context
 * @param {string} alias - Package alias
 * @returns {error} RemoteError when the repository refuses; local state is never changed
 */
func (pm *PackageManager) Publish(ctx context.Context, alias string) error {
	pkg, err := pm.Get(alias)
	if err != nil {
		return err
	}
	repo, err := pm.repoOf(pkg)
	if err != nil {
		return err
	}
	archive, err := PackArchive(pm.workdir, scaffold.PackageDirs(alias))
	if err != nil {
		return &OperationError{Op: "publish", Alias: alias, Version: pkg.Version, Step: "pack", Err: err}
	}
	_, err = pm.client.Post(ctx, repo, PathPublish, url.Values{
		"package":  {alias},
		"version":  {pkg.Version},
		"contents": {base64.StdEncoding.EncodeToString(archive)},
	})
	if err != nil {
		return &OperationError{Op: "publish", Alias: alias, Version: pkg.Version, Step: "upload", Err: err}
	}
	logger.Infof("Published %s@%s to '%s' (%d bytes)", alias, pkg.Version, repo.Alias, len(archive))
	return nil
}

// RegisterRemote creates the package on its repository.
func (pm *PackageManager) RegisterRemote(ctx context.Context, alias string) error {
	pkg, err := pm.Get(alias)
	if err != nil {
		return err
	}
	repo, err := pm.repoOf(pkg)
	if err != nil {
		return err
	}
	_, err = pm.client.Post(ctx, repo, PathCreateRemote, url.Values{
		"package": {alias},
		"author":  {pkg.Author},
	})
	if err != nil {
		return &OperationError{Op: "register", Alias: alias, Step: "create remote package", Err: err}
	}
	logger.Infof("Registered package '%s' on '%s'", alias, repo.Alias)
	return nil
}

/**
 * Provision a staging environment for a package
 * @param {context.Context} ctx - Request context
 * @param {string} alias - Package alias
 * @returns {(*models.StagingInfo, error)} Staging database credentials
 * @description
 * - staging/create is authenticated, the transfer to the staging host is anonymous
 * - The package is flagged staging only after both calls succeeded
 * - The channel identity is restored afterwards
 */
func (pm *PackageManager) ProvisionStaging(ctx context.Context, alias string) (*models.StagingInfo, error) {
	pkg, err := pm.Get(alias)
	if err != nil {
		return nil, err
	}
	repo, err := pm.repoOf(pkg)
	if err != nil {
		return nil, err
	}
	archive, err := PackArchive(pm.workdir, scaffold.PackageDirs(alias))
	if err != nil {
		return nil, &OperationError{Op: "staging", Alias: alias, Step: "pack", Err: err}
	}

	var info models.StagingInfo
	err = pm.client.PostInto(ctx, repo, PathCreateStaging, url.Values{
		"package":    {alias},
		"request_id": {uuid.NewString()},
	}, &info)
	if err != nil {
		return nil, &OperationError{Op: "staging", Alias: alias, Step: "create staging database", Err: err}
	}
	if info.Host == "" || info.Token == "" {
		return nil, &OperationError{Op: "staging", Alias: alias, Step: "create staging database",
			Err: errors.New("repository returned no staging host or token")}
	}

	channel := pm.client.Channel()
	identity := channel.Identity()
	channel.SetAuth(nil)
	defer channel.SetAuth(identity)

	staging := &models.LocalRepo{Alias: "staging", Host: info.Host}
	_, err = pm.client.Post(ctx, staging, PathStagingTransfer, url.Values{
		"token":    {info.Token},
		"contents": {base64.StdEncoding.EncodeToString(archive)},
	})
	if err != nil {
		return nil, &OperationError{Op: "staging", Alias: alias, Step: "transfer package", Err: err}
	}

	pkg.Staging = true
	if err := pm.store.SavePackage(pkg); err != nil {
		return nil, &OperationError{Op: "staging", Alias: alias, Step: "save package", Err: err}
	}
	logger.Infof("Provisioned staging for '%s' on %s (database %s)", alias, info.Host, info.DbName)
	return &info, nil
}

func (pm *PackageManager) vcsDir(alias string) string {
	return filepath.Join(pm.workdir, VCSDirName, alias)
}

/**
 * Check out a package from its repository's source control
 * @param {context.Context} ctx - Request context
 * @param {string} alias - Package alias
 * @param {string} repoAlias - Repository for packages not known locally yet
 * @returns {(*models.LocalPackage, error)} Package record, created when it did not exist
 */
func (pm *PackageManager) Checkout(ctx context.Context, alias, repoAlias string) (*models.LocalPackage, error) {
	pkg, err := pm.Get(alias)
	isNew := errors.Is(err, ErrPackageNotFound)
	if err != nil && !isNew {
		return nil, err
	}
	if isNew {
		if !aliasPattern.MatchString(alias) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
		}
		pkg = &models.LocalPackage{Alias: alias, Repo: repoAlias}
	}
	repo, err := pm.repoOf(pkg)
	if err != nil {
		return nil, err
	}

	var resp struct {
		URL string `json:"url"`
	}
	err = pm.retry.Do(ctx, "resolve vcs url", func() error {
		return pm.client.PostInto(ctx, repo, PathVCSURL, url.Values{"package": {alias}}, &resp)
	})
	if err != nil {
		return nil, &OperationError{Op: "checkout", Alias: alias, Step: "resolve vcs url", Err: err}
	}
	if resp.URL == "" {
		return nil, &OperationError{Op: "checkout", Alias: alias, Step: "resolve vcs url", Err: errors.New("repository returned no url")}
	}

	head, err := pm.vcs.Checkout(ctx, resp.URL, pm.vcsDir(alias))
	if err != nil {
		return nil, &OperationError{Op: "checkout", Alias: alias, Step: "clone", Err: err}
	}
	if err := vcs.Sync(pm.vcsDir(alias), pm.workdir, scaffold.PackageDirs(alias)); err != nil {
		return nil, &OperationError{Op: "checkout", Alias: alias, Step: "sync files", Err: err}
	}

	if raw, err := os.ReadFile(filepath.Join(pm.workdir, "etc", alias, "package.yml")); err == nil {
		var info models.PackageInfo
		if yaml.Unmarshal(raw, &info) == nil {
			if info.Version != "" {
				pkg.Version = info.Version
			}
			if info.Author != "" {
				pkg.Author = info.Author
			}
		}
	}
	if isNew {
		pkg.Repo = repo.Alias
		err = pm.store.CreatePackage(pkg)
	} else {
		err = pm.store.SavePackage(pkg)
	}
	if err != nil {
		return nil, &OperationError{Op: "checkout", Alias: alias, Step: "save package", Err: err}
	}
	logger.Infof("Checked out '%s' at %s", alias, head[:7])
	return pkg, nil
}

/**
 * Commit the package files to its working copy
 * @param {string} alias - Package alias
 * @param {string} message - Commit message
 * @param {vcs.Author} author - Commit author
 * @returns {(string, error)} Commit hash
 */
func (pm *PackageManager) Commit(alias, message string, author vcs.Author) (string, error) {
	if _, err := pm.Get(alias); err != nil {
		return "", err
	}
	dir := pm.vcsDir(alias)
	if err := vcs.Sync(pm.workdir, dir, scaffold.PackageDirs(alias)); err != nil {
		return "", &OperationError{Op: "commit", Alias: alias, Step: "sync files", Err: err}
	}
	hash, err := pm.vcs.Commit(dir, message, author)
	if err != nil {
		return "", &OperationError{Op: "commit", Alias: alias, Step: "commit", Err: err}
	}
	return hash, nil
}
