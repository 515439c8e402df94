package rollback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"pkgkeeper/internal/models"
	"pkgkeeper/internal/utils"
)

var (
	ErrSnapshotDirUnavailable = errors.New("snapshot directory unavailable")
	ErrIncompleteSnapshot     = errors.New("incomplete snapshot")
	ErrNoSuchSnapshot         = errors.New("no such snapshot")
	ErrNotStarted             = errors.New("no upgrade in progress")
)

const tempManifestName = models.ManifestFileName + ".tmp"

// UpgradesDirName is the directory under the working copy holding all snapshots.
const UpgradesDirName = "upgrades"

// SnapshotDir returns <workdir>/upgrades/<alias>/<version>.
func SnapshotDir(workdir, alias, version string) string {
	return filepath.Join(workdir, UpgradesDirName, alias, version)
}

// PackageSnapshotsDir returns <workdir>/upgrades/<alias>.
func PackageSnapshotsDir(workdir, alias string) string {
	return filepath.Join(workdir, UpgradesDirName, alias)
}

/**
 * Load the manifest of one snapshot
 * @param {string} workdir - Working copy root
 * @param {string} alias - Package alias
 * @param {string} version - Version the upgrade installed
 * @returns {(*models.RollbackManifest, error)} ErrNoSuchSnapshot when the directory is missing,
 *   ErrIncompleteSnapshot when it has no readable manifest
 */
func LoadManifest(workdir, alias, version string) (*models.RollbackManifest, error) {
	dir := SnapshotDir(workdir, alias, version)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s@%s", ErrNoSuchSnapshot, alias, version)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotDirUnavailable, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSnapshotDirUnavailable, dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, models.ManifestFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s@%s has no %s", ErrIncompleteSnapshot, alias, version, models.ManifestFileName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotDirUnavailable, dir, err)
	}
	var m models.RollbackManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s@%s: corrupt manifest: %v", ErrIncompleteSnapshot, alias, version, err)
	}
	return &m, nil
}

/**
 * List the snapshots kept for a package, oldest version first
 * @param {string} workdir - Working copy root
 * @param {string} alias - Package alias
 * @returns {([]*models.SnapshotInfo, error)} Snapshots, complete or not
 */
func ListSnapshots(workdir, alias string) ([]*models.SnapshotInfo, error) {
	entries, err := os.ReadDir(PackageSnapshotsDir(workdir, alias))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotDirUnavailable, err)
	}
	var snapshots []*models.SnapshotInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := &models.SnapshotInfo{Alias: alias, Version: e.Name()}
		m, err := LoadManifest(workdir, alias, e.Name())
		if err == nil {
			info.Complete = true
			info.Manifest = m
		}
		info.FilesSaved, _ = countFiles(SnapshotDir(workdir, alias, e.Name()))
		snapshots = append(snapshots, info)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return utils.CompareVersions(snapshots[i].Version, snapshots[j].Version) < 0
	})
	return snapshots, nil
}

// snapshotFiles lists the relative paths of saved files, manifest excluded.
func snapshotFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == models.ManifestFileName || rel == tempManifestName {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

func countFiles(dir string) (int, error) {
	files, err := snapshotFiles(dir)
	return len(files), err
}
