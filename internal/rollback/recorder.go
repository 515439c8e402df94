package rollback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/models"

	"github.com/otiai10/copy"
)

/**
 * Records a reversible snapshot while an upgrade runs
 * @description
 * - One session per upgrade: Begin, CaptureFile/RecordMigration, Commit
 * - CaptureFile must run before the upgrade writes the new file content
 * - Without Commit the snapshot directory stays without manifest and
 *   rollback refuses it with ErrIncompleteSnapshot
 */
type Recorder struct {
	workdir  string
	now      func() time.Time
	alias    string
	dir      string
	manifest *models.RollbackManifest
	captured map[string]bool
}

func NewRecorder(workdir string) *Recorder {
	return &Recorder{workdir: workdir, now: time.Now}
}

// Dir returns the snapshot directory of the running session, or "".
func (r *Recorder) Dir() string {
	return r.dir
}

/**
 * Start a snapshot for an upgrade of pkg to targetVersion
 * @param {*models.LocalPackage} pkg - Package about to be upgraded
 * @param {string} targetVersion - Version the upgrade installs
 * @returns {error} ErrIncompleteSnapshot when an earlier attempt left the directory without
 *   manifest, ErrSnapshotDirUnavailable when it holds a committed snapshot or cannot be created
 * @description
 * - A leftover directory is never reused, its files may already be upgrade content
 */
func (r *Recorder) Begin(pkg *models.LocalPackage, targetVersion string) error {
	dir := SnapshotDir(r.workdir, pkg.Alias, targetVersion)
	if _, err := os.Stat(dir); err == nil {
		_, err := os.Stat(filepath.Join(dir, models.ManifestFileName))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %s@%s was never committed, resolve %s by hand",
				ErrIncompleteSnapshot, pkg.Alias, targetVersion, dir)
		case err != nil:
			return fmt.Errorf("%w: %s: %v", ErrSnapshotDirUnavailable, dir, err)
		default:
			return fmt.Errorf("%w: %s already holds a committed snapshot", ErrSnapshotDirUnavailable, dir)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", ErrSnapshotDirUnavailable, dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSnapshotDirUnavailable, dir, err)
	}
	r.alias = pkg.Alias
	r.dir = dir
	r.captured = make(map[string]bool)
	r.manifest = &models.RollbackManifest{
		FromVersion: pkg.Version,
		ToVersion:   targetVersion,
		CreatedAt:   r.now(),
		Migrations:  []string{},
		FilesAdded:  []string{},
	}
	logger.Debugf("Snapshot of %s %s -> %s started in %s", pkg.Alias, pkg.Version, targetVersion, dir)
	return nil
}

/**
 * Preserve the current content of a file before the upgrade overwrites it
 * @param {string} localPath - Absolute path of the file in the working copy
 * @param {string} relativePath - Path relative to the working copy root
 * @returns {error} Error if the file could not be moved into the snapshot
 * @description
 * - Missing file: recorded in filesAdded
 * - Existing file: moved into the snapshot under relativePath
 * - Paths already captured in this session are left alone, the first copy wins
 */
func (r *Recorder) CaptureFile(localPath, relativePath string) error {
	if r.manifest == nil {
		return ErrNotStarted
	}
	rel, err := cleanRelative(relativePath)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if rel == models.ManifestFileName || rel == tempManifestName {
		return fmt.Errorf("capture %s: name is reserved for the snapshot manifest", rel)
	}
	if r.captured[rel] {
		return nil
	}
	dst := filepath.Join(r.dir, rel)

	info, err := os.Lstat(localPath)
	if errors.Is(err, fs.ErrNotExist) {
		r.captured[rel] = true
		r.manifest.FilesAdded = append(r.manifest.FilesAdded, filepath.ToSlash(rel))
		return nil
	}
	if err != nil {
		return fmt.Errorf("capture %s: %w", rel, err)
	}
	if info.IsDir() {
		return fmt.Errorf("capture %s: is a directory", rel)
	}
	if err := moveFile(localPath, dst); err != nil {
		return fmt.Errorf("capture %s: %w", rel, err)
	}
	r.captured[rel] = true
	return nil
}

// RecordMigration appends an applied migration in application order.
func (r *Recorder) RecordMigration(id string) error {
	if r.manifest == nil {
		return ErrNotStarted
	}
	r.manifest.Migrations = append(r.manifest.Migrations, id)
	return nil
}

/**
 * Write the manifest and end the session
 * @returns {(*models.RollbackManifest, error)} The committed manifest
 */
func (r *Recorder) Commit() (*models.RollbackManifest, error) {
	if r.manifest == nil {
		return nil, ErrNotStarted
	}
	data, err := json.MarshalIndent(r.manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	tmp := filepath.Join(r.dir, tempManifestName)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write manifest: %v", ErrSnapshotDirUnavailable, err)
	}
	if err := os.Rename(tmp, filepath.Join(r.dir, models.ManifestFileName)); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("%w: write manifest: %v", ErrSnapshotDirUnavailable, err)
	}
	m := r.manifest
	logger.Infof("Snapshot %s@%s committed (%d migrations, %d new files)",
		r.alias, m.ToVersion, len(m.Migrations), len(m.FilesAdded))
	r.reset()
	return m, nil
}

// Abort ends the session without writing a manifest; the directory is kept.
func (r *Recorder) Abort() {
	r.reset()
}

func (r *Recorder) reset() {
	r.alias = ""
	r.dir = ""
	r.manifest = nil
	r.captured = nil
}

// cleanRelative rejects paths that leave the working copy.
func cleanRelative(p string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(p))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working copy", p)
	}
	return rel, nil
}

// moveFile renames src to dst, copying across devices when rename is refused.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copy.Copy(src, dst, copy.Options{PreserveTimes: true}); err != nil {
		return err
	}
	return os.Remove(src)
}
