package services

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pkgkeeper/internal/models"

	"gopkg.in/yaml.v3"
)

const (
	// BundleDescriptorName is the descriptor of an upgrade bundle directory.
	BundleDescriptorName = "upgrade.yml"
	// BundleFilesDir holds the new file contents, laid out like the workdir.
	BundleFilesDir = "files"
)

/**
 * Load an upgrade bundle from a directory
 * @param {string} dir - Directory holding upgrade.yml and a files/ tree
 * @returns {(*models.UpgradeBundle, error)} Bundle with file contents keyed by workdir-relative path
 */
func LoadUpgradeDir(dir string) (*models.UpgradeBundle, error) {
	raw, err := os.ReadFile(filepath.Join(dir, BundleDescriptorName))
	if err != nil {
		return nil, fmt.Errorf("read bundle descriptor: %w", err)
	}
	var desc models.UpgradeDescriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", BundleDescriptorName, err)
	}
	if desc.Version == "" {
		return nil, fmt.Errorf("%s: version is required", BundleDescriptorName)
	}
	files, err := loadBundleFiles(filepath.Join(dir, BundleFilesDir))
	if err != nil {
		return nil, err
	}
	return &models.UpgradeBundle{
		Version:    desc.Version,
		Migrations: desc.Migrations,
		Files:      files,
	}, nil
}

// loadBundleFiles reads a files/ tree; a missing tree is an empty bundle.
func loadBundleFiles(root string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return fmt.Errorf("%s: only regular files are allowed in a bundle", path)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bundle files: %w", err)
	}
	return files, nil
}

/**
 * Pack directories or files of a tree into a gzip tarball
 * @param {string} root - Working copy root
 * @param {[]string} paths - Paths relative to root; missing ones are skipped
 * @returns {([]byte, error)} tar.gz content with root-relative names
 */
func PackArchive(root string, paths []string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	var files []string
	for _, p := range paths {
		base := filepath.Join(root, p)
		if _, err := os.Stat(base); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)

	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return nil, err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// archiveNames lists the entries of a tar.gz produced by PackArchive.
func archiveNames(data []byte) ([]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, strings.TrimPrefix(hdr.Name, "./"))
	}
}
