package models

import (
	"time"
)

// ManifestFileName is the name of the manifest inside a snapshot directory.
const ManifestFileName = "config.json"

/**
 * Rollback manifest of one applied upgrade
 * @property {string} fromVersion - Package version before the upgrade
 * @property {string} toVersion - Version the upgrade installed
 * @property {time.Time} createdAt - When the upgrade began
 * @property {[]string} migrations - Applied migration identifiers in application order
 * @property {[]string} filesAdded - Package-relative paths that did not exist before the upgrade
 */
type RollbackManifest struct {
	FromVersion string    `json:"fromVersion"`
	ToVersion   string    `json:"toVersion"`
	CreatedAt   time.Time `json:"createdAt"`
	Migrations  []string  `json:"migrations"`
	FilesAdded  []string  `json:"filesAdded"`
}

// SnapshotInfo describes a snapshot directory for listings.
type SnapshotInfo struct {
	Alias      string            `json:"alias"`
	Version    string            `json:"version"`
	Complete   bool              `json:"complete"`
	Manifest   *RollbackManifest `json:"manifest,omitempty"`
	FilesSaved int               `json:"filesSaved"`
}
