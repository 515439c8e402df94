package models

/**
 * Upgrade bundle applied to a package
 * @property {string} version - Version the bundle upgrades to
 * @property {[]string} migrations - Migration identifiers to apply, in order
 * @property {map[string][]byte} files - New file contents keyed by workdir-relative path
 */
type UpgradeBundle struct {
	Version    string            `yaml:"version"`
	Migrations []string          `yaml:"migrations"`
	Files      map[string][]byte `yaml:"-"`
}

// UpgradeDescriptor is the upgrade.yml file of a bundle directory.
type UpgradeDescriptor struct {
	Version    string   `yaml:"version"`
	Migrations []string `yaml:"migrations"`
}

// RemoteUpgrade is the data of a package/download_upgrade response.
type RemoteUpgrade struct {
	Version    string   `json:"version"`
	Migrations []string `json:"migrations"`
	Contents   string   `json:"contents"`
}
