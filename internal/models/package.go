package models

import (
	"time"
)

/**
 * Locally installed package record
 * @property {string} alias - Package alias, unique within the working copy
 * @property {string} author - Package author (repository username)
 * @property {string} version - Current version string ("1.2.3")
 * @property {string} repo - Alias of the LocalRepo the package belongs to
 * @property {bool} local - Package was created locally and not checked out from a repository
 * @property {bool} staging - A staging environment has been provisioned for the package
 */
type LocalPackage struct {
	Alias     string    `json:"alias" yaml:"alias"`
	Author    string    `json:"author" yaml:"author"`
	Version   string    `json:"version" yaml:"version"`
	Repo      string    `json:"repo" yaml:"repo"`
	Local     bool      `json:"local" yaml:"local"`
	Staging   bool      `json:"staging" yaml:"staging"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// PackageInfo is the package.yml descriptor scaffolded into etc/<alias>/.
type PackageInfo struct {
	Alias       string `yaml:"alias"`
	Version     string `yaml:"version"`
	Author      string `yaml:"author"`
	Description string `yaml:"description,omitempty"`
}

// StagingInfo is returned by the repository when a staging database is created.
type StagingInfo struct {
	Host       string `json:"host"`
	DbName     string `json:"db_name"`
	DbUser     string `json:"db_user"`
	DbPassword string `json:"db_password"`
	Token      string `json:"token"`
}
