package models

import (
	"strings"
)

/**
 * Remote repository known to this working copy
 * @property {string} alias - Local alias of the repository
 * @property {string} host - API base URL, e.g. "https://repo.example.com/api/"
 */
type LocalRepo struct {
	Alias string `json:"alias" yaml:"alias"`
	Host  string `json:"host" yaml:"host"`
}

// APIURL joins an endpoint path onto the repository's API base.
func (r *LocalRepo) APIURL(path string) string {
	return strings.TrimRight(r.Host, "/") + "/" + strings.TrimLeft(path, "/")
}
