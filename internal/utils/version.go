package utils

import (
	"strings"

	"github.com/hashicorp/go-version"
)

/**
 * Compare two version strings
 * @param {string} a - Version string ("1.2.3", "v1.2", "1.0.0-beta")
 * @param {string} b - Version string
 * @returns {int} -1 if a<b, 0 if equal, 1 if a>b
 * @description
 * - Semantic comparison through go-version
 * - Strings that do not parse fall back to plain string ordering, so listings stay stable
 */
func CompareVersions(a, b string) int {
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	return strings.Compare(a, b)
}

// ValidVersion reports whether s is a parseable version string.
func ValidVersion(s string) bool {
	_, err := version.NewVersion(s)
	return err == nil
}

// IsNewer reports whether candidate is strictly newer than current.
// An empty current version means nothing is installed yet.
func IsNewer(candidate, current string) bool {
	if current == "" {
		return true
	}
	return CompareVersions(candidate, current) > 0
}
