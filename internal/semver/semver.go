// Package semver wraps golang.org/x/mod/semver for the bare "1.2.3" version
// strings used by API version identities. Versions are stored without the
// leading "v" that x/mod requires.
package semver

import (
	"sort"
	"strings"

	xsemver "golang.org/x/mod/semver"

	"github.com/apitize/version-service/internal/models"
)

// Valid reports whether s is a full major.minor.patch semantic version,
// optionally with a prerelease suffix. Short forms ("1", "1.2") and
// v-prefixed strings are rejected.
func Valid(s string) bool {
	if s == "" || strings.HasPrefix(s, "v") || strings.HasPrefix(s, "V") {
		return false
	}
	v := "v" + s
	return xsemver.IsValid(v) && xsemver.Canonical(v) == v
}

// Compare returns -1, 0, or +1 per semantic-version precedence.
func Compare(a, b string) int {
	return xsemver.Compare("v"+a, "v"+b)
}

// DiffLevel classifies next relative to prev: a major bump is "major", a
// minor bump within the same major is "minor", everything else is "patch".
func DiffLevel(prev, next string) models.CompatibilityLevel {
	pv, nv := "v"+prev, "v"+next
	if xsemver.Major(pv) != xsemver.Major(nv) {
		return models.LevelMajor
	}
	if xsemver.MajorMinor(pv) != xsemver.MajorMinor(nv) {
		return models.LevelMinor
	}
	return models.LevelPatch
}

// SortAscending orders versions by precedence, lowest first.
func SortAscending(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) < 0
	})
}

// Latest returns the highest-precedence version in versions, or "" if the
// slice is empty.
func Latest(versions []string) string {
	latest := ""
	for _, v := range versions {
		if latest == "" || Compare(v, latest) > 0 {
			latest = v
		}
	}
	return latest
}
