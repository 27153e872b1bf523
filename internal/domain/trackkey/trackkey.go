// Package trackkey derives stable track identities from filesystem paths.
//
// A canonical key is a pure function of the path string: Unicode NFC
// composition plus a cleaned slash-separated path. Records persisted by
// older versions of the app used fully-lowercased keys, so lookups go
// through a prioritized key list (canonical first, then legacy variants)
// and callers migrate storage to the canonical form on a legacy hit.
package trackkey

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize returns the canonical key for a track path.
// It never fails: empty or degenerate input still produces a deterministic
// (if meaningless) key, leaving validity checks to the caller.
func Canonicalize(p string) string {
	p = norm.NFC.String(p)
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean(p)
}

// LookupKeys returns the prioritized list of keys to try when matching a
// path against persisted records: the canonical key first, then legacy
// variants. Duplicates are removed while preserving priority order.
func LookupKeys(p string) []string {
	canonical := Canonicalize(p)
	keys := []string{canonical}
	if legacy := strings.ToLower(canonical); legacy != canonical {
		keys = append(keys, legacy)
	}
	return keys
}

// Matches reports whether two paths resolve to the same track identity,
// taking legacy (case-folded) variants into account.
func Matches(a, b string) bool {
	ca, cb := Canonicalize(a), Canonicalize(b)
	if ca == cb {
		return true
	}
	return strings.ToLower(ca) == strings.ToLower(cb)
}
