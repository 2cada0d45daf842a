package migration

import (
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// Canonical maps a version label such as "v2", "3" or "v1.10" onto its
// canonical semver form ("v2.0.0", "v3.0.0", "v1.10.0"). The leading "v"
// is optional, leading zeros are ignored, and at most major.minor.patch
// is accepted. Other labels are reported as !ok.
func Canonical(v string) (string, bool) {
	s := strings.TrimSpace(v)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	if s == "" {
		return "", false
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return "", false
	}
	for i, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return "", false
		}
		if p = strings.TrimLeft(p, "0"); p == "" {
			p = "0"
		}
		parts[i] = p
	}
	c := semver.Canonical("v" + strings.Join(parts, "."))
	return c, c != ""
}

// Compare orders a and b by semantic version; missing minor and patch
// components count as zero. ok is false when either label is unorderable.
func Compare(a, b string) (cmp int, ok bool) {
	ca, okA := Canonical(a)
	cb, okB := Canonical(b)
	if !okA || !okB {
		return 0, false
	}
	return semver.Compare(ca, cb), true
}

// NeedsMigration reports whether from strictly precedes to.
func NeedsMigration(from, to string) bool {
	c, ok := Compare(from, to)
	return ok && c < 0
}

// Sort returns the distinct versions in ascending order. Labels naming the
// same version ("v1", "v1.0", "v01") collapse to the lexically first one.
// Unorderable labels follow every orderable one, in lexical order.
func Sort(versions []string) []string {
	seen := make(map[string]bool, len(versions))
	all := make([]string, 0, len(versions))
	for _, v := range versions {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		all = append(all, v)
	}

	sort.SliceStable(all, func(i, j int) bool {
		c, ok := Compare(all[i], all[j])
		if ok && c != 0 {
			return c < 0
		}
		_, okI := Canonical(all[i])
		_, okJ := Canonical(all[j])
		if okI != okJ {
			return okI
		}
		return all[i] < all[j]
	})

	out := all[:0]
	for _, v := range all {
		if n := len(out); n > 0 {
			if c, ok := Compare(out[n-1], v); ok && c == 0 {
				zap.L().Warn("migration: ignoring duplicate version label",
					zap.String("version", v),
					zap.String("kept", out[n-1]),
				)
				continue
			}
		}
		out = append(out, v)
	}
	return out
}
