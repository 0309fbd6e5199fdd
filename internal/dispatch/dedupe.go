package dispatch

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// CanonicalTarget normalizes a target so trivially different spellings of
// one profile share a key: the fragment is dropped, scheme and host are
// lowercased, and a trailing slash is trimmed.
func CanonicalTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// Dedupe keeps the first occurrence of every canonical target and reports
// how many later occurrences were dropped.
func Dedupe(items []validator.WorkItem) ([]validator.WorkItem, int) {
	seen := make(map[string]struct{}, len(items))
	out := make([]validator.WorkItem, 0, len(items))
	skipped := 0
	for _, it := range items {
		key := CanonicalTarget(it.Target)
		if _, dup := seen[key]; dup {
			skipped++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out, skipped
}
