package engine

import (
	"strings"

	"attendguard/internal/config"
)

// RevokedSet holds badge credentials that are no longer honoured.
type RevokedSet struct {
	Enabled bool
	revoked map[string]struct{}
}

func buildRevokedSet(cfg *config.Config) *RevokedSet {
	rs := &RevokedSet{Enabled: cfg.AccessControl.Enabled}
	if !rs.Enabled {
		return rs
	}
	rs.revoked = make(map[string]struct{}, len(cfg.AccessControl.Revoked))
	for _, v := range cfg.AccessControl.Revoked {
		credential := normalizeCredential(v)
		if credential == "" {
			continue
		}
		rs.revoked[credential] = struct{}{}
	}
	return rs
}

func (r *RevokedSet) IsRevoked(credential string) bool {
	if r == nil || !r.Enabled || len(r.revoked) == 0 {
		return false
	}
	_, ok := r.revoked[normalizeCredential(credential)]
	return ok
}

// normalizeCredential upper-cases and drops separators, so "5f:3c:7a" and
// "5F3C7A" name the same badge.
func normalizeCredential(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(credential))
	for _, r := range credential {
		switch r {
		case ':', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
