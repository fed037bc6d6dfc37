// Package site resolves public site references to stored sites and loads the
// tenant a request acts for.
package site

import (
	"strconv"
	"strings"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
)

// ParseRef reads a path segment as either a numeric site id or a tag id.
// Anything made only of digits is treated as an id and must be positive.
func ParseRef(raw string) (backend.SiteRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return backend.SiteRef{}, apperr.Validation("site", "site reference is required")
	}
	if isDigits(raw) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return backend.SiteRef{}, apperr.Validation("site_id", "invalid site id")
		}
		return backend.SiteRef{ID: id}, nil
	}
	if strings.HasPrefix(raw, "-") {
		return backend.SiteRef{}, apperr.Validation("site_id", "invalid site id")
	}
	return backend.SiteRef{TagID: raw}, nil
}

// ParseTeamID parses the upstream-supplied team header.
func ParseTeamID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("team_id", "invalid team id")
	}
	return id, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
