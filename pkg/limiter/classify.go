package limiter

import (
	"net/http"
	"regexp"
	"strings"
)

// adminPatterns match the platform's sensitive management surfaces:
// role and permission management, member administration, tenant and app
// settings. Checked before the method rules, so an administrative POST
// classifies as Admin rather than Write.
var adminPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)roles?(/|$)`),
	regexp.MustCompile(`(^|/)permissions?(/|$)`),
	regexp.MustCompile(`(^|/)members(/|$)`),
	regexp.MustCompile(`(^|/)admin(/|$)`),
	regexp.MustCompile(`(^|/)tenant(/|$)`),
}

// Classify maps an outbound call's method and path onto exactly one tier.
// It is a pure function: rules are evaluated in order and the first match
// wins.
func Classify(method, path string) Tier {
	for _, p := range adminPatterns {
		if p.MatchString(path) {
			return Admin
		}
	}

	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return Write
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return Read
	}
	return Default
}
