package core

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeOrigin reduces a URL or origin to lowercase scheme://host[:port].
// Inputs that do not parse as an absolute URL are trimmed and lowercased.
func NormalizeOrigin(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	u, err := url.Parse(in)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(in)
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host))
}
