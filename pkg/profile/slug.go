package profile

import (
	"net/url"
	"strings"
)

// IDFromURL extracts the profile slug from a LinkedIn-style profile URL
// ("https://www.linkedin.com/in/ada-lovelace/" -> "ada-lovelace"). It
// returns "" when the URL has no /in/ segment.
func IDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "in" && parts[i+1] != "" {
			slug, err := url.PathUnescape(parts[i+1])
			if err != nil {
				return parts[i+1]
			}
			return slug
		}
	}
	return ""
}
