package api

import "net/url"

// validateURL reports whether s parses as an absolute http(s) URL.
func validateURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
