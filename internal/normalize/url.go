package normalize

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// CanonicalURL returns the dedup key form of raw: lower-case scheme and host,
// no default port, no fragment, no trailing slash except for the root path,
// and only the keep query parameters, sorted.
func CanonicalURL(raw string, keep []string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url %q is not absolute http(s)", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	kept := url.Values{}
	for _, k := range keep {
		if vs, ok := q[k]; ok {
			vals := slices.Clone(vs)
			slices.Sort(vals)
			kept[k] = vals
		}
	}
	// Encode sorts by key.
	u.RawQuery = kept.Encode()
	u.ForceQuery = false

	return u.String(), nil
}
