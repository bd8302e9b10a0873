package internal

import (
	"net/url"
	"strconv"
)

// ServerEndpoint extracts the host and port from u, defaulting the port
// from the scheme when the URL does not carry one.
func ServerEndpoint(u *url.URL) (string, int) {
	if u == nil {
		return "", 0
	}
	host := u.Hostname()
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return host, n
		}
	}
	if u.Scheme == "http" {
		return host, 80
	}
	return host, 443
}
