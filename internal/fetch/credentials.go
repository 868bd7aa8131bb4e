package fetch

import (
	"encoding/base64"
	"net/url"
)

// Credentials authenticate requests to the origin server. The
// implementations are UserPassword, CredentialCache and BearerToken.
type Credentials interface {
	// Authorization returns the Authorization header value for u.
	Authorization(u *url.URL) (string, bool)
	// RedirectSafe reports whether the credentials may be resent to the
	// target of an automatic redirect.
	RedirectSafe() bool
}

// UserPassword sends HTTP Basic authentication.
type UserPassword struct {
	Username string
	Password string
}

func (c UserPassword) Authorization(*url.URL) (string, bool) {
	if c.Username == "" {
		return "", false
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password)), true
}

func (UserPassword) RedirectSafe() bool { return true }

// CredentialCache holds Basic credentials per host. A key with a port
// ("example.com:8080") takes precedence over the bare hostname.
type CredentialCache map[string]UserPassword

func (c CredentialCache) Authorization(u *url.URL) (string, bool) {
	if up, ok := c[u.Host]; ok {
		return up.Authorization(u)
	}
	if up, ok := c[u.Hostname()]; ok {
		return up.Authorization(u)
	}
	return "", false
}

func (CredentialCache) RedirectSafe() bool { return true }

// BearerToken sends an OAuth-style bearer token. It is dropped on redirect.
type BearerToken string

func (t BearerToken) Authorization(*url.URL) (string, bool) {
	if t == "" {
		return "", false
	}
	return "Bearer " + string(t), true
}

func (BearerToken) RedirectSafe() bool { return false }
