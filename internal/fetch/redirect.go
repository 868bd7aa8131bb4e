package fetch

import (
	"net/http"
	"strings"
)

func isRedirect(code int) bool {
	switch code {
	case http.StatusMultipleChoices, http.StatusMovedPermanently, http.StatusFound,
		http.StatusSeeOther, http.StatusTemporaryRedirect:
		return true
	}
	return false
}

// redirectMethod is the method used to follow a redirect of the given status.
func redirectMethod(method string, code int) string {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound:
		if method == http.MethodPost {
			return http.MethodGet
		}
	case http.StatusSeeOther:
		if method != http.MethodGet && method != http.MethodHead {
			return http.MethodGet
		}
	}
	return method
}

// nextRequest returns the request that follows resp, or false if resp is to
// be returned as-is. count is the number of this redirect, starting at 1.
func nextRequest(req *Request, resp *Response, count int) (*Request, bool) {
	if !req.AllowAutoRedirect || !isRedirect(resp.StatusCode) || count > req.MaxRedirects {
		return nil, false
	}
	location := strings.TrimSpace(resp.Header.Get("Location"))
	if location == "" {
		return nil, false
	}
	u, err := req.URL.Parse(location)
	if err != nil {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, false
	}

	next := req.clone()
	next.URL = u
	next.Method = redirectMethod(req.Method, resp.StatusCode)
	if next.Method != req.Method {
		next.Body = nil
		next.ContentType = ""
		next.Header.Del("Content-Type")
	}
	if next.Credentials != nil && !next.Credentials.RedirectSafe() {
		next.Credentials = nil
	}
	// A caller-set Authorization header is meant for the original host only.
	if !strings.EqualFold(u.Host, req.URL.Host) {
		next.Header.Del("Authorization")
	}
	return next, true
}
