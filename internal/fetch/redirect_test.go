package fetch

import (
	"net/http"
	"strings"
	"testing"
)

func TestRedirectMethod(t *testing.T) {
	tests := []struct {
		method string
		code   int
		want   string
	}{
		{method: "POST", code: 301, want: "GET"},
		{method: "POST", code: 302, want: "GET"},
		{method: "PUT", code: 302, want: "PUT"},
		{method: "HEAD", code: 302, want: "HEAD"},
		{method: "POST", code: 303, want: "GET"},
		{method: "DELETE", code: 303, want: "GET"},
		{method: "HEAD", code: 303, want: "HEAD"},
		{method: "POST", code: 307, want: "POST"},
		{method: "PUT", code: 300, want: "PUT"},
	}
	for _, tt := range tests {
		if got := redirectMethod(tt.method, tt.code); got != tt.want {
			t.Errorf("%s %d: got %s want %s", tt.method, tt.code, got, tt.want)
		}
	}
}

func redirectResponse(code int, location string) *Response {
	h := http.Header{}
	if location != "" {
		h.Set("Location", location)
	}
	return &Response{StatusCode: code, Header: h}
}

func TestNextRequest(t *testing.T) {
	post, err := NewRequest("POST", "http://example.com/form", []byte("x=1"))
	if err != nil {
		t.Fatal(err)
	}
	post.ContentType = "application/x-www-form-urlencoded"
	post.Credentials = UserPassword{Username: "u", Password: "p"}

	next, ok := nextRequest(post, redirectResponse(302, "/done?ok=1"), 1)
	if !ok {
		t.Fatal("expected redirect to be followed")
	}
	if next.Method != "GET" || next.Body != nil || next.ContentType != "" {
		t.Fatalf("expected body-less GET, got %s %q %q", next.Method, next.Body, next.ContentType)
	}
	if next.URL.String() != "http://example.com/done?ok=1" {
		t.Fatalf("unexpected location %s", next.URL)
	}
	if next.Credentials == nil {
		t.Fatal("username/password credentials are redirect-safe")
	}
	if post.Method != "POST" || post.URL.Path != "/form" {
		t.Fatal("original request must not change")
	}

	next, ok = nextRequest(post, redirectResponse(307, "http://other.example:8080/form"), 1)
	if !ok || next.Method != "POST" || string(next.Body) != "x=1" {
		t.Fatalf("expected POST preserved on 307, got %+v", next)
	}
}

func TestNextRequestNotFollowed(t *testing.T) {
	get := func() *Request {
		r, err := NewRequest("GET", "http://example.com/", nil)
		if err != nil {
			t.Fatal(err)
		}
		return r
	}

	noFollow := get()
	noFollow.AllowAutoRedirect = false
	capped := get()
	capped.MaxRedirects = 0

	tests := []struct {
		name  string
		req   *Request
		resp  *Response
		count int
	}{
		{name: "disabled", req: noFollow, resp: redirectResponse(302, "/x"), count: 1},
		{name: "max_zero", req: capped, resp: redirectResponse(302, "/x"), count: 1},
		{name: "over_cap", req: get(), resp: redirectResponse(302, "/x"), count: DefaultMaxRedirects + 1},
		{name: "not_redirect", req: get(), resp: redirectResponse(200, "/x"), count: 1},
		{name: "308_not_followed", req: get(), resp: redirectResponse(308, "/x"), count: 1},
		{name: "no_location", req: get(), resp: redirectResponse(301, ""), count: 1},
		{name: "blank_location", req: get(), resp: redirectResponse(301, "   "), count: 1},
		{name: "ftp_location", req: get(), resp: redirectResponse(301, "ftp://example.com/file"), count: 1},
		{name: "bad_location", req: get(), resp: redirectResponse(301, "http://[::1"), count: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := nextRequest(tt.req, tt.resp, tt.count); ok {
				t.Fatal("expected redirect not to be followed")
			}
		})
	}

	if _, ok := nextRequest(get(), redirectResponse(302, "/x"), DefaultMaxRedirects); !ok {
		t.Fatal("redirect at the cap should be followed")
	}
}

func TestNextRequestDropsUnsafeCredentials(t *testing.T) {
	req, err := NewRequest("GET", "http://example.com/", nil)
	if err != nil {
		t.Fatal(err)
	}

	req.Credentials = BearerToken("secret")
	next, ok := nextRequest(req, redirectResponse(302, "http://elsewhere.example/"), 1)
	if !ok {
		t.Fatal("expected redirect")
	}
	if next.Credentials != nil {
		t.Fatal("bearer token must be dropped on redirect")
	}

	req.Credentials = CredentialCache{"example.com": {Username: "u"}}
	if next, _ = nextRequest(req, redirectResponse(302, "/x"), 1); next.Credentials == nil {
		t.Fatal("credential cache is redirect-safe")
	}
}

func TestNextRequestAuthorizationHeader(t *testing.T) {
	req, err := NewRequest("GET", "http://a.test/", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer secret")

	tests := []struct {
		location string
		want     string
	}{
		{location: "/next", want: "Bearer secret"},
		{location: "http://A.TEST/next", want: "Bearer secret"},
		{location: "http://evil.test/", want: ""},
		{location: "http://a.test:8080/", want: ""},
	}
	for _, tt := range tests {
		next, ok := nextRequest(req, redirectResponse(302, tt.location), 1)
		if !ok {
			t.Fatalf("%s: expected redirect", tt.location)
		}
		if got := next.Header.Get("Authorization"); got != tt.want {
			t.Errorf("%s: expected Authorization %q, got %q", tt.location, tt.want, got)
		}
		payload, err := BuildRequest(next)
		if err != nil {
			t.Fatal(err)
		}
		if tt.want == "" && strings.Contains(string(payload), "Authorization") {
			t.Errorf("%s: Authorization sent:\n%s", tt.location, payload)
		}
	}
	if req.Header.Get("Authorization") != "Bearer secret" {
		t.Fatal("original request must not change")
	}
}
