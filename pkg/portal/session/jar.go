package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
)

// serializedCookie is the JSON-friendly projection of http.Cookie this
// package persists. net/http/cookiejar.Jar has no exported cookie list,
// so sessions are round-tripped through the portal origin's cookies
// only — every cookie the handshake sets (FedAuth, FedAuth1,
// aws-waf-token, ASP.NET session cookies) is scoped to that origin.
type serializedCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Domain string `json:"domain,omitempty"`
}

func jarToJSON(jar http.CookieJar, portalURL string) (string, error) {
	u, err := url.Parse(portalURL)
	if err != nil {
		return "", fmt.Errorf("session: parse portal URL: %w", err)
	}

	cookies := jar.Cookies(u)
	out := make([]serializedCookie, len(cookies))
	for i, c := range cookies {
		out[i] = serializedCookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("session: encode cookie jar: %w", err)
	}
	return string(data), nil
}

func jarFromJSON(data, portalURL string) (http.CookieJar, error) {
	var cookies []serializedCookie
	if err := json.Unmarshal([]byte(data), &cookies); err != nil {
		return nil, fmt.Errorf("session: decode cookie jar: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("session: create cookie jar: %w", err)
	}

	u, err := url.Parse(portalURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse portal URL: %w", err)
	}

	httpCookies := make([]*http.Cookie, len(cookies))
	for i, c := range cookies {
		httpCookies[i] = &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain}
	}
	jar.SetCookies(u, httpCookies)
	return jar, nil
}
