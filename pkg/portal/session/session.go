// Package session implements the portal's WS-Federation login
// handshake and caches the resulting cookie jar per user (spec §4.3).
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/CodeWithAsheville/zipcase/pkg/log"
	"github.com/CodeWithAsheville/zipcase/pkg/security"
	"github.com/CodeWithAsheville/zipcase/pkg/types"
	"github.com/CodeWithAsheville/zipcase/pkg/waf"
)

const (
	requestTimeout = 20 * time.Second
	maxRedirects   = 10

	sessionTTL   = 23 * time.Hour
	safetyBuffer = 5 * time.Minute
)

// invalidCredentialsMarker is the literal substring spec §4.3.1 step 3
// names as the portal's invalid-login response.
const invalidCredentialsMarker = "Invalid Email or password."

// welcomeMarker is the literal substring that only appears once the
// portal has rendered an authenticated page.
const welcomeMarker = "Welcome, "

// CredentialStore is the subset of casestore.Store the Manager needs:
// reading a user's portal credentials and the non-sensitive isBad flag,
// and persisting a session. Kept as a narrow interface here (rather
// than importing casestore directly) to avoid an import cycle —
// casestore depends on storage, not the other way around.
type CredentialStore interface {
	GetPortalCredentials(ctx context.Context, userID string) (*types.PortalCredentials, error)
	GetSession(ctx context.Context, userID string) (*types.PortalSession, error)
	SaveSession(ctx context.Context, session *types.PortalSession) error
}

// AuthError is a user-facing authentication failure (bad credentials,
// credentials marked invalid) as opposed to a system error.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// Manager performs the WS-Federation handshake and caches sessions.
type Manager struct {
	portalURL string
	store     CredentialStore
	cipher    security.Cipher
	solver    waf.Solver
	wafOpts   waf.Options
	client    *http.Client
}

// NewManager builds a Manager. solver may be waf.StubSolver{} when no
// real challenge vendor is configured.
func NewManager(portalURL string, store CredentialStore, cipher security.Cipher, solver waf.Solver) *Manager {
	return &Manager{
		portalURL: strings.TrimRight(portalURL, "/"),
		store:     store,
		cipher:    cipher,
		solver:    solver,
		wafOpts:   waf.DefaultOptions(),
		client:    &http.Client{Timeout: requestTimeout},
	}
}

// GetOrCreate returns a cached, unexpired cookie jar for userID, or
// authenticates fresh and persists the result. spec §4.3.2.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (http.CookieJar, error) {
	cached, err := m.store.GetSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: load cached session: %w", err)
	}
	if cached != nil && !cached.Expired(time.Now()) {
		return jarFromJSON(cached.CookieJar, m.portalURL)
	}

	creds, err := m.store.GetPortalCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: load credentials: %w", err)
	}
	if creds == nil {
		return nil, &AuthError{Message: "no portal credentials on file"}
	}
	if creds.IsBad {
		return nil, &AuthError{Message: "credentials marked invalid"}
	}

	jar, err := m.Authenticate(ctx, creds.Username, creds.Password)
	if err != nil {
		return nil, err
	}

	if err := m.saveSession(ctx, userID, jar); err != nil {
		l := log.WithUserID(userID)
		l.Error().Err(err).Msg("failed to persist portal session")
	}
	return jar, nil
}

func (m *Manager) saveSession(ctx context.Context, userID string, jar http.CookieJar) error {
	serialized, err := jarToJSON(jar, m.portalURL)
	if err != nil {
		return err
	}
	return m.store.SaveSession(ctx, &types.PortalSession{
		UserID:    userID,
		CookieJar: serialized,
		ExpiresAt: time.Now().Add(sessionTTL),
	})
}

// Verify issues a cheap GET and reports whether session-valid
// indicators are present.
func (m *Manager) Verify(ctx context.Context, jar http.CookieJar) bool {
	client := &http.Client{Timeout: requestTimeout, Jar: jar}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.portalURL+"/Portal", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	return strings.Contains(string(body), welcomeMarker)
}

// Authenticate performs the full WS-Federation handshake (spec
// §4.3.1). The plaintext password exists only for the duration of this
// call.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("session: create cookie jar: %w", err)
	}
	client := &http.Client{
		Timeout: requestTimeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("session: too many redirects")
			}
			return nil
		},
	}

	// Step 1: GET the login page, following the redirect to the IdP.
	loginResp, loginBody, err := m.doGET(ctx, client, m.portalURL+"/Portal/Account/Login")
	if err != nil {
		return nil, err
	}
	loginURL := loginResp.Request.URL.String()

	loginBody, err = m.resolveChallenge(ctx, client, loginURL, loginResp, loginBody)
	if err != nil {
		return nil, err
	}

	csrfToken := extractInputValue(loginBody, "__RequestVerificationToken")

	// Step 2: POST credentials to the IdP.
	form := url.Values{
		"__RequestVerificationToken": {csrfToken},
		"UserName":                   {username},
		"Password":                   {password},
	}
	idpOrigin := originOf(loginURL)
	postResp, postBody, err := m.doPOSTForm(ctx, client, loginURL, form, idpOrigin, idpOrigin)
	if err != nil {
		return nil, err
	}
	if strings.Contains(postBody, invalidCredentialsMarker) {
		return nil, &AuthError{Message: "Authentication failed: Invalid Email or password"}
	}

	postBody, err = m.resolveChallenge(ctx, client, loginURL, postResp, postBody)
	if err != nil {
		return nil, err
	}

	wresult := extractInputValue(postBody, "wresult")
	if wresult == "" {
		return nil, fmt.Errorf("session: wresult token not found in IdP response")
	}

	// Step 3: exchange the WS-Federation token for portal session cookies.
	exchangeForm := url.Values{
		"wa":      {"wsignin1.0"},
		"wresult": {wresult},
		"wctx":    {"rm=0&id=passive&ru=%2fPortal%2fAccount%2fLogin"},
	}
	_, exchangeBody, err := m.doPOSTForm(ctx, client, m.portalURL+"/Portal", exchangeForm, m.portalURL, m.portalURL)
	if err != nil {
		return nil, err
	}

	portalURL, _ := url.Parse(m.portalURL)
	cookies := jar.Cookies(portalURL)
	var hasFedAuth, hasFedAuth1 bool
	for _, c := range cookies {
		switch c.Name {
		case "FedAuth":
			hasFedAuth = true
		case "FedAuth1":
			hasFedAuth1 = true
		}
	}
	if !hasFedAuth || !hasFedAuth1 || !strings.Contains(exchangeBody, welcomeMarker) {
		return nil, &AuthError{Message: "authentication failed"}
	}

	return jar, nil
}

// resolveChallenge checks resp/body for a WAF interstitial and, if
// found, solves it and re-issues the GET against requestURL.
func (m *Manager) resolveChallenge(ctx context.Context, client *http.Client, requestURL string, resp *http.Response, body string) (string, error) {
	if !m.solver.Detect(resp, body) {
		return body, nil
	}

	token, err := m.pollSolve(ctx, requestURL, body)
	if err != nil {
		return "", fmt.Errorf("session: waf challenge: %w", err)
	}

	installWAFCookie(client.Jar, requestURL, token)
	installWAFCookie(client.Jar, m.portalURL, token)

	_, newBody, err := m.doGET(ctx, client, requestURL)
	if err != nil {
		return "", err
	}
	return newBody, nil
}

func (m *Manager) pollSolve(ctx context.Context, challengeURL, body string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < m.wafOpts.MaxRetries; attempt++ {
		token, err := m.solver.Solve(ctx, challengeURL, body)
		if err == nil {
			return token, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.wafOpts.RetryDelay):
		}
	}
	return "", lastErr
}

func installWAFCookie(jar http.CookieJar, rawURL, token string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	jar.SetCookies(u, []*http.Cookie{{Name: "aws-waf-token", Value: token}})
}

func (m *Manager) doGET(ctx context.Context, client *http.Client, target string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	return m.do(client, req)
}

func (m *Manager) doPOSTForm(ctx context.Context, client *http.Client, target string, form url.Values, origin, referer string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return m.do(client, req)
}

func (m *Manager) do(client *http.Client, req *http.Request) (*http.Response, string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("session: request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, "", fmt.Errorf("session: %s returned %d", req.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("session: read response body: %w", err)
	}
	return resp, string(body), nil
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// extractInputValue walks the HTML tree for <input name="name"
// value="..."> and returns its value, or "" if absent.
func extractInputValue(document, name string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(document))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			return ""
		}
		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		if token.Data != "input" {
			continue
		}

		var attrName, attrValue string
		for _, attr := range token.Attr {
			switch attr.Key {
			case "name":
				attrName = attr.Val
			case "value":
				attrValue = attr.Val
			}
		}
		if attrName == name {
			return attrValue
		}
	}
}
