// Package html implements the two portal scraping operations ZipCase's
// pipeline depends on: resolving a case number to a caseId (spec
// §4.4.1), and resolving a party name to a set of cases (spec §4.4.2).
package html

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	xhtml "golang.org/x/net/html"
)

const requestTimeout = 20 * time.Second

const smartSearchTrouble = "Smart Search is having trouble processing your search"

// FetchError distinguishes a retryable system error from a legitimate
// terminal state (not found), per spec §4.4.1.
type FetchError struct {
	Message       string
	IsSystemError bool
}

func (e *FetchError) Error() string { return e.Message }

// NamedCase is one row of a party-name search result.
type NamedCase struct {
	CaseID     string `json:"caseId"`
	CaseNumber string `json:"caseNumber"`
}

// Client scrapes the portal's SmartSearch HTML endpoints.
type Client struct {
	portalURL string
	client    *http.Client
}

// NewClient builds a Client against portalURL (PORTAL_URL).
func NewClient(portalURL string) *Client {
	return &Client{
		portalURL: strings.TrimRight(portalURL, "/"),
		client:    &http.Client{Timeout: requestTimeout},
	}
}

// FetchCaseIDFromPortal implements spec §4.4.1.
func (c *Client) FetchCaseIDFromPortal(ctx context.Context, caseNumber string, jar http.CookieJar, userAgent string) (string, error) {
	client := c.jarClient(jar)

	form := url.Values{
		"caseCriteria.SearchCriteria": {caseNumber},
		"caseCriteria.SearchCases":    {"true"},
	}
	if _, err := c.post(ctx, client, "/Portal/SmartSearch/SmartSearch/SmartSearch", form, userAgent); err != nil {
		return "", &FetchError{Message: err.Error(), IsSystemError: true}
	}

	body, err := c.get(ctx, client, "/Portal/SmartSearch/SmartSearchResults", "", userAgent)
	if err != nil {
		return "", &FetchError{Message: err.Error(), IsSystemError: true}
	}

	if strings.Contains(body, smartSearchTrouble) {
		return "", &FetchError{Message: "smart search is temporarily unavailable", IsSystemError: true}
	}

	caseID := firstCaseLinkID(body)
	if caseID == "" {
		return "", &FetchError{Message: "case not found", IsSystemError: false}
	}
	return caseID, nil
}

// NameSearchOptions configures FetchCasesByName per spec §4.4.2.
type NameSearchOptions struct {
	DateOfBirth  string
	SoundsLike   bool
	CriminalOnly bool
}

// FetchCasesByName implements spec §4.4.2.
func (c *Client) FetchCasesByName(ctx context.Context, name string, jar http.CookieJar, userAgent string, opts NameSearchOptions) ([]NamedCase, error) {
	client := c.jarClient(jar)

	form := url.Values{
		"caseCriteria.SearchCriteria":    {name},
		"caseCriteria.SearchByPartyName": {"true"},
		"caseCriteria.SearchCases":       {"true"},
	}
	if opts.DateOfBirth != "" {
		form.Set("caseCriteria.DOBFrom", opts.DateOfBirth)
		form.Set("caseCriteria.DOBTo", opts.DateOfBirth)
	}
	if opts.SoundsLike {
		form.Set("caseCriteria.UseSoundex", "true")
	}
	if opts.CriminalOnly {
		form.Set("caseCriteria.CaseType", "Criminal and Infraction")
	}

	resp, err := c.post(ctx, client, "/Portal/SmartSearch/SmartSearch/SmartSearch", form, userAgent)
	if err != nil {
		return nil, &FetchError{Message: err.Error(), IsSystemError: true}
	}

	if !hasCookie(resp.Cookies(), "SmartSearchCriteria") {
		return nil, &FetchError{Message: "portal did not set SmartSearchCriteria cookie", IsSystemError: true}
	}

	body, err := c.get(ctx, client, "/Portal/SmartSearch/SmartSearchResults", c.portalURL+"/Portal/Home/WorkspaceMode?p=0", userAgent)
	if err != nil {
		return nil, &FetchError{Message: err.Error(), IsSystemError: true}
	}

	cases, err := parseGridResults(body)
	if err != nil {
		return nil, &FetchError{Message: err.Error(), IsSystemError: true}
	}
	return cases, nil
}

func (c *Client) jarClient(jar http.CookieJar) *http.Client {
	client := *c.client
	client.Jar = jar
	return &client
}

func (c *Client) post(ctx context.Context, client *http.Client, path string, form url.Values, userAgent string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.portalURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return c.do(client, req)
}

func (c *Client) get(ctx context.Context, client *http.Client, path, referer, userAgent string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.portalURL+path, nil)
	if err != nil {
		return "", err
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := c.do(client, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) do(client *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("portal request to %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("portal request to %s returned %d", req.URL.Path, resp.StatusCode)
	}
	return resp, nil
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

// firstCaseLinkID returns the data-caseid attribute of the first
// anchor whose class list includes "caseLink".
func firstCaseLinkID(body string) string {
	tokenizer := xhtml.NewTokenizer(strings.NewReader(body))
	for {
		if tokenizer.Next() == xhtml.ErrorToken {
			return ""
		}
		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}

		var class, caseID string
		for _, attr := range token.Attr {
			switch attr.Key {
			case "class":
				class = attr.Val
			case "data-caseid":
				caseID = attr.Val
			}
		}
		if caseID != "" && containsClass(class, "caseLink") {
			return caseID
		}
	}
}

func containsClass(classAttr, want string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == want {
			return true
		}
	}
	return false
}

// gridScript matches the embedded kendoGrid initialization call that
// carries the result set (spec §4.4.2 step 4).
var gridScript = regexp.MustCompile(`(?s)jQuery\("#Grid"\)\.kendoGrid\((.*?)\);`)

// gridData matches the "data" payload within the grid init call.
var gridData = regexp.MustCompile(`(?s)"data":\{"Data":.*?"Total":\d+\}\}`)

type gridResponse struct {
	Data struct {
		Data []struct {
			CaseResults []struct {
				EncryptedCaseID string `json:"EncryptedCaseId"`
				CaseNumber      string `json:"CaseNumber"`
			} `json:"CaseResults"`
		} `json:"Data"`
	} `json:"data"`
}

func parseGridResults(body string) ([]NamedCase, error) {
	scriptMatch := gridScript.FindStringSubmatch(body)
	if scriptMatch == nil {
		return nil, fmt.Errorf("results grid script not found")
	}

	dataMatch := gridData.FindString(scriptMatch[1])
	if dataMatch == "" {
		return nil, fmt.Errorf("results grid data not found")
	}

	var parsed gridResponse
	if err := json.Unmarshal([]byte("{"+dataMatch), &parsed); err != nil {
		return nil, fmt.Errorf("decode results grid: %w", err)
	}

	seen := make(map[string]bool)
	var results []NamedCase
	for _, page := range parsed.Data.Data {
		for _, row := range page.CaseResults {
			if row.EncryptedCaseID == "" || row.CaseNumber == "" {
				continue
			}
			if seen[row.CaseNumber] {
				continue
			}
			seen[row.CaseNumber] = true
			results = append(results, NamedCase{CaseID: row.EncryptedCaseID, CaseNumber: row.CaseNumber})
		}
	}
	return results, nil
}
