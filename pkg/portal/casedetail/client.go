// Package casedetail implements the stage-2 portal fetch (spec §4.9):
// given a caseId, retrieve the portal's case-detail JSON and transform
// it into a types.CaseSummary.
package casedetail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CodeWithAsheville/zipcase/pkg/types"
)

const requestTimeout = 20 * time.Second

// FetchError distinguishes a retryable system error from other
// failures, mirroring pkg/portal/html.FetchError.
type FetchError struct {
	Message       string
	IsSystemError bool
}

func (e *FetchError) Error() string { return e.Message }

// caseDetailResponse is the JSON shape PORTAL_CASE_URL/{caseId} is
// assumed to return (spec.md §9 leaves the exact schema an Open
// Question; this is the schema SPEC_FULL.md §8.2 pins down). It
// mirrors the portal's typical case-detail payload: a name, a court
// identifier, a flat charge list each carrying an optional
// disposition, and a raw chronological event feed from which
// arrest/citation metadata is derived.
type caseDetailResponse struct {
	CaseName string `json:"caseName"`
	Court    string `json:"court"`
	Charges  []struct {
		Description string `json:"description"`
		Statute     string `json:"statute"`
		Class       string `json:"class"`
		Disposition *struct {
			Date        string `json:"date"`
			Description string `json:"description"`
		} `json:"disposition"`
	} `json:"charges"`
	Events []struct {
		TypeCode    string `json:"typeCode"`
		Date        string `json:"date"`
		Description string `json:"description"`
	} `json:"events"`
}

// arrestTypeCode and citationTypeCode are the two event type codes
// spec §4.9 step 2 interprets; every other code is carried through
// unmodified in CaseSummary.Events.
const (
	arrestTypeCode   = "LPSD"
	citationTypeCode = "CIT"
)

// Client fetches case-detail JSON from the portal.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient builds a Client against baseURL (PORTAL_CASE_URL).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// FetchSummary retrieves and transforms the case-detail payload for
// caseID, authenticated via jar.
func (c *Client) FetchSummary(ctx context.Context, caseNumber, caseID string, jar http.CookieJar, userAgent string) (*types.CaseSummary, error) {
	client := *c.client
	client.Jar = jar

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+caseID, nil)
	if err != nil {
		return nil, &FetchError{Message: err.Error(), IsSystemError: true}
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("case detail request: %v", err), IsSystemError: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &FetchError{Message: "case detail not found", IsSystemError: false}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Message: fmt.Sprintf("case detail request returned %d", resp.StatusCode), IsSystemError: true}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Message: err.Error(), IsSystemError: true}
	}

	var parsed caseDetailResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("decode case detail: %v", err), IsSystemError: true}
	}

	return toSummary(caseNumber, &parsed), nil
}

func toSummary(caseNumber string, resp *caseDetailResponse) *types.CaseSummary {
	summary := &types.CaseSummary{
		CaseNumber: caseNumber,
		CaseName:   resp.CaseName,
		Court:      resp.Court,
	}

	for _, c := range resp.Charges {
		charge := types.Charge{
			Description: c.Description,
			Statute:     c.Statute,
			Class:       c.Class,
		}
		if c.Disposition != nil {
			charge.Disposition = &types.Disposition{
				Date:        parseDate(c.Disposition.Date),
				Description: c.Disposition.Description,
			}
			summary.Dispositions = append(summary.Dispositions, *charge.Disposition)
		}
		summary.Charges = append(summary.Charges, charge)
	}

	var earliestArrestOrCitation *time.Time
	var earliestType string
	for _, e := range resp.Events {
		date := parseDate(e.Date)
		summary.Events = append(summary.Events, types.PortalEvent{
			TypeCode:    e.TypeCode,
			Date:        date,
			Description: e.Description,
		})

		if e.TypeCode != arrestTypeCode && e.TypeCode != citationTypeCode {
			continue
		}
		if earliestArrestOrCitation == nil || date.Before(*earliestArrestOrCitation) {
			d := date
			earliestArrestOrCitation = &d
			if e.TypeCode == arrestTypeCode {
				earliestType = "Arrest"
			} else {
				earliestType = "Citation"
			}
		}
	}
	summary.ArrestOrCitationDate = earliestArrestOrCitation
	summary.ArrestOrCitationType = earliestType

	return summary
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}
