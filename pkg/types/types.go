// Package types defines the entities shared across ZipCase's storage,
// pipeline, and API layers.
package types

import "time"

// FetchStatus is the tagged-variant status of a Case's portal lookup.
type FetchStatus string

const (
	FetchStatusQueued       FetchStatus = "queued"
	FetchStatusProcessing   FetchStatus = "processing"
	FetchStatusFound        FetchStatus = "found"
	FetchStatusComplete     FetchStatus = "complete"
	FetchStatusFailed       FetchStatus = "failed"
	FetchStatusNotFound     FetchStatus = "notFound"
	FetchStatusReprocessing FetchStatus = "reprocessing"
)

// ZipCase is the `ID` record for a canonicalized case number.
type ZipCase struct {
	CaseNumber  string      `json:"caseNumber"`
	CaseID      string      `json:"caseId,omitempty"`
	FetchStatus FetchStatus `json:"fetchStatus"`
	Message     string      `json:"message,omitempty"`
	TryCount    int         `json:"tryCount,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// HasCaseID reports whether the portal has assigned this case an ID.
func (z *ZipCase) HasCaseID() bool {
	return z != nil && z.CaseID != ""
}

// Charge is a single charge on a case, as returned by the portal's
// case-detail endpoint.
type Charge struct {
	Description string       `json:"description"`
	Statute     string       `json:"statute,omitempty"`
	Class       string       `json:"class,omitempty"`
	Disposition *Disposition `json:"disposition,omitempty"`
}

// Disposition records the outcome of a charge.
type Disposition struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

// PortalEvent is a single entry in a case's raw portal event feed.
// TypeCode "LPSD" (arrest) and "CIT" (citation) are interpreted by the
// stage-2 worker to populate ArrestOrCitationDate/Type; all other
// codes are carried through unmodified.
type PortalEvent struct {
	TypeCode    string    `json:"typeCode"`
	Date        time.Time `json:"date"`
	Description string    `json:"description,omitempty"`
}

// CaseSummary is the denormalized `SUMMARY` record for a case.
type CaseSummary struct {
	CaseNumber           string        `json:"caseNumber"`
	CaseName             string        `json:"caseName"`
	Court                string        `json:"court"`
	Charges              []Charge      `json:"charges"`
	Dispositions         []Disposition `json:"dispositions,omitempty"`
	Events               []PortalEvent `json:"events,omitempty"`
	ArrestOrCitationDate *time.Time    `json:"arrestOrCitationDate,omitempty"`
	ArrestOrCitationType string        `json:"arrestOrCitationType,omitempty"`
}

// Valid reports whether the summary satisfies the invariant in spec
// §3.2(2): non-empty caseName and court, and a list-typed charges
// field (nil is a valid empty list; a summary that failed to
// unmarshal as this shape is never constructed in the first place, so
// callers that read raw storage bytes must treat unmarshal failure as
// corruption separately from this check).
func (s *CaseSummary) Valid() bool {
	return s != nil && s.CaseName != "" && s.Court != ""
}

// NameSearchStatus is the lifecycle status of a NameSearch record.
type NameSearchStatus string

const (
	NameSearchQueued     NameSearchStatus = "queued"
	NameSearchProcessing NameSearchStatus = "processing"
	NameSearchComplete   NameSearchStatus = "complete"
	NameSearchFailed     NameSearchStatus = "failed"
)

// NameSearch is a party-name search request and its discovered cases.
type NameSearch struct {
	SearchID      string           `json:"searchId"`
	Name          string           `json:"name"`
	NormalizedName string          `json:"normalizedName"`
	DateOfBirth   string           `json:"dateOfBirth,omitempty"`
	SoundsLike    bool             `json:"soundsLike"`
	CriminalOnly  bool             `json:"criminalOnly"`
	UserID        string           `json:"userId"`
	CaseNumbers   []string         `json:"caseNumbers,omitempty"`
	Status        NameSearchStatus `json:"status"`
	Message       string           `json:"message,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// PortalCredentials are a user's portal login, encrypted at rest by
// the storage layer.
type PortalCredentials struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	IsBad    bool   `json:"isBad"`
}

// PortalSession is a cached, serialized cookie jar for a user.
type PortalSession struct {
	UserID    string    `json:"userId"`
	CookieJar string    `json:"cookieJar"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry, checked at
// the read site independent of storage-side TTL latency (spec §4.3.2).
func (s *PortalSession) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// WebhookSettings is a user's webhook delivery configuration. Delivery
// itself is out of scope; this record is persisted so the key
// conventions in spec §4.1 round-trip, and so a future webhook
// delivery component has somewhere to read from.
type WebhookSettings struct {
	UserID  string `json:"userId"`
	URL     string `json:"url"`
	Secret  string `json:"secret,omitempty"`
	Enabled bool   `json:"enabled"`
}

// SearchResult joins a ZipCase with its optional CaseSummary, the
// shape returned by the Request API and by CaseStore.GetSearchResults.
type SearchResult struct {
	ZipCase     ZipCase      `json:"zipCase"`
	CaseSummary *CaseSummary `json:"caseSummary,omitempty"`
}
