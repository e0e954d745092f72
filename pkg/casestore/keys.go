package casestore

import (
	"strings"

	"github.com/CodeWithAsheville/zipcase/pkg/storage"
)

// Key suffixes as named in spec §4.1's key conventions.
const (
	skAPIKey            = "API_KEY"
	skPortalCredentials = "PORTAL_CREDENTIALS"
	skSession           = "SESSION"
	skWebhookSettings   = "WEBHOOK_SETTINGS"
	skUserAgent         = "USER-AGENT"
	skCaseID            = "ID"
	skCaseSummary       = "SUMMARY"
	skNameSearchID      = "ID"
)

func userKey(userID, suffix string) storage.Key {
	return storage.Key{PK: "USER#" + userID, SK: suffix}
}

func caseKey(caseNumber, suffix string) storage.Key {
	return storage.Key{PK: "CASE#" + strings.ToUpper(caseNumber), SK: suffix}
}

func nameSearchKey(searchID string) storage.Key {
	return storage.Key{PK: "NAMESEARCH#" + searchID, SK: skNameSearchID}
}

func userAgentsKey() storage.Key {
	return storage.Key{PK: "USERAGENTS", SK: "COLLECTION"}
}
