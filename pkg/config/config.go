// Package config loads ZipCase's runtime configuration from the
// environment. There is no configuration file to parse — every
// setting in spec §6.4 is an environment variable — so this is a
// thin, validated os.Getenv wrapper rather than a reach for a
// structured-config library.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the environment variables ZipCase recognizes (spec §6.4).
type Config struct {
	PortalURL        string
	PortalCaseURL    string
	SearchQueueURL   string
	CaseDataQueueURL string
	DataTable        string
	KMSKeyID         string
	UploadsBucket    string
	Debug            bool

	// StorageBackend selects the KV Store Adapter implementation:
	// "dynamo" (default) or "bolt" for local/dev runs.
	StorageBackend string
	BoltPath       string

	// QueueBackend selects the Queue Adapter implementation: "sqs"
	// (default) or "memory" for local/dev runs.
	QueueBackend string

	// ProcessingStaleAfter is the §4.8 stuck-`processing` recovery
	// bound (default 5m).
	ProcessingStaleAfter time.Duration
	// DataDupSuppressWindow is the §4.9 rapid-re-enqueue suppression
	// window (default 60s).
	DataDupSuppressWindow time.Duration
	// SessionTTL is loaded from ZIPCASE_SESSION_TTL (default 23h). The
	// portal session manager does not read it; it caches sessions for
	// its own fixed 23h lifetime.
	SessionTTL time.Duration
	// MaxSummaryRetries bounds the §4.5.1 corrupt-summary reprocess loop.
	MaxSummaryRetries int
}

// Load reads Config from the environment. PORTAL_URL is required; its
// absence is a critical error (spec §6.4).
func Load() (*Config, error) {
	cfg := &Config{
		PortalURL:             os.Getenv("PORTAL_URL"),
		PortalCaseURL:         os.Getenv("PORTAL_CASE_URL"),
		SearchQueueURL:        os.Getenv("SEARCH_QUEUE_URL"),
		CaseDataQueueURL:      os.Getenv("CASE_DATA_QUEUE_URL"),
		DataTable:             os.Getenv("ZIPCASE_DATA_TABLE"),
		KMSKeyID:              os.Getenv("KMS_KEY_ID"),
		UploadsBucket:         os.Getenv("UPLOADS_BUCKET"),
		Debug:                 boolEnv("DEBUG", false),
		StorageBackend:        defaultString(os.Getenv("ZIPCASE_STORAGE_BACKEND"), "dynamo"),
		BoltPath:              defaultString(os.Getenv("ZIPCASE_BOLT_PATH"), "zipcase.db"),
		QueueBackend:          defaultString(os.Getenv("ZIPCASE_QUEUE_BACKEND"), "sqs"),
		ProcessingStaleAfter:  durationEnv("ZIPCASE_PROCESSING_STALE_AFTER", 5*time.Minute),
		DataDupSuppressWindow: durationEnv("ZIPCASE_DATA_DEDUP_WINDOW", 60*time.Second),
		SessionTTL:            durationEnv("ZIPCASE_SESSION_TTL", 23*time.Hour),
		MaxSummaryRetries:     intEnv("ZIPCASE_MAX_SUMMARY_RETRIES", 3),
	}

	if cfg.PortalURL == "" {
		return nil, fmt.Errorf("config: PORTAL_URL is required")
	}

	return cfg, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
