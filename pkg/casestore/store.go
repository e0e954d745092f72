// Package casestore is the typed Case State Store wrapping the KV
// Store Adapter (spec §4.5): ZipCase/CaseSummary/NameSearch/session/
// credential records, keyed per the conventions in spec §4.1.
package casestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/CodeWithAsheville/zipcase/pkg/events"
	"github.com/CodeWithAsheville/zipcase/pkg/log"
	"github.com/CodeWithAsheville/zipcase/pkg/security"
	"github.com/CodeWithAsheville/zipcase/pkg/storage"
	"github.com/CodeWithAsheville/zipcase/pkg/types"
)

// defaultMaxSummaryRetries bounds the §4.5.1 corrupt-summary reprocess
// loop when New is given a maxSummaryRetries of zero or less.
const defaultMaxSummaryRetries = 3

// Enqueuer is the subset of queue.Queue the summary-corruption
// subscriber needs to re-dispatch a stage-2 message. Kept narrow to
// avoid an import-cycle-prone dependency on pkg/queue's full surface.
type Enqueuer interface {
	Send(ctx context.Context, caseNumber, caseID, userID string) error
}

// Store is the Case State Store.
type Store struct {
	kv                storage.Store
	cipher            security.Cipher
	broker            *events.Broker
	maxSummaryRetries int
}

// New builds a Store. broker must already be Start()ed; New subscribes
// to it immediately to run the summary-corruption recovery hook.
func New(kv storage.Store, cipher security.Cipher, broker *events.Broker, enqueuer Enqueuer, maxSummaryRetries int) *Store {
	if maxSummaryRetries <= 0 {
		maxSummaryRetries = defaultMaxSummaryRetries
	}
	s := &Store{kv: kv, cipher: cipher, broker: broker, maxSummaryRetries: maxSummaryRetries}
	go s.runSummaryRecovery(enqueuer)
	return s
}

// GetCase reads the `ID` record for a case number. Returns (nil, nil)
// if absent.
func (s *Store) GetCase(ctx context.Context, caseNumber string) (*types.ZipCase, error) {
	item, ok, err := s.kv.Get(ctx, caseKey(caseNumber, skCaseID))
	if err != nil {
		return nil, fmt.Errorf("casestore: get case %s: %w", caseNumber, err)
	}
	if !ok {
		return nil, nil
	}
	var zc types.ZipCase
	if err := item.Unmarshal(&zc); err != nil {
		return nil, fmt.Errorf("casestore: decode case %s: %w", caseNumber, err)
	}
	return &zc, nil
}

// SaveCase persists the `ID` record for a case. Callers are expected
// to have set LastUpdated.
func (s *Store) SaveCase(ctx context.Context, zc *types.ZipCase) error {
	if err := s.kv.Put(ctx, caseKey(zc.CaseNumber, skCaseID), zc, time.Time{}); err != nil {
		return fmt.Errorf("casestore: save case %s: %w", zc.CaseNumber, err)
	}
	return nil
}

// GetSummary reads the `SUMMARY` record for a case. Returns (nil, nil)
// if absent; does not itself validate the summary (see GetSearchResults
// for the validating, dispatch-triggering read).
func (s *Store) GetSummary(ctx context.Context, caseNumber string) (*types.CaseSummary, error) {
	item, ok, err := s.kv.Get(ctx, caseKey(caseNumber, skCaseSummary))
	if err != nil {
		return nil, fmt.Errorf("casestore: get summary %s: %w", caseNumber, err)
	}
	if !ok {
		return nil, nil
	}
	var summary types.CaseSummary
	if err := item.Unmarshal(&summary); err != nil {
		return nil, fmt.Errorf("casestore: decode summary %s: %w", caseNumber, err)
	}
	return &summary, nil
}

// SaveSummary persists the `SUMMARY` record for a case.
func (s *Store) SaveSummary(ctx context.Context, summary *types.CaseSummary) error {
	if err := s.kv.Put(ctx, caseKey(summary.CaseNumber, skCaseSummary), summary, time.Time{}); err != nil {
		return fmt.Errorf("casestore: save summary %s: %w", summary.CaseNumber, err)
	}
	return nil
}

// GetSearchResults issues one batched read across both the `ID` and
// `SUMMARY` records for the supplied case numbers and joins them in
// memory (spec §4.5). A case number with no `ID` record is omitted
// from the result. A present but invalid `SUMMARY` record is treated
// as absent and schedules asynchronous cleanup (§4.5.1) rather than
// blocking this read.
func (s *Store) GetSearchResults(ctx context.Context, caseNumbers []string) (map[string]types.SearchResult, error) {
	keys := make([]storage.Key, 0, len(caseNumbers)*2)
	for _, cn := range caseNumbers {
		keys = append(keys, caseKey(cn, skCaseID), caseKey(cn, skCaseSummary))
	}

	items, err := s.kv.BatchGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("casestore: batch get search results: %w", err)
	}

	results := make(map[string]types.SearchResult, len(caseNumbers))
	for _, cn := range caseNumbers {
		idItem, ok := items[caseKey(cn, skCaseID)]
		if !ok {
			continue
		}
		var zc types.ZipCase
		if err := idItem.Unmarshal(&zc); err != nil {
			l := log.WithCaseNumber(cn)
			l.Error().Err(err).Msg("corrupt ID record")
			continue
		}

		result := types.SearchResult{ZipCase: zc}

		if summaryItem, ok := items[caseKey(cn, skCaseSummary)]; ok {
			var summary types.CaseSummary
			if err := summaryItem.Unmarshal(&summary); err == nil && summary.Valid() {
				result.CaseSummary = &summary
			} else if zc.FetchStatus == types.FetchStatusComplete {
				s.publishSummaryCorrupt(cn)
			}
		}

		results[cn] = result
	}
	return results, nil
}

// CaseState is the per-case view the Pipeline Coordinator classifies
// on (spec §4.6): the `ID` record plus whether a *valid* `SUMMARY`
// record exists. Unlike GetSearchResults, this read never schedules
// summary-corruption recovery itself — the coordinator's own
// classification table already re-dispatches a `complete`-with-no-
// valid-summary case, so triggering both would double-enqueue.
type CaseState struct {
	ZipCase         *types.ZipCase
	HasValidSummary bool
}

// BatchGetCaseStates reads the classification inputs for a set of case
// numbers in one batched call.
func (s *Store) BatchGetCaseStates(ctx context.Context, caseNumbers []string) (map[string]CaseState, error) {
	keys := make([]storage.Key, 0, len(caseNumbers)*2)
	for _, cn := range caseNumbers {
		keys = append(keys, caseKey(cn, skCaseID), caseKey(cn, skCaseSummary))
	}

	items, err := s.kv.BatchGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("casestore: batch get case states: %w", err)
	}

	states := make(map[string]CaseState, len(caseNumbers))
	for _, cn := range caseNumbers {
		idItem, ok := items[caseKey(cn, skCaseID)]
		if !ok {
			continue
		}
		var zc types.ZipCase
		if err := idItem.Unmarshal(&zc); err != nil {
			l := log.WithCaseNumber(cn)
			l.Error().Err(err).Msg("corrupt ID record")
			continue
		}

		state := CaseState{ZipCase: &zc}
		if summaryItem, ok := items[caseKey(cn, skCaseSummary)]; ok {
			var summary types.CaseSummary
			if err := summaryItem.Unmarshal(&summary); err == nil && summary.Valid() {
				state.HasValidSummary = true
			}
		}
		states[cn] = state
	}
	return states, nil
}

func (s *Store) publishSummaryCorrupt(caseNumber string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:     events.EventCaseSummaryCorrupt,
		Message:  "summary failed validation for " + caseNumber,
		Metadata: map[string]string{"caseNumber": caseNumber},
	})
}

// runSummaryRecovery is the "separate completion hook" spec §4.5.1
// requires, kept off the read path so GetSearchResults stays fast.
func (s *Store) runSummaryRecovery(enqueuer Enqueuer) {
	if s.broker == nil {
		return
	}
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	for event := range sub {
		if event.Type != events.EventCaseSummaryCorrupt {
			continue
		}
		caseNumber := event.Metadata["caseNumber"]
		if err := s.recoverCorruptSummary(context.Background(), caseNumber, enqueuer); err != nil {
			l := log.WithCaseNumber(caseNumber)
			l.Error().Err(err).Msg("summary recovery failed")
		}
	}
}

func (s *Store) recoverCorruptSummary(ctx context.Context, caseNumber string, enqueuer Enqueuer) error {
	zc, err := s.GetCase(ctx, caseNumber)
	if err != nil {
		return err
	}
	if zc == nil {
		return nil
	}

	if zc.FetchStatus == types.FetchStatusReprocessing {
		if zc.TryCount >= s.maxSummaryRetries {
			zc.FetchStatus = types.FetchStatusFailed
			zc.Message = "summary repeatedly corrupt"
			zc.LastUpdated = time.Now()
			return s.SaveCase(ctx, zc)
		}
		return nil
	}

	zc.FetchStatus = types.FetchStatusReprocessing
	zc.TryCount = 1
	zc.LastUpdated = time.Now()
	if err := s.SaveCase(ctx, zc); err != nil {
		return err
	}
	if enqueuer == nil {
		return nil
	}
	return enqueuer.Send(ctx, caseNumber, zc.CaseID, "")
}

// GetNameSearch reads a NameSearch record by search ID.
func (s *Store) GetNameSearch(ctx context.Context, searchID string) (*types.NameSearch, error) {
	item, ok, err := s.kv.Get(ctx, nameSearchKey(searchID))
	if err != nil {
		return nil, fmt.Errorf("casestore: get name search %s: %w", searchID, err)
	}
	if !ok {
		return nil, nil
	}
	var ns types.NameSearch
	if err := item.Unmarshal(&ns); err != nil {
		return nil, fmt.Errorf("casestore: decode name search %s: %w", searchID, err)
	}
	return &ns, nil
}

// SaveNameSearch persists a NameSearch record.
func (s *Store) SaveNameSearch(ctx context.Context, ns *types.NameSearch) error {
	if err := s.kv.Put(ctx, nameSearchKey(ns.SearchID), ns, time.Time{}); err != nil {
		return fmt.Errorf("casestore: save name search %s: %w", ns.SearchID, err)
	}
	return nil
}

// GetPortalCredentials returns a user's portal credentials with the
// plaintext password decrypted. Spec §4.1 restricts this "sensitive"
// read to the Session Manager; other callers should use
// GetPortalCredentialsPublic instead.
func (s *Store) GetPortalCredentials(ctx context.Context, userID string) (*types.PortalCredentials, error) {
	creds, err := s.getPortalCredentials(ctx, userID)
	if err != nil || creds == nil {
		return creds, err
	}

	username, err := s.decryptField(ctx, creds.Username)
	if err != nil {
		return nil, fmt.Errorf("casestore: decrypt username for %s: %w", userID, err)
	}
	password, err := s.decryptField(ctx, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("casestore: decrypt password for %s: %w", userID, err)
	}
	creds.Username = username
	creds.Password = password
	return creds, nil
}

// GetPortalCredentialsPublic returns only username + isBad, per spec
// §4.1's non-sensitive read. Password is never populated.
func (s *Store) GetPortalCredentialsPublic(ctx context.Context, userID string) (*types.PortalCredentials, error) {
	creds, err := s.getPortalCredentials(ctx, userID)
	if err != nil || creds == nil {
		return creds, err
	}

	username, err := s.decryptField(ctx, creds.Username)
	if err != nil {
		return nil, fmt.Errorf("casestore: decrypt username for %s: %w", userID, err)
	}
	return &types.PortalCredentials{UserID: creds.UserID, Username: username, IsBad: creds.IsBad}, nil
}

func (s *Store) getPortalCredentials(ctx context.Context, userID string) (*types.PortalCredentials, error) {
	item, ok, err := s.kv.Get(ctx, userKey(userID, skPortalCredentials))
	if err != nil {
		return nil, fmt.Errorf("casestore: get portal credentials for %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	var creds types.PortalCredentials
	if err := item.Unmarshal(&creds); err != nil {
		return nil, fmt.Errorf("casestore: decode portal credentials for %s: %w", userID, err)
	}
	return &creds, nil
}

// SavePortalCredentials encrypts username/password before persisting
// and resets isBad to false (spec §6.5: a fresh credential write
// always clears a prior lockout).
func (s *Store) SavePortalCredentials(ctx context.Context, userID, username, password string) error {
	encryptedUsername, err := s.encryptField(ctx, username)
	if err != nil {
		return fmt.Errorf("casestore: encrypt username for %s: %w", userID, err)
	}
	encryptedPassword, err := s.encryptField(ctx, password)
	if err != nil {
		return fmt.Errorf("casestore: encrypt password for %s: %w", userID, err)
	}

	creds := &types.PortalCredentials{
		UserID:   userID,
		Username: encryptedUsername,
		Password: encryptedPassword,
		IsBad:    false,
	}
	if err := s.kv.Put(ctx, userKey(userID, skPortalCredentials), creds, time.Time{}); err != nil {
		return fmt.Errorf("casestore: save portal credentials for %s: %w", userID, err)
	}
	return nil
}

// MarkPortalCredentialsBad sets isBad = true, used when the pipeline
// coordinator observes an authentication failure (spec §4.6 step 4).
func (s *Store) MarkPortalCredentialsBad(ctx context.Context, userID string) error {
	creds, err := s.getPortalCredentials(ctx, userID)
	if err != nil {
		return err
	}
	if creds == nil {
		return nil
	}
	creds.IsBad = true
	if err := s.kv.Put(ctx, userKey(userID, skPortalCredentials), creds, time.Time{}); err != nil {
		return fmt.Errorf("casestore: mark credentials bad for %s: %w", userID, err)
	}
	return nil
}

func (s *Store) encryptField(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ciphertext, err := s.cipher.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decryptField(ctx context.Context, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	plaintext, err := s.cipher.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GetSession reads a cached portal session for a user.
func (s *Store) GetSession(ctx context.Context, userID string) (*types.PortalSession, error) {
	item, ok, err := s.kv.Get(ctx, userKey(userID, skSession))
	if err != nil {
		return nil, fmt.Errorf("casestore: get session for %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	var session types.PortalSession
	if err := item.Unmarshal(&session); err != nil {
		return nil, fmt.Errorf("casestore: decode session for %s: %w", userID, err)
	}
	return &session, nil
}

// SaveSession persists a portal session, with storage-side TTL set to
// its expiry as a backstop (the authoritative check happens at the
// read site per spec §4.3.2).
func (s *Store) SaveSession(ctx context.Context, session *types.PortalSession) error {
	if err := s.kv.Put(ctx, userKey(session.UserID, skSession), session, session.ExpiresAt); err != nil {
		return fmt.Errorf("casestore: save session for %s: %w", session.UserID, err)
	}
	return nil
}

// GetWebhookSettings reads a user's webhook configuration.
func (s *Store) GetWebhookSettings(ctx context.Context, userID string) (*types.WebhookSettings, error) {
	item, ok, err := s.kv.Get(ctx, userKey(userID, skWebhookSettings))
	if err != nil {
		return nil, fmt.Errorf("casestore: get webhook settings for %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	var settings types.WebhookSettings
	if err := item.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("casestore: decode webhook settings for %s: %w", userID, err)
	}
	return &settings, nil
}

// SaveWebhookSettings persists a user's webhook configuration.
func (s *Store) SaveWebhookSettings(ctx context.Context, settings *types.WebhookSettings) error {
	if err := s.kv.Put(ctx, userKey(settings.UserID, skWebhookSettings), settings, time.Time{}); err != nil {
		return fmt.Errorf("casestore: save webhook settings for %s: %w", settings.UserID, err)
	}
	return nil
}

// GetUserAgent reads a user's saved browser user-agent hint.
func (s *Store) GetUserAgent(ctx context.Context, userID string) (string, error) {
	item, ok, err := s.kv.Get(ctx, userKey(userID, skUserAgent))
	if err != nil {
		return "", fmt.Errorf("casestore: get user agent for %s: %w", userID, err)
	}
	if !ok {
		return "", nil
	}
	var ua string
	if err := item.Unmarshal(&ua); err != nil {
		return "", fmt.Errorf("casestore: decode user agent for %s: %w", userID, err)
	}
	return ua, nil
}

// SaveUserAgent persists a user's browser user-agent hint.
func (s *Store) SaveUserAgent(ctx context.Context, userID, userAgent string) error {
	if err := s.kv.Put(ctx, userKey(userID, skUserAgent), userAgent, time.Time{}); err != nil {
		return fmt.Errorf("casestore: save user agent for %s: %w", userID, err)
	}
	return nil
}
