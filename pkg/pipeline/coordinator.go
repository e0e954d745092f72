// Package pipeline implements the Ingest coordinator (spec §4.6): it
// classifies submitted input into the right mix of store mutations
// and queue dispatches, and exposes a read-only status lookup that
// never mutates or enqueues.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CodeWithAsheville/zipcase/pkg/canon"
	"github.com/CodeWithAsheville/zipcase/pkg/casestore"
	"github.com/CodeWithAsheville/zipcase/pkg/log"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/session"
	"github.com/CodeWithAsheville/zipcase/pkg/queue"
	"github.com/CodeWithAsheville/zipcase/pkg/types"
	"github.com/google/uuid"
)

// Coordinator implements the Ingest and status read paths.
type Coordinator struct {
	store       *casestore.Store
	searchQueue queue.Queue
	dataQueue   queue.Queue
	sessionMgr  *session.Manager
}

// New builds a Coordinator.
func New(store *casestore.Store, searchQueue, dataQueue queue.Queue, sessionMgr *session.Manager) *Coordinator {
	return &Coordinator{store: store, searchQueue: searchQueue, dataQueue: dataQueue, sessionMgr: sessionMgr}
}

// action is the per-case decision from the classification table (spec
// §4.6 step 3).
type action int

const (
	actionNone action = iota
	actionSaveQueuedEnqueueStage1
	actionEnqueueStage1
	actionEnqueueStage2
	actionSaveFoundEnqueueStage2
)

type plannedCase struct {
	caseNumber string
	state      casestore.CaseState
	action     action
}

// Ingest parses input into case numbers, classifies each against its
// current state, and performs the matching mutations/dispatches
// (spec §4.6).
func (c *Coordinator) Ingest(ctx context.Context, input, userID, userAgent string) (map[string]types.SearchResult, error) {
	caseNumbers := dedupe(canon.Canonicalize(input))
	if len(caseNumbers) == 0 {
		return map[string]types.SearchResult{}, nil
	}

	states, err := c.store.BatchGetCaseStates(ctx, caseNumbers)
	if err != nil {
		return nil, fmt.Errorf("pipeline: batch read case states: %w", err)
	}

	plans := make([]plannedCase, 0, len(caseNumbers))
	for _, cn := range caseNumbers {
		plans = append(plans, plannedCase{caseNumber: cn, state: states[cn], action: classify(states[cn])})
	}

	needsDispatch := false
	for _, p := range plans {
		if p.action != actionNone {
			needsDispatch = true
			break
		}
	}

	var sessionErr error
	if needsDispatch {
		if _, err := c.sessionMgr.GetOrCreate(ctx, userID); err != nil {
			sessionErr = err
			c.handleAuthFailure(ctx, userID, err)
		}
	}

	for _, p := range plans {
		if p.action == actionNone {
			continue
		}
		if sessionErr != nil {
			if err := c.markFailed(ctx, p, sessionErr); err != nil {
				l := log.WithCaseNumber(p.caseNumber)
				l.Error().Err(err).Msg("mark case failed")
			}
			continue
		}
		if err := c.applyMutation(ctx, p); err != nil {
			return nil, err
		}
	}

	if sessionErr == nil {
		for _, p := range plans {
			if p.action == actionNone {
				continue
			}
			if err := c.dispatch(ctx, p, userID, userAgent); err != nil {
				return nil, err
			}
		}
	}

	return c.store.GetSearchResults(ctx, caseNumbers)
}

// Status performs only the batch read spec §4.6 requires of the
// read-only status endpoint: never mutates, never enqueues.
func (c *Coordinator) Status(ctx context.Context, caseNumbers []string) (map[string]types.SearchResult, error) {
	return c.store.GetSearchResults(ctx, dedupe(caseNumbers))
}

// IngestName starts a party-name search (spec §4.8's name-search
// branch, driven by the POST /name-search endpoint in §6.1): it mints
// a searchId, persists a queued NameSearch record, and enqueues a
// single search-queue name message serialized per-user like any other
// search-queue work.
func (c *Coordinator) IngestName(ctx context.Context, name, dateOfBirth string, soundsLike, criminalOnly bool, userID, userAgent string) (*types.NameSearch, error) {
	ns := &types.NameSearch{
		SearchID:       NewSearchID(),
		Name:           name,
		NormalizedName: strings.ToUpper(strings.TrimSpace(name)),
		DateOfBirth:    dateOfBirth,
		SoundsLike:     soundsLike,
		CriminalOnly:   criminalOnly,
		UserID:         userID,
		Status:         types.NameSearchQueued,
		CreatedAt:      time.Now(),
	}
	if err := c.store.SaveNameSearch(ctx, ns); err != nil {
		return nil, fmt.Errorf("pipeline: save name search: %w", err)
	}

	body, err := queue.EncodeName(queue.NameBody{
		SearchID:     ns.SearchID,
		Name:         name,
		UserID:       userID,
		DateOfBirth:  dateOfBirth,
		SoundsLike:   soundsLike,
		CriminalOnly: criminalOnly,
		UserAgent:    userAgent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := c.searchQueue.Send(ctx, queue.Message{Body: body, GroupID: userID, DedupID: ns.SearchID}); err != nil {
		return nil, fmt.Errorf("pipeline: enqueue name search: %w", err)
	}
	return ns, nil
}

// NameSearchStatus reads a NameSearch record and joins the current
// state of every case it has discovered so far, for the GET
// /name-search/{searchId} poll endpoint. Returns (nil, nil, nil) if
// the search id is unknown.
func (c *Coordinator) NameSearchStatus(ctx context.Context, searchID string) (*types.NameSearch, map[string]types.SearchResult, error) {
	ns, err := c.store.GetNameSearch(ctx, searchID)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: get name search: %w", err)
	}
	if ns == nil {
		return nil, nil, nil
	}
	if len(ns.CaseNumbers) == 0 {
		return ns, map[string]types.SearchResult{}, nil
	}
	results, err := c.store.GetSearchResults(ctx, ns.CaseNumbers)
	if err != nil {
		return ns, nil, fmt.Errorf("pipeline: get name search results: %w", err)
	}
	return ns, results, nil
}

func classify(state casestore.CaseState) action {
	if state.ZipCase == nil {
		return actionSaveQueuedEnqueueStage1
	}

	switch state.ZipCase.FetchStatus {
	case types.FetchStatusQueued:
		return actionEnqueueStage1
	case types.FetchStatusProcessing:
		return actionSaveQueuedEnqueueStage1
	case types.FetchStatusNotFound, types.FetchStatusFailed:
		return actionSaveQueuedEnqueueStage1
	case types.FetchStatusFound, types.FetchStatusReprocessing:
		if state.ZipCase.HasCaseID() {
			return actionEnqueueStage2
		}
		return actionEnqueueStage1
	case types.FetchStatusComplete:
		if !state.ZipCase.HasCaseID() {
			return actionSaveQueuedEnqueueStage1
		}
		if state.HasValidSummary {
			return actionNone
		}
		return actionSaveFoundEnqueueStage2
	default:
		return actionSaveQueuedEnqueueStage1
	}
}

func (c *Coordinator) applyMutation(ctx context.Context, p plannedCase) error {
	switch p.action {
	case actionSaveQueuedEnqueueStage1:
		zc := existingOrNew(p)
		zc.FetchStatus = types.FetchStatusQueued
		zc.LastUpdated = time.Now()
		return c.store.SaveCase(ctx, zc)
	case actionSaveFoundEnqueueStage2:
		zc := existingOrNew(p)
		zc.FetchStatus = types.FetchStatusFound
		zc.LastUpdated = time.Now()
		return c.store.SaveCase(ctx, zc)
	default:
		return nil
	}
}

func existingOrNew(p plannedCase) *types.ZipCase {
	if p.state.ZipCase != nil {
		return p.state.ZipCase
	}
	return &types.ZipCase{CaseNumber: p.caseNumber}
}

func (c *Coordinator) dispatch(ctx context.Context, p plannedCase, userID, userAgent string) error {
	switch p.action {
	case actionSaveQueuedEnqueueStage1, actionEnqueueStage1:
		body, err := queue.EncodeCase(queue.CaseBody{CaseNumber: p.caseNumber, UserID: userID, UserAgent: userAgent, Timestamp: time.Now()})
		if err != nil {
			return err
		}
		return c.searchQueue.Send(ctx, queue.Message{Body: body, GroupID: userID, DedupID: p.caseNumber})
	case actionEnqueueStage2, actionSaveFoundEnqueueStage2:
		caseID := ""
		if p.state.ZipCase != nil {
			caseID = p.state.ZipCase.CaseID
		}
		body, err := queue.EncodeData(queue.DataBody{CaseNumber: p.caseNumber, CaseID: caseID, UserID: userID, Timestamp: time.Now()})
		if err != nil {
			return err
		}
		return c.dataQueue.Send(ctx, queue.Message{Body: body, GroupID: caseID, DedupID: p.caseNumber})
	default:
		return nil
	}
}

func (c *Coordinator) markFailed(ctx context.Context, p plannedCase, cause error) error {
	zc := existingOrNew(p)
	zc.FetchStatus = types.FetchStatusFailed
	zc.Message = cause.Error()
	zc.LastUpdated = time.Now()
	return c.store.SaveCase(ctx, zc)
}

func (c *Coordinator) handleAuthFailure(ctx context.Context, userID string, err error) {
	var authErr *session.AuthError
	if ok := asAuthError(err, &authErr); ok && strings.HasPrefix(authErr.Message, "Authentication failed:") {
		if markErr := c.store.MarkPortalCredentialsBad(ctx, userID); markErr != nil {
			l := log.WithUserID(userID)
			l.Error().Err(markErr).Msg("mark credentials bad")
		}
	}
}

func asAuthError(err error, target **session.AuthError) bool {
	ae, ok := err.(*session.AuthError)
	if ok {
		*target = ae
	}
	return ok
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// NewSearchID mints an opaque identifier for a name-search request.
func NewSearchID() string {
	return uuid.NewString()
}
