// Package search implements the Stage-1 Worker (spec §4.8): it
// consumes the search queue, resolving case numbers (and party names)
// to portal caseIds, and hands off to the data queue on success.
package search

import (
	"context"
	"sync"
	"time"

	"github.com/CodeWithAsheville/zipcase/pkg/casestore"
	"github.com/CodeWithAsheville/zipcase/pkg/log"
	"github.com/CodeWithAsheville/zipcase/pkg/metrics"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/html"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/session"
	"github.com/CodeWithAsheville/zipcase/pkg/queue"
	"github.com/CodeWithAsheville/zipcase/pkg/types"
)

const stageName = "search"

// Worker is the Stage-1 Worker.
type Worker struct {
	searchQueue  queue.Queue
	dataQueue    queue.Queue
	store        *casestore.Store
	sessionMgr   *session.Manager
	portalClient *html.Client
	staleAfter   time.Duration
	concurrency  int
}

// New builds a Worker. staleAfter is the §4.8 stuck-`processing`
// recovery bound (config.ProcessingStaleAfter, default 5m).
func New(searchQueue, dataQueue queue.Queue, store *casestore.Store, sessionMgr *session.Manager, portalClient *html.Client, staleAfter time.Duration, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		searchQueue:  searchQueue,
		dataQueue:    dataQueue,
		store:        store,
		sessionMgr:   sessionMgr,
		portalClient: portalClient,
		staleAfter:   staleAfter,
		concurrency:  concurrency,
	}
}

// Run consumes the search queue until ctx is canceled. Each received
// message is handled on its own goroutine, bounded by a semaphore
// sized to w.concurrency, matching spec §5.1's cooperative-task model.
func (w *Worker) Run(ctx context.Context) error {
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}

		msgs, err := w.searchQueue.Receive(ctx, w.concurrency)
		if err != nil {
			l := log.WithComponent("worker.search")
			l.Error().Err(err).Msg("receive failed")
			continue
		}
		metrics.QueueMessagesReceivedTotal.WithLabelValues("search").Add(float64(len(msgs)))

		for _, msg := range msgs {
			msg := msg
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				w.handle(ctx, msg)
			}()
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.ReceivedMessage) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StageDurations, stageName)

	caseBody, nameBody, err := queue.DecodeSearchMessage(msg.Body)
	if err != nil {
		l := log.WithComponent("worker.search")
		l.Error().Err(err).Msg("decode message")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}

	if nameBody != nil {
		w.handleName(ctx, msg, *nameBody)
		return
	}
	w.handleCase(ctx, msg, *caseBody)
}

// handleCase implements spec §4.8 steps 1-3 for a case-search message.
func (w *Worker) handleCase(ctx context.Context, msg queue.ReceivedMessage, body queue.CaseBody) {
	logger := log.WithCaseNumber(body.CaseNumber)

	zc, err := w.store.GetCase(ctx, body.CaseNumber)
	if err != nil {
		logger.Error().Err(err).Msg("read case")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}

	if zc != nil {
		switch zc.FetchStatus {
		case types.FetchStatusFound, types.FetchStatusComplete:
			if zc.HasCaseID() {
				w.deleteMessage(ctx, msg)
				return
			}
		case types.FetchStatusProcessing:
			if time.Since(zc.LastUpdated) < w.staleAfter {
				// another consumer owns this message; let it redeliver
				// rather than racing a second portal lookup.
				return
			}
		}
	}

	if zc == nil {
		zc = &types.ZipCase{CaseNumber: body.CaseNumber}
	}
	zc.FetchStatus = types.FetchStatusProcessing
	zc.LastUpdated = time.Now()
	if err := w.store.SaveCase(ctx, zc); err != nil {
		logger.Error().Err(err).Msg("mark processing")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}

	jar, err := w.sessionMgr.GetOrCreate(ctx, body.UserID)
	if err != nil {
		w.failCase(ctx, zc, err.Error())
		w.deleteMessage(ctx, msg)
		return
	}

	caseID, err := w.portalClient.FetchCaseIDFromPortal(ctx, body.CaseNumber, jar, body.UserAgent)
	if err != nil {
		fetchErr, ok := err.(*html.FetchError)
		if ok && !fetchErr.IsSystemError {
			zc.FetchStatus = types.FetchStatusNotFound
			zc.LastUpdated = time.Now()
			if saveErr := w.store.SaveCase(ctx, zc); saveErr != nil {
				logger.Error().Err(saveErr).Msg("mark not found")
			}
			metrics.CaseStatusTransitionsTotal.WithLabelValues(string(types.FetchStatusNotFound)).Inc()
			w.deleteMessage(ctx, msg)
			return
		}
		w.failCase(ctx, zc, err.Error())
		w.deleteMessage(ctx, msg)
		return
	}

	zc.CaseID = caseID
	zc.FetchStatus = types.FetchStatusFound
	zc.Message = ""
	zc.LastUpdated = time.Now()
	if err := w.store.SaveCase(ctx, zc); err != nil {
		logger.Error().Err(err).Msg("save found case")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}
	metrics.CaseStatusTransitionsTotal.WithLabelValues(string(types.FetchStatusFound)).Inc()

	dataBody, err := queue.EncodeData(queue.DataBody{CaseNumber: body.CaseNumber, CaseID: caseID, UserID: body.UserID, Timestamp: time.Now()})
	if err != nil {
		logger.Error().Err(err).Msg("encode stage-2 message")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}
	if err := w.dataQueue.Send(ctx, queue.Message{Body: dataBody, GroupID: caseID, DedupID: body.CaseNumber}); err != nil {
		logger.Error().Err(err).Msg("enqueue stage-2")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}
	metrics.QueueMessagesSentTotal.WithLabelValues("data").Inc()

	w.deleteMessage(ctx, msg)
}

// handleName implements spec §4.8's name-search branch: on success it
// persists the discovered case numbers with a `found` ZipCase record
// (the portal already returned a caseId, so stage-1 is unnecessary)
// and batch-enqueues stage-2 messages for each.
func (w *Worker) handleName(ctx context.Context, msg queue.ReceivedMessage, body queue.NameBody) {
	logger := log.WithUserID(body.UserID)

	ns, err := w.store.GetNameSearch(ctx, body.SearchID)
	if err != nil {
		logger.Error().Err(err).Msg("read name search")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}
	if ns == nil {
		ns = &types.NameSearch{SearchID: body.SearchID, Name: body.Name, UserID: body.UserID}
	}
	if ns.Status == types.NameSearchComplete {
		w.deleteMessage(ctx, msg)
		return
	}

	jar, err := w.sessionMgr.GetOrCreate(ctx, body.UserID)
	if err != nil {
		ns.Status = types.NameSearchFailed
		ns.Message = err.Error()
		if saveErr := w.store.SaveNameSearch(ctx, ns); saveErr != nil {
			logger.Error().Err(saveErr).Msg("save failed name search")
		}
		w.deleteMessage(ctx, msg)
		return
	}

	cases, err := w.portalClient.FetchCasesByName(ctx, body.Name, jar, body.UserAgent, html.NameSearchOptions{
		DateOfBirth:  body.DateOfBirth,
		SoundsLike:   body.SoundsLike,
		CriminalOnly: body.CriminalOnly,
	})
	if err != nil {
		ns.Status = types.NameSearchFailed
		ns.Message = err.Error()
		if saveErr := w.store.SaveNameSearch(ctx, ns); saveErr != nil {
			logger.Error().Err(saveErr).Msg("save failed name search")
		}
		w.deleteMessage(ctx, msg)
		return
	}

	caseNumbers := make([]string, 0, len(cases))
	dataMsgs := make([]queue.Message, 0, len(cases))
	for _, nc := range cases {
		caseNumbers = append(caseNumbers, nc.CaseNumber)

		zc := &types.ZipCase{
			CaseNumber:  nc.CaseNumber,
			CaseID:      nc.CaseID,
			FetchStatus: types.FetchStatusFound,
			LastUpdated: time.Now(),
		}
		if err := w.store.SaveCase(ctx, zc); err != nil {
			logger.Error().Err(err).Str("case_number", nc.CaseNumber).Msg("save found case from name search")
			continue
		}

		dataBody, err := queue.EncodeData(queue.DataBody{CaseNumber: nc.CaseNumber, CaseID: nc.CaseID, UserID: body.UserID, Timestamp: time.Now()})
		if err != nil {
			logger.Error().Err(err).Msg("encode stage-2 message")
			continue
		}
		dataMsgs = append(dataMsgs, queue.Message{Body: dataBody, GroupID: nc.CaseID, DedupID: nc.CaseNumber})
	}

	if len(dataMsgs) > 0 {
		if err := w.dataQueue.SendBatch(ctx, dataMsgs); err != nil {
			logger.Error().Err(err).Msg("batch enqueue stage-2 from name search")
		} else {
			metrics.QueueMessagesSentTotal.WithLabelValues("data").Add(float64(len(dataMsgs)))
		}
	}

	ns.CaseNumbers = caseNumbers
	ns.Status = types.NameSearchComplete
	ns.Message = ""
	if err := w.store.SaveNameSearch(ctx, ns); err != nil {
		logger.Error().Err(err).Msg("save completed name search")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}

	w.deleteMessage(ctx, msg)
}

func (w *Worker) failCase(ctx context.Context, zc *types.ZipCase, message string) {
	zc.FetchStatus = types.FetchStatusFailed
	zc.Message = message
	zc.LastUpdated = time.Now()
	if err := w.store.SaveCase(ctx, zc); err != nil {
		l := log.WithCaseNumber(zc.CaseNumber)
		l.Error().Err(err).Msg("mark case failed")
	}
	metrics.CaseStatusTransitionsTotal.WithLabelValues(string(types.FetchStatusFailed)).Inc()
}

func (w *Worker) deleteMessage(ctx context.Context, msg queue.ReceivedMessage) {
	if err := w.searchQueue.Delete(ctx, msg.ReceiptHandle); err != nil {
		l := log.WithComponent("worker.search")
		l.Error().Err(err).Msg("delete message")
	}
}
