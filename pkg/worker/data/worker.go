// Package data implements the Stage-2 Worker (spec §4.9): it consumes
// the data queue, fetches each case's portal detail, and persists the
// resulting summary.
package data

import (
	"context"
	"sync"
	"time"

	"github.com/CodeWithAsheville/zipcase/pkg/casestore"
	"github.com/CodeWithAsheville/zipcase/pkg/log"
	"github.com/CodeWithAsheville/zipcase/pkg/metrics"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/casedetail"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/session"
	"github.com/CodeWithAsheville/zipcase/pkg/queue"
	"github.com/CodeWithAsheville/zipcase/pkg/types"
)

const stageName = "data"

// Worker is the Stage-2 Worker.
type Worker struct {
	dataQueue   queue.Queue
	store       *casestore.Store
	sessionMgr  *session.Manager
	caseClient  *casedetail.Client
	dedupWindow time.Duration
	concurrency int
}

// New builds a Worker. dedupWindow is the §4.9 step 1 rapid-re-enqueue
// suppression window (config.DataDupSuppressWindow, default 60s).
func New(dataQueue queue.Queue, store *casestore.Store, sessionMgr *session.Manager, caseClient *casedetail.Client, dedupWindow time.Duration, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		dataQueue:   dataQueue,
		store:       store,
		sessionMgr:  sessionMgr,
		caseClient:  caseClient,
		dedupWindow: dedupWindow,
		concurrency: concurrency,
	}
}

// Run consumes the data queue until ctx is canceled.
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

		msgs, err := w.dataQueue.Receive(ctx, w.concurrency)
		if err != nil {
			l := log.WithComponent("worker.data")
			l.Error().Err(err).Msg("receive failed")
			continue
		}
		metrics.QueueMessagesReceivedTotal.WithLabelValues("data").Add(float64(len(msgs)))

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

	body, err := queue.DecodeDataMessage(msg.Body)
	if err != nil {
		l := log.WithComponent("worker.data")
		l.Error().Err(err).Msg("decode message")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}

	logger := log.WithCaseNumber(body.CaseNumber)

	zc, err := w.store.GetCase(ctx, body.CaseNumber)
	if err != nil {
		logger.Error().Err(err).Msg("read case")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}
	if zc == nil {
		zc = &types.ZipCase{CaseNumber: body.CaseNumber, CaseID: body.CaseID}
	}

	if zc.FetchStatus == types.FetchStatusComplete {
		summary, err := w.store.GetSummary(ctx, body.CaseNumber)
		if err == nil && summary.Valid() {
			w.deleteMessage(ctx, msg)
			return
		}
	}
	if zc.FetchStatus == types.FetchStatusFound && time.Since(zc.LastUpdated) < w.dedupWindow {
		w.deleteMessage(ctx, msg)
		return
	}

	jar, err := w.sessionMgr.GetOrCreate(ctx, body.UserID)
	if err != nil {
		w.failCase(ctx, zc, err.Error())
		w.deleteMessage(ctx, msg)
		return
	}

	summary, err := w.caseClient.FetchSummary(ctx, body.CaseNumber, body.CaseID, jar, "")
	if err != nil {
		w.failCase(ctx, zc, err.Error())
		w.deleteMessage(ctx, msg)
		return
	}

	if err := w.store.SaveSummary(ctx, summary); err != nil {
		logger.Error().Err(err).Msg("save summary")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}

	zc.CaseID = body.CaseID
	zc.FetchStatus = types.FetchStatusComplete
	zc.Message = ""
	zc.LastUpdated = time.Now()
	if err := w.store.SaveCase(ctx, zc); err != nil {
		logger.Error().Err(err).Msg("mark complete")
		metrics.StageErrorsTotal.WithLabelValues(stageName).Inc()
		return
	}
	metrics.CaseStatusTransitionsTotal.WithLabelValues(string(types.FetchStatusComplete)).Inc()

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
	if err := w.dataQueue.Delete(ctx, msg.ReceiptHandle); err != nil {
		l := log.WithComponent("worker.data")
		l.Error().Err(err).Msg("delete message")
	}
}
