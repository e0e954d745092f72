/*
Package events provides an in-memory event broker used to decouple a
request from recovery work it shouldn't have to wait on.

The one consumer in this codebase is the summary-corruption path (spec
§4.5.1): GetSearchResults may find a SUMMARY record that fails
CaseSummary.Valid(). Rather than fail or block the read, it publishes
EventCaseSummaryCorrupt and returns the case without a summary; a
subscriber started by casestore.New reprocesses the case
(re-enqueues stage 2) or marks it failed if retries are exhausted.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for event := range sub {
			if event.Type == events.EventCaseSummaryCorrupt {
				reprocess(event.Metadata["caseNumber"])
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:     events.EventCaseSummaryCorrupt,
		Message:  "summary failed validation",
		Metadata: map[string]string{"caseNumber": "24CR012345-001"},
	})

Publish is non-blocking and delivery is best-effort: a full subscriber
buffer skips that event rather than stalling the broadcast loop. That
tradeoff is fine here because the queue workers are the durable source
of truth — a dropped corruption event just means the next read retries
the same detection.
*/
package events
