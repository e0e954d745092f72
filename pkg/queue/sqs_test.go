package queue

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// fakeSQSAPI is an in-memory stand-in for *sqs.Client.
type fakeSQSAPI struct {
	sent          []types.SendMessageBatchRequestEntry
	batchFailures []types.BatchResultErrorEntry
	messages      []*sqs.ReceiveMessageOutput
	deleted       []string
}

func (f *fakeSQSAPI) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, types.SendMessageBatchRequestEntry{
		MessageBody:            in.MessageBody,
		MessageGroupId:         in.MessageGroupId,
		MessageDeduplicationId: in.MessageDeduplicationId,
	})
	id := "msg-1"
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

func (f *fakeSQSAPI) SendMessageBatch(_ context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.sent = append(f.sent, in.Entries...)
	out := &sqs.SendMessageBatchOutput{}
	for _, e := range in.Entries {
		for _, failID := range f.failIDs(e) {
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{
				Id: &failID, Code: aws.String("Throttled"), Message: aws.String("slow down"),
			})
		}
	}
	return out, nil
}

// failIDs reports entries pre-marked to fail via batchFailures (matched
// by batch entry Id, set up by the test before calling SendBatch).
func (f *fakeSQSAPI) failIDs(e types.SendMessageBatchRequestEntry) []string {
	for _, bf := range f.batchFailures {
		if bf.Id != nil && e.Id != nil && *bf.Id == *e.Id {
			return []string{*e.Id}
		}
	}
	return nil
}

func (f *fakeSQSAPI) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if len(f.messages) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	out := f.messages[0]
	f.messages = f.messages[1:]
	return out, nil
}

func (f *fakeSQSAPI) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue_Send(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSQSAPI{}
	q := &SQSQueue{client: fake, queueURL: "https://sqs.example/search.fifo"}

	err := q.Send(ctx, Message{Body: `{"caseNumber":"22CR714844-590"}`, GroupID: "user-1", DedupID: "22CR714844-590"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(fake.sent))
	}
	if *fake.sent[0].MessageGroupId != "user-1" {
		t.Errorf("MessageGroupId = %q, want %q", *fake.sent[0].MessageGroupId, "user-1")
	}
}

func TestSQSQueue_SendBatchChunksAtTen(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSQSAPI{}
	q := &SQSQueue{client: fake, queueURL: "https://sqs.example/data.fifo"}

	var msgs []Message
	for i := 0; i < 25; i++ {
		msgs = append(msgs, Message{Body: "x", GroupID: "case-1", DedupID: "d"})
	}

	if err := q.SendBatch(ctx, msgs); err != nil {
		t.Fatalf("SendBatch() error = %v", err)
	}
	if len(fake.sent) != 25 {
		t.Fatalf("expected 25 entries sent across chunks, got %d", len(fake.sent))
	}

	chunks := chunkMessages(msgs, sendBatchChunkSize)
	if len(chunks) != 3 {
		t.Fatalf("expected 25 messages to chunk into 3 groups of <=10, got %d", len(chunks))
	}
}

func TestSQSQueue_SendBatchPartialFailureIsSurfaced(t *testing.T) {
	ctx := context.Background()
	msgs := []Message{{Body: "a", GroupID: "g", DedupID: "d1"}}

	// Can't know the generated UUID ahead of time, so intercept via a
	// custom SendMessageBatch that fails the first entry it sees.
	fake2 := &failingFirstEntrySQSAPI{}
	q2 := &SQSQueue{client: fake2, queueURL: "https://sqs.example/search.fifo"}

	err := q2.SendBatch(ctx, msgs)
	if err == nil {
		t.Fatal("SendBatch() should surface a partial failure as an error")
	}
	var batchErr *PartialBatchError
	if !asPartialBatchError(err, &batchErr) {
		t.Fatalf("expected *PartialBatchError, got %T: %v", err, err)
	}
	if len(batchErr.Failures) != 1 {
		t.Errorf("len(Failures) = %d, want 1", len(batchErr.Failures))
	}
}

type failingFirstEntrySQSAPI struct {
	fakeSQSAPI
}

func (f *failingFirstEntrySQSAPI) SendMessageBatch(_ context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	entry := in.Entries[0]
	return &sqs.SendMessageBatchOutput{
		Failed: []types.BatchResultErrorEntry{
			{Id: entry.Id, Code: aws.String("Throttled"), Message: aws.String("slow down")},
		},
	}, nil
}

func asPartialBatchError(err error, target **PartialBatchError) bool {
	pbe, ok := err.(*PartialBatchError)
	if ok {
		*target = pbe
	}
	return ok
}

func TestSQSQueue_ReceiveAndDelete(t *testing.T) {
	ctx := context.Background()
	body := `{"caseNumber":"22CR714844-590"}`
	receipt := "receipt-1"
	fake := &fakeSQSAPI{
		messages: []*sqs.ReceiveMessageOutput{
			{
				Messages: []types.Message{
					{
						Body:          &body,
						ReceiptHandle: &receipt,
						Attributes: map[string]string{
							string(types.MessageSystemAttributeNameMessageGroupId):         "user-1",
							string(types.MessageSystemAttributeNameMessageDeduplicationId): "22CR714844-590",
						},
					},
				},
			},
		},
	}
	q := &SQSQueue{client: fake, queueURL: "https://sqs.example/search.fifo"}

	received, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(received) != 1 || received[0].GroupID != "user-1" {
		t.Fatalf("Receive() = %+v", received)
	}

	if err := q.Delete(ctx, received[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != receipt {
		t.Errorf("expected receipt %q deleted, got %v", receipt, fake.deleted)
	}
}
