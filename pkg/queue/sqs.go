package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// sqsAPI is the subset of *sqs.Client SQSQueue calls.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements Queue against a single SQS FIFO queue.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

// NewSQSQueue builds an SQSQueue against the given queue URL.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, msg Message) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               &q.queueURL,
		MessageBody:            &msg.Body,
		MessageGroupId:         &msg.GroupID,
		MessageDeduplicationId: &msg.DedupID,
	})
	if err != nil {
		return fmt.Errorf("queue: send: %w", err)
	}
	return nil
}

func (q *SQSQueue) SendBatch(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	var failures []BatchFailure
	for _, chunk := range chunkMessages(msgs, sendBatchChunkSize) {
		entries := make([]types.SendMessageBatchRequestEntry, len(chunk))
		idByEntry := make(map[string]Message, len(chunk))
		for i, m := range chunk {
			id := uuid.NewString()
			entries[i] = types.SendMessageBatchRequestEntry{
				Id:                     &id,
				MessageBody:            &m.Body,
				MessageGroupId:         &m.GroupID,
				MessageDeduplicationId: &m.DedupID,
			}
			idByEntry[id] = m
		}

		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: &q.queueURL,
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("queue: send batch: %w", err)
		}

		for _, f := range out.Failed {
			m := idByEntry[aws.ToString(f.Id)]
			failures = append(failures, BatchFailure{
				DedupID: m.DedupID,
				Code:    aws.ToString(f.Code),
				Message: aws.ToString(f.Message),
			})
		}
	}

	if len(failures) > 0 {
		return &PartialBatchError{Failures: failures}
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int) ([]ReceivedMessage, error) {
	if maxMessages <= 0 || maxMessages > 10 {
		maxMessages = 10
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.queueURL,
		MaxNumberOfMessages: int32(maxMessages),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameMessageGroupId,
			types.MessageSystemAttributeNameMessageDeduplicationId,
		},
		WaitTimeSeconds: 20, // long poll
	})
	if err != nil {
		return nil, fmt.Errorf("queue: receive: %w", err)
	}

	received := make([]ReceivedMessage, len(out.Messages))
	for i, m := range out.Messages {
		received[i] = ReceivedMessage{
			Message: Message{
				Body:    aws.ToString(m.Body),
				GroupID: m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
				DedupID: m.Attributes[string(types.MessageSystemAttributeNameMessageDeduplicationId)],
			},
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
	}
	return received, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.queueURL,
		ReceiptHandle: &receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("queue: delete: %w", err)
	}
	return nil
}
