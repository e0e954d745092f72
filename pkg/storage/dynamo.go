package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"
)

// dynamoAPI is the subset of *dynamodb.Client DynamoStore calls, so
// tests can substitute a fake instead of reaching AWS.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// dynamoEnvelope is the item shape actually stored in the table: the
// composite key, an optional TTL attribute (named to match the table's
// configured TTL attribute), and the caller's item JSON-encoded into a
// single opaque attribute. ZipCase's entities are heterogeneous enough
// (ZipCase, CaseSummary, PortalSession, NameSearch...) that modeling
// every one of them as first-class Dynamo attributes would require a
// marshaler per entity; one opaque JSON attribute keeps the table
// schema and this adapter entity-agnostic, matching the narrow get/put
// interface spec.md §4.1 actually asks for.
type dynamoEnvelope struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	TTL  int64  `dynamodbav:"TTL,omitempty"`
	Data string `dynamodbav:"Data"`
}

// DynamoStore implements Store against a single DynamoDB table keyed by
// the PK/SK conventions in spec.md §4.1.
type DynamoStore struct {
	client dynamoAPI
	table  string
}

// NewDynamoStore builds a DynamoStore against the given table name
// using client for all operations.
func NewDynamoStore(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Get(ctx context.Context, key Key) (RawItem, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key:       dynamoKeyAV(key),
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %s/%s: %w", key.PK, key.SK, err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var envelope dynamoEnvelope
	if err := attributevalue.UnmarshalMap(out.Item, &envelope); err != nil {
		return nil, false, fmt.Errorf("storage: decode %s/%s: %w", key.PK, key.SK, err)
	}
	if expired(envelope.TTL) {
		return nil, false, nil
	}
	return RawItem(envelope.Data), true, nil
}

func (s *DynamoStore) Put(ctx context.Context, key Key, item any, ttl time.Time) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("storage: encode %s/%s: %w", key.PK, key.SK, err)
	}

	envelope := dynamoEnvelope{PK: key.PK, SK: key.SK, Data: string(data)}
	if !ttl.IsZero() {
		envelope.TTL = ttl.Unix()
	}

	av, err := attributevalue.MarshalMap(envelope)
	if err != nil {
		return fmt.Errorf("storage: marshal %s/%s: %w", key.PK, key.SK, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("storage: put %s/%s: %w", key.PK, key.SK, err)
	}
	return nil
}

// Close is a no-op: the underlying dynamodb.Client holds no resources
// that need releasing.
func (s *DynamoStore) Close() error {
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key Key) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key:       dynamoKeyAV(key),
	})
	if err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", key.PK, key.SK, err)
	}
	return nil
}

// BatchGet chunks keys into groups of at most batchChunkSize and fans
// the chunks out concurrently with errgroup, per spec.md §4.1. A chunk
// whose response reports UnprocessedKeys is retried once; any keys
// still unprocessed after that are simply omitted from the result,
// consistent with Get's "absent means not returned" contract.
func (s *DynamoStore) BatchGet(ctx context.Context, keys []Key) (map[Key]RawItem, error) {
	if len(keys) == 0 {
		return map[Key]RawItem{}, nil
	}

	chunks := chunkKeys(keys, batchChunkSize)
	chunkResults := make([]map[Key]RawItem, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			result, err := s.batchGetChunk(gctx, chunk)
			if err != nil {
				return err
			}
			chunkResults[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[Key]RawItem, len(keys))
	for _, result := range chunkResults {
		for k, v := range result {
			merged[k] = v
		}
	}
	return merged, nil
}

func (s *DynamoStore) batchGetChunk(ctx context.Context, chunk []Key) (map[Key]RawItem, error) {
	results := make(map[Key]RawItem, len(chunk))

	keysAndAttrs := types.KeysAndAttributes{Keys: make([]map[string]types.AttributeValue, len(chunk))}
	for i, k := range chunk {
		keysAndAttrs.Keys[i] = dynamoKeyAV(k)
	}
	request := map[string]types.KeysAndAttributes{s.table: keysAndAttrs}

	for attempt := 0; attempt < 2 && len(request[s.table].Keys) > 0; attempt++ {
		out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return nil, fmt.Errorf("storage: batch get: %w", err)
		}

		for _, item := range out.Responses[s.table] {
			var envelope dynamoEnvelope
			if err := attributevalue.UnmarshalMap(item, &envelope); err != nil {
				return nil, fmt.Errorf("storage: decode batch item: %w", err)
			}
			if expired(envelope.TTL) {
				continue
			}
			results[Key{PK: envelope.PK, SK: envelope.SK}] = RawItem(envelope.Data)
		}

		request = out.UnprocessedKeys
	}

	return results, nil
}

func dynamoKeyAV(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key.PK},
		"SK": &types.AttributeValueMemberS{Value: key.SK},
	}
}
