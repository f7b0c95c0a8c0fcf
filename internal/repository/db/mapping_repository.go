package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
	"github.com/zzenonn/blockmap/internal/repository/migrate"
)

// BatchGetItem accepts at most this many keys per request.
const batchGetLimit = 100

// DynamoDBAPI is the subset of the DynamoDB client used by MappingRepository.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// MappingRepository manages DynamoDB interactions for the object mappings.
type MappingRepository struct {
	client DynamoDBAPI
	tables migrate.TableNames
}

// NewMappingRepository initializes a MappingRepository over the tables
// created by the migrations for prefix.
func NewMappingRepository(client DynamoDBAPI, prefix string) *MappingRepository {
	return &MappingRepository{
		client: client,
		tables: migrate.Tables(prefix),
	}
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func lifecycleFilter(state domain.Lifecycle) *string {
	switch state {
	case domain.Live:
		return aws.String("attribute_not_exists(deleted_at)")
	case domain.Tombstoned:
		return aws.String("attribute_exists(deleted_at)")
	default:
		return nil
	}
}

func (repo *MappingRepository) put(ctx context.Context, op, table string, record any, condition *string) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", op, err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: condition,
	}
	if _, err := repo.client.PutItem(ctx, input); err != nil {
		return apperrors.StoreError(op, err)
	}
	return nil
}

func (repo *MappingRepository) get(ctx context.Context, resource, table, id string, out any) error {
	result, err := repo.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return apperrors.StoreError("get "+resource, err)
	}
	if result.Item == nil {
		return apperrors.NotFoundError(resource, id)
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", resource, err)
	}
	return nil
}

// queryAll follows every page of a query and unmarshals the items into T.
func queryAll[T any](ctx context.Context, client DynamoDBAPI, input *dynamodb.QueryInput) ([]T, error) {
	var records []T
	paginator := dynamodb.NewQueryPaginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperrors.StoreError("query "+aws.ToString(input.TableName), err)
		}

		var batch []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal query results: %w", err)
		}
		records = append(records, batch...)
	}
	return records, nil
}

func (repo *MappingRepository) PutObject(ctx context.Context, obj domain.Object) error {
	return repo.put(ctx, "put object", repo.tables.Objects, objectToRecord(obj), nil)
}

// GetObject resolves an object id through the id index. GSI reads are
// eventually consistent, so an object written moments ago may still come
// back as not found.
func (repo *MappingRepository) GetObject(ctx context.Context, id string) (domain.Object, error) {
	records, err := queryAll[objectRecord](ctx, repo.client, &dynamodb.QueryInput{
		TableName:              aws.String(repo.tables.Objects),
		IndexName:              aws.String(migrate.ObjectIDIndex),
		KeyConditionExpression: aws.String("id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return domain.Object{}, err
	}
	if len(records) == 0 {
		return domain.Object{}, apperrors.NotFoundError("object", id)
	}
	return records[0].toDomain(), nil
}

func (repo *MappingRepository) GetObjectByKey(ctx context.Context, bucket, key string) (domain.Object, error) {
	result, err := repo.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(repo.tables.Objects),
		Key: map[string]types.AttributeValue{
			"bucket": &types.AttributeValueMemberS{Value: bucket},
			"key":    &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Object{}, apperrors.StoreError("get object by key", err)
	}
	if result.Item == nil {
		return domain.Object{}, apperrors.NotFoundError("object", bucket+"/"+key)
	}

	var record objectRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return domain.Object{}, fmt.Errorf("failed to unmarshal object: %w", err)
	}
	return record.toDomain(), nil
}

func (repo *MappingRepository) CreateChunk(ctx context.Context, chunk domain.DataChunk) error {
	return repo.put(ctx, "create chunk", repo.tables.Chunks, chunkToRecord(chunk), aws.String("attribute_not_exists(id)"))
}

// CreateBlocks writes the blocks one at a time. A failure leaves the blocks
// written before it in place.
func (repo *MappingRepository) CreateBlocks(ctx context.Context, blocks []domain.DataBlock) error {
	for _, b := range blocks {
		if err := repo.put(ctx, "create block", repo.tables.Blocks, blockToRecord(b), aws.String("attribute_not_exists(id)")); err != nil {
			return err
		}
	}
	return nil
}

func (repo *MappingRepository) CreatePart(ctx context.Context, part domain.ObjectPart) error {
	return repo.put(ctx, "create part", repo.tables.Parts, partToRecord(part), aws.String("attribute_not_exists(id)"))
}

func (repo *MappingRepository) GetBlock(ctx context.Context, id string) (domain.DataBlock, error) {
	var record blockRecord
	if err := repo.get(ctx, "block", repo.tables.Blocks, id, &record); err != nil {
		return domain.DataBlock{}, err
	}
	return record.toDomain(), nil
}

// GetChunks batch-reads the chunks, resubmitting unprocessed keys until
// DynamoDB has answered for all of them.
func (repo *MappingRepository) GetChunks(ctx context.Context, ids []string) (map[string]domain.DataChunk, error) {
	chunks := make(map[string]domain.DataChunk, len(ids))

	seen := make(map[string]bool, len(ids))
	var keys []map[string]types.AttributeValue
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, stringKey("id", id))
	}

	for start := 0; start < len(keys); start += batchGetLimit {
		end := min(start+batchGetLimit, len(keys))
		request := map[string]types.KeysAndAttributes{
			repo.tables.Chunks: {Keys: keys[start:end], ConsistentRead: aws.Bool(true)},
		}

		for len(request) > 0 {
			out, err := repo.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, apperrors.StoreError("get chunks", err)
			}

			var records []chunkRecord
			if err := attributevalue.UnmarshalListOfMaps(out.Responses[repo.tables.Chunks], &records); err != nil {
				return nil, fmt.Errorf("failed to unmarshal chunks: %w", err)
			}
			for _, r := range records {
				chunks[r.ID] = r.toDomain()
			}
			request = out.UnprocessedKeys
		}
	}
	return chunks, nil
}

func (repo *MappingRepository) FindPart(ctx context.Context, system, objectID string, start, end int64) (domain.ObjectPart, error) {
	records, err := queryAll[partRecord](ctx, repo.client, &dynamodb.QueryInput{
		TableName:              aws.String(repo.tables.Parts),
		IndexName:              aws.String(migrate.PartObjectStartIndex),
		KeyConditionExpression: aws.String("object_id = :object_id AND #start = :start"),
		FilterExpression:       aws.String("#end = :end AND #system = :system"),
		ExpressionAttributeNames: map[string]string{
			"#start":  "start",
			"#end":    "end",
			"#system": "system",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":object_id": &types.AttributeValueMemberS{Value: objectID},
			":start":     numberValue(start),
			":end":       numberValue(end),
			":system":    &types.AttributeValueMemberS{Value: system},
		},
	})
	if err != nil {
		return domain.ObjectPart{}, err
	}
	if len(records) == 0 {
		return domain.ObjectPart{}, apperrors.NotFoundError("part", fmt.Sprintf("%s[%d,%d)", objectID, start, end))
	}
	return records[0].toDomain(), nil
}

// FindPartsInRange uses the start range key for part.Start < end and filters
// on part.End > start. The index returns parts in ascending start order.
func (repo *MappingRepository) FindPartsInRange(ctx context.Context, objectID string, start, end int64) ([]domain.ObjectPart, error) {
	return repo.queryParts(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(repo.tables.Parts),
		IndexName:              aws.String(migrate.PartObjectStartIndex),
		KeyConditionExpression: aws.String("object_id = :object_id AND #start < :end"),
		FilterExpression:       aws.String("#end > :start"),
		ExpressionAttributeNames: map[string]string{
			"#start": "start",
			"#end":   "end",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":object_id": &types.AttributeValueMemberS{Value: objectID},
			":start":     numberValue(start),
			":end":       numberValue(end),
		},
		ScanIndexForward: aws.Bool(true),
	})
}

func (repo *MappingRepository) FindPartsByObject(ctx context.Context, objectID string) ([]domain.ObjectPart, error) {
	return repo.queryParts(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(repo.tables.Parts),
		IndexName:              aws.String(migrate.PartObjectStartIndex),
		KeyConditionExpression: aws.String("object_id = :object_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":object_id": &types.AttributeValueMemberS{Value: objectID},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

func (repo *MappingRepository) FindPartsByChunks(ctx context.Context, chunkIDs []string) ([]domain.ObjectPart, error) {
	var parts []domain.ObjectPart
	for _, chunkID := range chunkIDs {
		found, err := repo.queryParts(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(repo.tables.Parts),
			IndexName:              aws.String(migrate.PartChunkIndex),
			KeyConditionExpression: aws.String("chunk_id = :chunk_id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":chunk_id": &types.AttributeValueMemberS{Value: chunkID},
			},
		})
		if err != nil {
			return nil, err
		}
		parts = append(parts, found...)
	}

	sort.SliceStable(parts, func(i, j int) bool {
		if parts[i].ObjectID != parts[j].ObjectID {
			return parts[i].ObjectID < parts[j].ObjectID
		}
		return parts[i].Start < parts[j].Start
	})
	return parts, nil
}

func (repo *MappingRepository) queryParts(ctx context.Context, input *dynamodb.QueryInput) ([]domain.ObjectPart, error) {
	records, err := queryAll[partRecord](ctx, repo.client, input)
	if err != nil {
		return nil, err
	}

	parts := make([]domain.ObjectPart, 0, len(records))
	for _, r := range records {
		parts = append(parts, r.toDomain())
	}
	return parts, nil
}

func (repo *MappingRepository) FindBlocksByChunks(ctx context.Context, chunkIDs []string, state domain.Lifecycle) ([]domain.DataBlock, error) {
	var blocks []domain.DataBlock
	for _, chunkID := range chunkIDs {
		found, err := repo.queryBlocks(ctx, migrate.BlockChunkIndex, "chunk_id", chunkID, state)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, found...)
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].Fragment < blocks[j].Fragment
	})
	return blocks, nil
}

func (repo *MappingRepository) FindBlocksByNode(ctx context.Context, nodeID string, state domain.Lifecycle) ([]domain.DataBlock, error) {
	return repo.queryBlocks(ctx, migrate.BlockNodeIndex, "node_id", nodeID, state)
}

func (repo *MappingRepository) queryBlocks(ctx context.Context, index, attribute, value string, state domain.Lifecycle) ([]domain.DataBlock, error) {
	records, err := queryAll[blockRecord](ctx, repo.client, &dynamodb.QueryInput{
		TableName:              aws.String(repo.tables.Blocks),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(attribute + " = :value"),
		FilterExpression:       lifecycleFilter(state),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		return nil, err
	}

	blocks := make([]domain.DataBlock, 0, len(records))
	for _, r := range records {
		blocks = append(blocks, r.toDomain())
	}
	return blocks, nil
}

func (repo *MappingRepository) TombstoneChunks(ctx context.Context, ids []string, at time.Time) error {
	var errs []error
	for _, id := range ids {
		errs = append(errs, repo.tombstone(ctx, repo.tables.Chunks, id, at))
	}
	return apperrors.StoreError("tombstone chunks", errors.Join(errs...))
}

func (repo *MappingRepository) TombstoneBlocksOfChunks(ctx context.Context, chunkIDs []string, at time.Time) error {
	blocks, err := repo.FindBlocksByChunks(ctx, chunkIDs, domain.Live)
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range blocks {
		errs = append(errs, repo.tombstone(ctx, repo.tables.Blocks, b.ID, at))
	}
	return apperrors.StoreError("tombstone blocks", errors.Join(errs...))
}

// tombstone sets deleted_at unless it is already set. A failed condition
// means the record is gone or already tombstoned, both of which are fine.
func (repo *MappingRepository) tombstone(ctx context.Context, table, id string, at time.Time) error {
	_, err := repo.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 stringKey("id", id),
		UpdateExpression:    aws.String("SET deleted_at = :deleted_at"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(deleted_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":deleted_at": numberValue(at.UnixNano()),
		},
	})

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		log.Debugf("%s %s already tombstoned", table, id)
		return nil
	}
	return err
}

// RecordBadBlock stores a read failure observation for the rebuild scheduler.
func (repo *MappingRepository) RecordBadBlock(ctx context.Context, obs domain.BlockObservation) error {
	return repo.put(ctx, "record bad block", repo.tables.BadBlocks, badBlockToRecord(obs), nil)
}
