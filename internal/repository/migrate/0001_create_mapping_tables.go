package migrate

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	MappingTablesVersion = "20261016000000_mapping_tables"

	// Secondary indexes used by the mapping repository.
	ObjectIDIndex        = "id-index"
	PartObjectStartIndex = "object-start-index"
	PartChunkIndex       = "chunk-index"
	BlockChunkIndex      = "chunk-index"
	BlockNodeIndex       = "node-index"

	PurposeTag = "BlockMapping"
)

// TableNames are the DynamoDB tables of one mapping deployment.
type TableNames struct {
	Objects   string
	Parts     string
	Chunks    string
	Blocks    string
	BadBlocks string
}

// Tables returns the table names for prefix.
func Tables(prefix string) TableNames {
	return TableNames{
		Objects:   prefix + "objects",
		Parts:     prefix + "parts",
		Chunks:    prefix + "chunks",
		Blocks:    prefix + "blocks",
		BadBlocks: prefix + "bad_blocks",
	}
}

// CreateTable is a migration creating one mapping table.
type CreateTable struct {
	table string
	input func(table string) *dynamodb.CreateTableInput
}

func (m *CreateTable) Version() string {
	return MappingTablesVersion + "_" + m.table
}

func (m *CreateTable) TableName() string {
	return m.table
}

func (m *CreateTable) Up(ctx context.Context, client *dynamodb.Client) error {
	input := m.input(m.table)
	input.TableName = aws.String(m.table)
	input.BillingMode = types.BillingModePayPerRequest // On-demand billing for variable workloads
	input.Tags = []types.Tag{
		{
			Key:   aws.String("Purpose"),
			Value: aws.String(PurposeTag),
		},
		{
			Key:   aws.String("Environment"),
			Value: aws.String("Development"),
		},
	}

	_, err := client.CreateTable(ctx, input)
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return err
	}

	// Wait for table to become active
	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(m.table),
	}, 5*time.Minute)
}

func (m *CreateTable) Down(ctx context.Context, client *dynamodb.Client) error {
	_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(m.table),
	})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func attr(name string, t types.ScalarAttributeType) types.AttributeDefinition {
	return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: t}
}

func key(name string, t types.KeyType) types.KeySchemaElement {
	return types.KeySchemaElement{AttributeName: aws.String(name), KeyType: t}
}

func index(name string, schema ...types.KeySchemaElement) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(name),
		KeySchema:  schema,
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func createObjectsTable(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			attr("id", types.ScalarAttributeTypeS),
			attr("bucket", types.ScalarAttributeTypeS),
			attr("key", types.ScalarAttributeTypeS),
		},
		// one object per bucket/key, a re-upload replaces the record
		KeySchema: []types.KeySchemaElement{
			key("bucket", types.KeyTypeHash),
			key("key", types.KeyTypeRange),
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			index(ObjectIDIndex, key("id", types.KeyTypeHash)),
		},
	}
}

func createPartsTable(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			attr("id", types.ScalarAttributeTypeS),
			attr("object_id", types.ScalarAttributeTypeS),
			attr("start", types.ScalarAttributeTypeN),
			attr("chunk_id", types.ScalarAttributeTypeS),
		},
		KeySchema: []types.KeySchemaElement{key("id", types.KeyTypeHash)},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			// range intersection: object_id = :o AND start < :end, filtered on end
			index(PartObjectStartIndex, key("object_id", types.KeyTypeHash), key("start", types.KeyTypeRange)),
			index(PartChunkIndex, key("chunk_id", types.KeyTypeHash)),
		},
	}
}

func createChunksTable(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{attr("id", types.ScalarAttributeTypeS)},
		KeySchema:            []types.KeySchemaElement{key("id", types.KeyTypeHash)},
	}
}

func createBlocksTable(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			attr("id", types.ScalarAttributeTypeS),
			attr("chunk_id", types.ScalarAttributeTypeS),
			attr("node_id", types.ScalarAttributeTypeS),
		},
		KeySchema: []types.KeySchemaElement{key("id", types.KeyTypeHash)},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			index(BlockChunkIndex, key("chunk_id", types.KeyTypeHash)),
			index(BlockNodeIndex, key("node_id", types.KeyTypeHash)),
		},
	}
}

func createBadBlocksTable(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			attr("block_id", types.ScalarAttributeTypeS),
			attr("observed_at", types.ScalarAttributeTypeS),
		},
		KeySchema: []types.KeySchemaElement{
			key("block_id", types.KeyTypeHash),
			key("observed_at", types.KeyTypeRange),
		},
	}
}
