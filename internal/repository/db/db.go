package db

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/blockmap/internal/repository/migrate"
)

type DynamoDb struct {
	Client        *dynamodb.Client
	TaggingClient *resourcegroupstaggingapi.Client
	TablePrefix   string
}

func NewDatabase(awsConfig aws.Config, tablePrefix string) (*DynamoDb, error) {
	client := dynamodb.NewFromConfig(awsConfig)
	if client == nil {
		log.Fatal("Failed to create DynamoDB client")
	}

	taggingClient := resourcegroupstaggingapi.NewFromConfig(awsConfig)
	if taggingClient == nil {
		log.Fatal("Failed to create Resource Groups Tagging API client")
	}

	return &DynamoDb{
		Client:        client,
		TaggingClient: taggingClient,
		TablePrefix:   tablePrefix,
	}, nil
}

// MappingRepository returns the mapping store backed by this database.
func (d *DynamoDb) MappingRepository() *MappingRepository {
	return NewMappingRepository(d.Client, d.TablePrefix)
}

// MigrateDb creates the mapping tables.
func (d *DynamoDb) MigrateDb(ctx context.Context) error {
	log.Info("Migrating mapping tables")
	return migrate.Up(ctx, d.Client, d.TablePrefix)
}

// MigrateDown removes the mapping tables.
func (d *DynamoDb) MigrateDown(ctx context.Context) error {
	log.Warn("Removing mapping tables")
	return migrate.Down(ctx, d.Client, d.TablePrefix)
}

// Status lists the mapping tables found through their tags.
func (d *DynamoDb) Status(ctx context.Context) ([]string, error) {
	return migrate.Status(ctx, d.TaggingClient)
}
