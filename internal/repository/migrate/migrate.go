// Package migrate creates and removes the DynamoDB tables of the mapping store.
package migrate

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	tagtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	log "github.com/sirupsen/logrus"
)

// Migration is one reversible schema step.
type Migration interface {
	Version() string
	TableName() string
	Up(ctx context.Context, client *dynamodb.Client) error
	Down(ctx context.Context, client *dynamodb.Client) error
}

// All returns the migrations of a deployment using prefix, in apply order.
func All(prefix string) []Migration {
	t := Tables(prefix)
	return []Migration{
		&CreateTable{table: t.Objects, input: createObjectsTable},
		&CreateTable{table: t.Parts, input: createPartsTable},
		&CreateTable{table: t.Chunks, input: createChunksTable},
		&CreateTable{table: t.Blocks, input: createBlocksTable},
		&CreateTable{table: t.BadBlocks, input: createBadBlocksTable},
	}
}

// Up applies all migrations. Tables that already exist are left alone.
func Up(ctx context.Context, client *dynamodb.Client, prefix string) error {
	for _, m := range All(prefix) {
		log.Infof("Applying migration %s", m.Version())
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %s: %w", m.Version(), err)
		}
	}
	return nil
}

// Down rolls back all migrations in reverse order.
func Down(ctx context.Context, client *dynamodb.Client, prefix string) error {
	all := All(prefix)
	for i := len(all) - 1; i >= 0; i-- {
		log.Infof("Rolling back migration %s", all[i].Version())
		if err := all[i].Down(ctx, client); err != nil {
			return fmt.Errorf("rollback %s: %w", all[i].Version(), err)
		}
	}
	return nil
}

// Status lists the ARNs of the DynamoDB tables tagged as mapping tables.
func Status(ctx context.Context, client *resourcegroupstaggingapi.Client) ([]string, error) {
	var (
		arns  []string
		token *string
	)
	for {
		out, err := client.GetResources(ctx, &resourcegroupstaggingapi.GetResourcesInput{
			PaginationToken:     token,
			ResourceTypeFilters: []string{"dynamodb:table"},
			TagFilters: []tagtypes.TagFilter{
				{Key: aws.String("Purpose"), Values: []string{PurposeTag}},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list mapping tables: %w", err)
		}
		for _, mapping := range out.ResourceTagMappingList {
			arns = append(arns, aws.ToString(mapping.ResourceARN))
		}
		if aws.ToString(out.PaginationToken) == "" {
			return arns, nil
		}
		token = out.PaginationToken
	}
}
