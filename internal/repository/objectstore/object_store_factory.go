// Package objectstore is the block data plane: every storage node keeps its
// block bytes in an object storage bucket (S3 or GCS), optionally under a
// per-node key prefix.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

// ObjectRepository defines the interface for object storage operations
type ObjectRepository interface {
	Upload(ctx context.Context, key string, r io.Reader, quiet bool) (string, error)
	Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	GetBucketName() string
	GetStorageType() string
}

// RepositoryType represents the type of object storage
type RepositoryType string

const (
	S3Type  RepositoryType = "s3"
	GCSType RepositoryType = "gcs"
)

// BucketConfig holds configuration for a storage bucket
type BucketConfig struct {
	Name   string
	Type   RepositoryType
	Prefix string
}

// ObjectRepositoryFactory creates the block repositories of storage nodes.
// Nodes on S3 share one client.
type ObjectRepositoryFactory struct {
	awsConfig aws.Config
	gcsClient *storage.Client

	s3Once   sync.Once
	s3Client *s3.Client
}

// NewObjectRepositoryFactory creates a new factory
func NewObjectRepositoryFactory(awsConfig aws.Config, gcsClient *storage.Client) *ObjectRepositoryFactory {
	return &ObjectRepositoryFactory{
		awsConfig: awsConfig,
		gcsClient: gcsClient,
	}
}

// CreateRepository creates a repository based on bucket configuration
func (f *ObjectRepositoryFactory) CreateRepository(config BucketConfig) (ObjectRepository, error) {
	switch config.Type {
	case S3Type:
		f.s3Once.Do(func() { f.s3Client = s3.NewFromConfig(f.awsConfig) })
		repo := NewS3ObjectRepository(f.s3Client, config.Name, config.Prefix)
		return &repo, nil
	case GCSType:
		if f.gcsClient == nil {
			return nil, fmt.Errorf("GCS client not configured")
		}
		repo := NewGCSObjectRepository(f.gcsClient, config.Name, config.Prefix)
		return &repo, nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", config.Type)
	}
}

// NodeStores creates the repository of every node from its storage URL.
// storage maps node id to URL.
func (f *ObjectRepositoryFactory) NodeStores(storage map[string]string) (*NodeStores, error) {
	ids := make([]string, 0, len(storage))
	for id := range storage {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	stores := NewNodeStores()
	for _, id := range ids {
		if storage[id] == "" {
			return nil, fmt.Errorf("node %s has no storage configured", id)
		}
		bucketCfg, err := ParseBucketConfig(storage[id])
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		repo, err := f.CreateRepository(bucketCfg)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		if err := stores.RegisterNode(id, repo); err != nil {
			return nil, err
		}
		log.Debugf("Node %s keeps its blocks in %s://%s/%s", id, bucketCfg.Type, bucketCfg.Name, bucketCfg.Prefix)
	}
	return stores, nil
}

// ParseBucketConfig parses bucket configuration from string
// Formats: "s3://bucket-name[/prefix]", "gs://bucket-name[/prefix]", "s3:bucket-name", or "bucket-name" (defaults to S3)
func ParseBucketConfig(bucketStr string) (BucketConfig, error) {
	bucketStr = strings.TrimSpace(bucketStr)

	// Handle URI format (s3://, gs://)
	if strings.Contains(bucketStr, "://") {
		parts := strings.SplitN(bucketStr, "://", 2)
		if len(parts) != 2 {
			return BucketConfig{}, fmt.Errorf("invalid URI format: %s", bucketStr)
		}

		scheme := strings.ToLower(strings.TrimSpace(parts[0]))
		bucketName := strings.TrimSpace(parts[1])

		if bucketName == "" {
			return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
		}

		var repoType RepositoryType
		switch scheme {
		case "s3":
			repoType = S3Type
		case "gs":
			repoType = GCSType
		default:
			return BucketConfig{}, fmt.Errorf("unsupported scheme: %s", scheme)
		}

		// s3://bucket/node-1 keeps the node's blocks under "node-1/"
		var prefix string
		if i := strings.Index(bucketName, "/"); i >= 0 {
			bucketName, prefix = bucketName[:i], strings.Trim(bucketName[i+1:], "/")
			if prefix != "" {
				prefix += "/"
			}
		}

		return BucketConfig{
			Name:   bucketName,
			Type:   repoType,
			Prefix: prefix,
		}, nil
	}

	// Handle colon format (s3:bucket-name)
	parts := strings.SplitN(bucketStr, ":", 2)
	if len(parts) != 2 {
		// Default to S3 for backward compatibility
		return BucketConfig{
			Name: bucketStr,
			Type: S3Type,
		}, nil
	}

	repoType := RepositoryType(strings.ToLower(strings.TrimSpace(parts[0])))
	bucketName := strings.TrimSpace(parts[1])

	if bucketName == "" {
		return BucketConfig{}, fmt.Errorf("bucket name cannot be empty")
	}

	return BucketConfig{
		Name: bucketName,
		Type: repoType,
	}, nil
}
