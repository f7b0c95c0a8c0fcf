package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

// GCSObjectRepository stores the blocks of one node in a GCS bucket.
type GCSObjectRepository struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSObjectRepository creates a new GCS object repository
func NewGCSObjectRepository(client *storage.Client, bucketName, prefix string) GCSObjectRepository {
	return GCSObjectRepository{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
	}
}

// Upload uploads a block to GCS
func (r *GCSObjectRepository) Upload(ctx context.Context, key string, reader io.Reader, quiet bool) (string, error) {
	obj := r.client.Bucket(r.bucketName).Object(r.prefix + key)
	writer := obj.NewWriter(ctx)

	var proxyReader io.Reader = reader
	if !quiet {
		log.Debugf("Uploading to GCS: gs://%s/%s%s", r.bucketName, r.prefix, key)
		bar := progressbar.DefaultBytes(readerSize(reader), "uploading")
		pbReader := progressbar.NewReader(reader, bar)
		proxyReader = &pbReader
	}

	if _, err := io.Copy(writer, proxyReader); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}

	return fmt.Sprintf("%s/%s%s", r.bucketName, r.prefix, key), nil
}

// progressReader wraps a ReadCloser with a progress bar
type progressReader struct {
	r   io.ReadCloser
	bar *progressbar.ProgressBar
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.r.Read(p)
	if pr.bar != nil {
		pr.bar.Add(n)
	}
	return n, err
}

func (pr *progressReader) Close() error {
	return pr.r.Close()
}

// Download downloads a block from GCS
func (r *GCSObjectRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	obj := r.client.Bucket(r.bucketName).Object(r.prefix + key)

	reader, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, apperrors.NotFoundError("block", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}

	if quiet {
		return reader, nil
	}

	log.Debugf("Downloading from GCS: gs://%s/%s%s", r.bucketName, r.prefix, key)
	return &progressReader{r: reader, bar: progressbar.DefaultBytes(reader.Attrs.Size, "downloading")}, nil
}

// Delete deletes a block from GCS
func (r *GCSObjectRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Bucket(r.bucketName).Object(r.prefix + key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// GetBucketName returns the bucket name
func (r *GCSObjectRepository) GetBucketName() string {
	return r.bucketName
}

// GetStorageType returns the storage type
func (r *GCSObjectRepository) GetStorageType() string {
	return "gcs"
}
