package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/schollz/progressbar/v3"

	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

// S3ObjectRepository stores the blocks of one node in an S3 bucket.
type S3ObjectRepository struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucketName string
	prefix     string
}

// NewS3ObjectRepository initializes a new S3ObjectRepository. Keys are stored
// under prefix.
func NewS3ObjectRepository(client *s3.Client, bucketName, prefix string) S3ObjectRepository {
	return S3ObjectRepository{
		client:     client,
		uploader:   manager.NewUploader(client),
		bucketName: bucketName,
		prefix:     prefix,
	}
}

// GetBucketName returns the bucket name.
func (r *S3ObjectRepository) GetBucketName() string {
	return r.bucketName
}

// GetStorageType returns the object store type.
func (r *S3ObjectRepository) GetStorageType() string {
	return "s3"
}

// Upload uploads a block to S3
func (r *S3ObjectRepository) Upload(ctx context.Context, key string, reader io.Reader, quiet bool) (string, error) {
	var proxyReader io.Reader = reader
	if !quiet {
		bar := progressbar.DefaultBytes(readerSize(reader), "uploading")
		pbReader := progressbar.NewReader(reader, bar)
		proxyReader = &pbReader
	}

	_, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(r.prefix + key),
		Body:   proxyReader,
	})
	if err != nil {
		return "", err
	}
	return r.bucketName + "/" + r.prefix + key, nil
}

// Download downloads a block from S3
func (r *S3ObjectRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(r.prefix + key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, apperrors.NotFoundError("block", key)
	}
	if err != nil {
		return nil, err
	}

	if !quiet && result.ContentLength != nil {
		bar := progressbar.DefaultBytes(*result.ContentLength, "downloading")
		proxyReader := progressbar.NewReader(result.Body, bar)
		return &progressReaderCloser{Reader: &proxyReader, Closer: result.Body}, nil
	}
	return result.Body, nil
}

type progressReaderCloser struct {
	io.Reader
	io.Closer
}

// Delete removes a block from S3
func (r *S3ObjectRepository) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(r.prefix + key),
	})
	return err
}

// readerSize returns the remaining length of a seekable reader, or -1.
func readerSize(reader io.Reader) int64 {
	seeker, ok := reader.(io.Seeker)
	if !ok {
		return -1
	}
	current, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return -1
	}
	if _, err := seeker.Seek(current, io.SeekStart); err != nil {
		return -1
	}
	return end - current
}
