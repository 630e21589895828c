package nanto

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BucketClient wraps the S3 client for an R2-compatible artifact bucket.
type BucketClient struct {
	Client     *s3.Client
	BucketName string
}

// NewBucketClient initializes the artifact bucket client from configuration.
func NewBucketClient() (*BucketClient, error) {
	if bucketAccount == "" || bucketKeyID == "" || bucketSecret == "" || bucketName == "" {
		return nil, fmt.Errorf("bucket credentials missing in configuration (NANTO_BUCKET, NANTO_BUCKET_ACCOUNT, NANTO_BUCKET_KEY_ID, NANTO_BUCKET_SECRET)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", bucketAccount),
		}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(bucketKeyID, bucketSecret, "")),
		config.WithRegion("auto"),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse|aws.LogRequestWithBody|aws.LogResponseWithBody))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &BucketClient{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	case strings.HasSuffix(key, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}

// DownloadFile fetches one object from the bucket.
func (b *BucketClient) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	output, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()

	return io.ReadAll(output.Body)
}

// UploadFile uploads an in-memory object to the bucket.
func (b *BucketClient) UploadFile(ctx context.Context, key string, body []byte) error {
	_, err := b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// UploadLocalFile uploads a file from disk to the bucket.
func (b *BucketClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// DeleteFile removes one object from the bucket.
func (b *BucketClient) DeleteFile(ctx context.Context, key string) error {
	_, err := b.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.BucketName),
		Key:    aws.String(key),
	})
	return err
}

// BucketObject holds the metadata of one stored object.
type BucketObject struct {
	Key  string
	Size int64
}

// ListObjects returns every object in the bucket with the given prefix.
func (b *BucketClient) ListObjects(ctx context.Context, prefix string) ([]BucketObject, error) {
	var objects []BucketObject
	paginator := s3.NewListObjectsV2Paginator(b.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.BucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, BucketObject{
				Key:  *obj.Key,
				Size: *obj.Size,
			})
		}
	}
	return objects, nil
}
