package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sdejongh/bucketsync/pkg/models"
)

const defaultRegion = "us-east-1"

// S3Config holds the connection settings of an S3 compatible endpoint
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string

	// PartSize is the multipart chunk size, manager.DefaultUploadPartSize when 0
	PartSize int64
}

// S3ConfigFromParams extracts the store settings of a job
func S3ConfigFromParams(p *models.JobParams) S3Config {
	return S3Config{
		Endpoint:  p.EndpointURL,
		Region:    p.Region,
		AccessKey: p.AccessKey,
		SecretKey: p.SecretKey,
		Bucket:    p.Bucket,
	}
}

// S3Store is an ObjectStore backed by an S3 compatible bucket
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
}

// NewS3Store connects to the endpoint described by cfg. No request is sent.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	// a buildable client lets the loader apply AWS_CA_BUNDLE to its transport
	httpClient := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		tr.MaxIdleConns = 10
		tr.IdleConnTimeout = 90 * time.Second
		tr.TLSHandshakeTimeout = 10 * time.Second
		tr.ExpectContinueTimeout = time.Second
		tr.ForceAttemptHTTP2 = true
	})

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(region),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3StoreWithClient(client, cfg.Bucket, region, cfg.PartSize), nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client *s3.Client, bucket, region string, partSize int64) *S3Store {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		// one part in flight bounds memory to a single part buffer
		u.Concurrency = 1
		if partSize >= manager.MinUploadPartSize {
			u.PartSize = partSize
		}
	})
	return &S3Store{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		region:   region,
	}
}

// Bucket implements ObjectStore
func (s *S3Store) Bucket() string { return s.bucket }

// List implements ObjectStore. Directory marker keys are skipped.
func (s *S3Store) List(ctx context.Context) ([]models.RemoteObject, error) {
	var objects []models.RemoteObject

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, NormalizeError(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, models.RemoteObject{
				Name:       key,
				Size:       aws.ToInt64(obj.Size),
				Checksum:   strings.ReplaceAll(aws.ToString(obj.ETag), "\"", ""),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

// Get implements ObjectStore
func (s *S3Store) Get(ctx context.Context, key string) (*GetObjectResponse, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, NormalizeError(err)
	}

	return &GetObjectResponse{
		Body:         resp.Body,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// Put implements ObjectStore. Bodies larger than one part are sent as a
// multipart upload.
func (s *S3Store) Put(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(params.Key),
		Body:   params.Body,
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}
	if params.Size < manager.DefaultUploadPartSize {
		input.ContentLength = aws.Int64(params.Size)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return nil, NormalizeError(err)
	}

	return &PutObjectResponse{
		Key:  params.Key,
		Size: params.Size,
		ETag: strings.ReplaceAll(aws.ToString(out.ETag), "\"", ""),
	}, nil
}

// Remove implements ObjectStore
func (s *S3Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return NormalizeError(err)
}

// BucketExists implements ObjectStore
func (s *S3Store) BucketExists(ctx context.Context) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return true, nil
	}
	err = NormalizeError(err)
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateBucket implements ObjectStore. A bucket already owned by the caller
// is not an error.
func (s *S3Store) CreateBucket(ctx context.Context, name string) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(name),
	}
	if s.region != "" && s.region != defaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	_, err := s.client.CreateBucket(ctx, input)
	if err == nil {
		return nil
	}

	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	return NormalizeError(err)
}
