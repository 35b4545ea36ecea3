package lake

import (
	"context"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MinioStore keeps objects in an S3-compatible bucket (MinIO, S3, or GCS in
// interoperability mode).
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	scheme string
}

// NewMinioStore creates the client. No request is made until first use.
func NewMinioStore(opts Options) (*MinioStore, error) {
	if opts.Bucket == "" {
		return nil, eris.New("lake: minio bucket is empty")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "lake: minio client for %s", opts.Endpoint)
	}
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "s3"
	}
	return &MinioStore{client: client, bucket: opts.Bucket, region: opts.Region, scheme: scheme}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return eris.Wrapf(err, "lake: check bucket %s", s.bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return eris.Wrapf(err, "lake: create bucket %s", s.bucket)
	}
	zap.L().Info("created bucket", zap.String("component", "lake.minio"), zap.String("bucket", s.bucket))
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key, localPath string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	return eris.Wrapf(err, "lake: put %s", key)
}

func (s *MinioStore) Get(ctx context.Context, key, localPath string) error {
	err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{})
	if isNotFound(err) {
		return eris.Wrapf(ErrNotFound, "lake: get %s", key)
	}
	return eris.Wrapf(err, "lake: get %s", key)
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "lake: stat %s", key)
	}
	return true, nil
}

func (s *MinioStore) URI(key string) string {
	return s.scheme + "://" + s.bucket + "/" + key
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	case strings.HasSuffix(key, ".parquet"):
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
