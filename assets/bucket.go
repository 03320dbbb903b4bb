package assets

import (
	"context"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// DefaultBucketTimeout bounds a single GetObject call.
const DefaultBucketTimeout = 30 * time.Second

// BucketConfig configures a BucketLoader and, through NewBucketClient, its
// S3 client.
type BucketConfig struct {
	Region string
	Bucket string
	// Prefix is joined in front of every key.
	Prefix string
	// Endpoint overrides the S3 endpoint for compatible stores. Path-style
	// addressing is used when it is set.
	Endpoint string
	// AccessKey and SecretKey select static credentials. When empty the
	// default credential chain is used.
	AccessKey string
	SecretKey string
	Timeout   time.Duration
	MaxSize   string
	// Decompress expands keys ending in .lz4 or .xz before decoding.
	Decompress bool
}

// ObjectGetter is the part of *s3.Client a BucketLoader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewBucketClient builds an S3 client from cfg.
func NewBucketClient(ctx context.Context, cfg BucketConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "assets: load aws config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// BucketLoader loads assets from an S3 bucket.
type BucketLoader[T any] struct {
	client  ObjectGetter
	bucket  string
	prefix  string
	timeout time.Duration
	rd      reader
	decode  Decoder[T]
}

// NewBucketLoader returns a loader reading cfg.Bucket through client.
func NewBucketLoader[T any](client ObjectGetter, cfg BucketConfig, decode Decoder[T]) (*BucketLoader[T], error) {
	if cfg.Bucket == "" {
		return nil, errors.New("assets: bucket name is required")
	}
	rd, err := newReader(cfg.MaxSize, cfg.Decompress)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultBucketTimeout
	}
	return &BucketLoader[T]{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: timeout,
		rd:      rd,
		decode:  decode,
	}, nil
}

// ObjectKey returns the bucket key for an asset key.
func (l *BucketLoader[T]) ObjectKey(key string) string {
	if l.prefix == "" {
		return key
	}
	return path.Join(l.prefix, key)
}

// Load implements kura.Loader.
func (l *BucketLoader[T]) Load(key string) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	objKey := l.ObjectKey(key)
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return zero, errors.Wrapf(err, "assets: get s3://%s/%s", l.bucket, objKey)
	}
	defer out.Body.Close()
	if !l.rd.decompress || path.Ext(key) != ".lz4" && path.Ext(key) != ".xz" {
		if n := aws.ToInt64(out.ContentLength); n > l.rd.maxBytes {
			return zero, errors.Wrapf(ErrTooLarge, "s3://%s/%s", l.bucket, objKey)
		}
	}
	data, err := l.rd.read(key, out.Body)
	if err != nil {
		return zero, err
	}
	v, err := l.decode(key, data)
	if err != nil {
		return zero, errors.Wrapf(err, "assets: decode %s", key)
	}
	return v, nil
}
