// Package storage uploads written tiles to an S3-compatible bucket such as MinIO.
package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	apperrors "github.com/PhantomInTheWire/tilesplit/pkg/errors"
)

const domain = "storage"

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

func (c Config) Validate() error {
	if c.Bucket == "" {
		return apperrors.Validation(domain, "bucket is required for upload")
	}
	if c.Region == "" {
		return apperrors.Validation(domain, "region is required for upload")
	}
	return nil
}

// API is the subset of the S3 client used by Uploader.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient builds an S3 client. A non-empty Endpoint switches to path-style
// addressing against that endpoint, which is what MinIO expects.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeUploadFailed, domain, "load aws config", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Object is an uploaded tile.
type Object struct {
	Path string
	Key  string
}

type Uploader struct {
	client API
	cfg    Config
	log    zerolog.Logger
}

func NewUploader(client API, cfg Config, log zerolog.Logger) *Uploader {
	return &Uploader{client: client, cfg: cfg, log: log}
}

// Key returns the object key for a local file name under prefix.
func Key(prefix, name string) string {
	return path.Join(prefix, filepath.Base(name))
}

// EnsureBucket creates the bucket when HeadBucket fails.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.cfg.Bucket),
	})
	if err == nil {
		return nil
	}

	_, err = u.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(u.cfg.Bucket),
	})
	if err != nil {
		return apperrors.New(apperrors.CodeUploadFailed, domain, fmt.Sprintf("create bucket %s", u.cfg.Bucket), err)
	}
	u.log.Info().Str("bucket", u.cfg.Bucket).Msg("created bucket")
	return nil
}

// Upload puts each file under the configured prefix, stopping at the first
// failure. Objects uploaded before the failure are returned with the error.
func (u *Uploader) Upload(ctx context.Context, paths []string) ([]Object, error) {
	if err := u.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	objects := make([]Object, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return objects, apperrors.New(apperrors.CodeUploadFailed, domain, "upload cancelled", err)
		}

		obj := Object{Path: p, Key: Key(u.cfg.Prefix, p)}
		if err := u.put(ctx, obj); err != nil {
			return objects, err
		}
		u.log.Info().Str("bucket", u.cfg.Bucket).Str("key", obj.Key).Msg("uploaded")
		objects = append(objects, obj)
	}
	return objects, nil
}

func (u *Uploader) put(ctx context.Context, obj Object) error {
	file, err := os.Open(obj.Path)
	if err != nil {
		return apperrors.New(apperrors.CodeUploadFailed, domain, fmt.Sprintf("open %s", obj.Path), err)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(obj.Key),
		Body:   file,
	}
	if ct := mime.TypeByExtension(filepath.Ext(obj.Path)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return apperrors.New(apperrors.CodeUploadFailed, domain, fmt.Sprintf("upload %s", obj.Key), err)
	}
	return nil
}
