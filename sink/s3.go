package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API the uploader needs. *s3.Client
// satisfies it.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the bucket recordings are copied to. Endpoint and
// PathStyle allow S3-compatible stores such as MinIO.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// NewS3Client builds a client from static credentials. Empty credentials
// fall back to AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.
func NewS3Client(config S3Config) *s3.Client {
	keyID, secret := config.AccessKeyID, config.SecretAccessKey
	if keyID == "" {
		keyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if secret == "" {
		secret = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	region := config.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			if keyID == "" || secret == "" {
				return aws.Credentials{}, errors.New("no S3 credentials configured")
			}
			return aws.Credentials{
				AccessKeyID:     keyID,
				SecretAccessKey: secret,
				Source:          "zumbido",
			}, nil
		})),
		UsePathStyle: config.PathStyle,
	}
	if config.Endpoint != "" {
		opts.BaseEndpoint = aws.String(config.Endpoint)
	}
	return s3.New(opts)
}

// S3Uploader copies finished recordings to a bucket under an optional
// key prefix.
type S3Uploader struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3Uploader(client S3Client, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (u *S3Uploader) key(file string) string {
	name := filepath.Base(file)
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".wav":
		return "audio/wav"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func (u *S3Uploader) Upload(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	key := u.key(file)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(file)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("s3 put %s/%s: %s: %w", u.bucket, key, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("s3 put %s/%s: %w", u.bucket, key, err)
	}
	return nil
}
