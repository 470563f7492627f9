// Package publish copies verified files to an S3 bucket after a run.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/recmirror/internal/manifest"
	"github.com/tanq16/recmirror/internal/utils"
)

// checksumKey is the user metadata key holding the manifest checksum.
const checksumKey = "checksum"

type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type S3Publisher struct {
	objects  objectAPI
	uploader uploadAPI
	bucket   string
	prefix   string
}

func NewS3Publisher(ctx context.Context, cfg utils.S3Config) (*S3Publisher, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMode("adaptive")}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = manager.DefaultUploadPartSize
		u.Concurrency = manager.DefaultUploadConcurrency
	})
	return &S3Publisher{objects: client, uploader: uploader, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (p *S3Publisher) Key(recordID, name string) string {
	return path.Join(p.prefix, recordID, name)
}

// Publish uploads localPath unless the bucket already holds an object of
// the same size tagged with the same checksum.
func (p *S3Publisher) Publish(ctx context.Context, recordID string, entry manifest.Entry, localPath string) error {
	key := p.Key(recordID, entry.Name)
	head, err := p.objects.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err == nil && aws.ToInt64(head.ContentLength) == entry.Size && head.Metadata[checksumKey] == entry.Checksum {
		log.Debug().Str("op", "publish/s3").Msgf("s3://%s/%s is up to date", p.bucket, key)
		return nil
	}
	var notFound *types.NotFound
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("error checking s3://%s/%s: %w", p.bucket, key, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", localPath, err)
	}
	defer f.Close()
	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: map[string]string{checksumKey: entry.Checksum},
	})
	if err != nil {
		return fmt.Errorf("error uploading s3://%s/%s: %w", p.bucket, key, err)
	}
	log.Info().Str("op", "publish/s3").Msgf("Uploaded %s to s3://%s/%s", entry.Name, p.bucket, key)
	return nil
}
