// Package backup exports the memory store as a JSON archive and ships
// it to S3 or any S3-compatible endpoint.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nextlevelbuilder/recall/internal/store"
)

// Options configures one backup run. Bucket is the only required
// field; empty credentials fall back to the ambient AWS chain.
type Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // S3-compatible endpoint (MinIO etc.)
	AccessKeyID     string
	SecretAccessKey string
}

// WriteArchive streams the full store dump as indented JSON.
func WriteArchive(ctx context.Context, st store.Store, w io.Writer) error {
	d, err := st.Dump(ctx)
	if err != nil {
		return fmt.Errorf("dump store: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	return nil
}

// ObjectKey builds the timestamped key one archive lands under.
func ObjectKey(prefix string, now time.Time) string {
	return prefix + "recall-" + now.UTC().Format("20060102-150405") + ".json"
}

// Upload exports the store and puts the archive to S3, returning the
// object key it landed under.
func Upload(ctx context.Context, st store.Store, opts Options) (string, error) {
	if opts.Bucket == "" {
		return "", fmt.Errorf("backup bucket is not configured")
	}

	var buf bytes.Buffer
	if err := WriteArchive(ctx, st, &buf); err != nil {
		return "", err
	}
	size := buf.Len()

	client, err := newClient(ctx, opts)
	if err != nil {
		return "", err
	}

	key := ObjectKey(opts.Prefix, time.Now())
	uploader := manager.NewUploader(client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(opts.Bucket),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}

	slog.Info("backup: archive uploaded", "bucket", opts.Bucket, "key", key, "bytes", size)
	return key, nil
}

func newClient(ctx context.Context, opts Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// MinIO and friends route buckets by path, not vhost.
			o.UsePathStyle = true
		}
	}), nil
}
