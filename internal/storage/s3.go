// Package storage uploads oversized results to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/you/tg-mediadl/internal/validate"
)

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".zip":  "application/zip",
}

func contentType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO and other S3-compatible services
	Prefix   string
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3 struct {
	bucket  string
	prefix  string
	client  putter
	presign presigner
}

// NewS3 loads credentials from the default AWS chain (env, shared config, IAM role).
func NewS3(ctx context.Context, c Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(c, client, s3.NewPresignClient(client)), nil
}

func newS3(c Config, client putter, p presigner) *S3 {
	return &S3{
		bucket:  c.Bucket,
		prefix:  strings.Trim(c.Prefix, "/"),
		client:  client,
		presign: p,
	}
}

// Key is <prefix>/<ulid>/<sanitized file name>.
func (s *S3) Key(localPath string) string {
	name := validate.SanitizeFilename(filepath.Base(localPath))
	return path.Join(s.prefix, ulid.Make().String(), name)
}

func (s *S3) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat upload: %w", err)
	}

	key := s.Key(localPath)
	in := &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               f,
		ContentLength:      aws.Int64(st.Size()),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", path.Base(key))),
	}
	if ct := contentType(localPath); ct != "" {
		in.ContentType = aws.String(ct)
	}
	start := time.Now()
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}
	log.Info().Str("key", key).Int64("bytes", st.Size()).Dur("took", time.Since(start)).Msg("uploaded to storage")
	return key, nil
}

func (s *S3) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return req.URL, nil
}
