// Package s3source reads case attachments from an S3 compatible bucket laid
// out as {prefix}/cases/{caseId}/{name}.
package s3source

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/remote"
)

// API is the slice of the S3 client the source uses.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // for MinIO and friends; enables path-style addressing
	AccessKey string
	SecretKey string
	Prefix    string
	MaxBytes  int64
}

// Source implements app.RemoteSource on top of S3.
type Source struct {
	api      API
	bucket   string
	prefix   string
	maxBytes int64
}

var _ app.RemoteSource = (*Source)(nil)

var loadDefaultAWSConfig = config.LoadDefaultConfig

// New builds an S3 client from cfg. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3source: bucket is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3source: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg)
}

// NewWithClient wraps an existing client.
func NewWithClient(api API, cfg Config) (*Source, error) {
	if api == nil {
		return nil, errors.New("s3source: nil client")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3source: bucket is required")
	}
	return &Source{
		api:      api,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		maxBytes: cfg.MaxBytes,
	}, nil
}

func (s *Source) caseDir(caseID string) string {
	return path.Join(s.prefix, "cases", caseID) + "/"
}

// ListCaseAttachments lists every object under the case's directory. The
// object key relative to the prefix becomes the attachment id and the full
// key its locator.
func (s *Source) ListCaseAttachments(ctx context.Context, caseID string) ([]domain.RemoteAttachment, error) {
	if caseID == "" || strings.Contains(caseID, "/") {
		return nil, fmt.Errorf("s3source: invalid case id %q", caseID)
	}
	dir := s.caseDir(caseID)
	pager := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(dir),
	})
	var out []domain.RemoteAttachment
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3source: list %s: %w", dir, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, domain.RemoteAttachment{
				ID:      s.idFor(key),
				Name:    path.Base(key),
				Size:    aws.ToInt64(obj.Size),
				Locator: key,
				CaseID:  caseID,
			})
		}
	}
	return out, nil
}

func (s *Source) idFor(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

// Fetch downloads the object named by locator, or {prefix}/{id} when the
// locator is empty.
func (s *Source) Fetch(ctx context.Context, id, locator string, progress app.ProgressFunc) ([]byte, error) {
	key := locator
	if key == "" {
		key = path.Join(s.prefix, id)
	}
	obj, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3source: get %s: %w", key, err)
	}
	defer obj.Body.Close()
	return remote.ReadAll(obj.Body, aws.ToInt64(obj.ContentLength), s.maxBytes, progress)
}
