package images

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// objectAPI is the part of the S3 client the uploader uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type S3Options struct {
	Endpoint   string // the s3 url
	PublicURL  string // base for returned links, defaults to Endpoint
	Bucket     string
	Region     string
	Credential aws.Credentials
	MaxBytes   int64
	// Breaker trips after this many consecutive failures.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// S3Uploader writes images to a bucket behind a circuit breaker.
type S3Uploader struct {
	opts S3Options
	api  objectAPI
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
	now  func() time.Time
}

func NewS3Uploader(ctx context.Context, opts S3Options, log *zap.Logger) (*S3Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(
			credentials.StaticCredentialsProvider{Value: opts.Credential},
		),
		config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: opts.Endpoint, HostnameImmutable: true}, nil
				},
			),
		),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return newS3Uploader(client, opts, log), nil
}

func newS3Uploader(api objectAPI, opts S3Options, log *zap.Logger) *S3Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Bucket == "" {
		opts.Bucket = "public"
	}
	if opts.PublicURL == "" {
		opts.PublicURL = opts.Endpoint
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 5 << 20
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 3
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "object-store",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &S3Uploader{opts: opts, api: api, cb: cb, log: log, now: time.Now}
}

// Upload stores data under comment-images/ with a random name and returns the
// public URL.
func (u *S3Uploader) Upload(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if int64(len(data)) > u.opts.MaxBytes {
		return "", ErrTooLarge
	}
	ext, err := extension(mimeType)
	if err != nil {
		return "", err
	}
	key := path.Join(KeyPrefix, uuid.NewString()+ext)

	_, err = u.cb.Execute(func() (interface{}, error) {
		return u.put(ctx, key, data, mimeType)
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return u.publicURL(key), nil
}

func (u *S3Uploader) put(ctx context.Context, key string, data []byte, contentType string) (*s3.PutObjectOutput, error) {
	return u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.opts.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("max-age=3600"),
	})
}

func (u *S3Uploader) publicURL(key string) string {
	return strings.TrimRight(u.opts.PublicURL, "/") + "/" + u.opts.Bucket + "/" + key
}

// Step is one line of a storage diagnostic run.
type Step struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report is the outcome of Diagnose.
type Report struct {
	Steps    []Step `json:"steps"`
	ProbeURL string `json:"probe_url,omitempty"`
}

// OK reports whether every step passed.
func (r Report) OK() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return len(r.Steps) > 0
}

// Diagnose checks the bucket exists (creating it when missing) and writes a
// small probe object. It bypasses the circuit breaker.
func (u *S3Uploader) Diagnose(ctx context.Context) Report {
	var rep Report
	add := func(name string, err error, detail string) bool {
		s := Step{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			s.Detail = err.Error()
		}
		rep.Steps = append(rep.Steps, s)
		return err == nil
	}

	bucket := aws.String(u.opts.Bucket)
	if _, err := u.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: bucket}); err != nil {
		add("head bucket", nil, fmt.Sprintf("bucket %q not reachable (%v), creating it", u.opts.Bucket, err))
		if _, err := u.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: bucket}); !add("create bucket", err, "bucket "+u.opts.Bucket+" created") {
			return rep
		}
	} else {
		add("head bucket", nil, "bucket "+u.opts.Bucket+" exists")
	}

	key := path.Join(KeyPrefix, fmt.Sprintf("test-%d.txt", u.now().UnixMilli()))
	if _, err := u.put(ctx, key, []byte("test file content"), "text/plain"); !add("upload probe", err, key) {
		return rep
	}
	rep.ProbeURL = u.publicURL(key)
	return rep
}
