// Package audio issues presigned S3 URLs for blessing recordings. The server
// never handles audio bytes; clients upload directly and submit the key.
package audio

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/errors"
)

// DefaultContentType is what the mobile recorder produces.
const DefaultContentType = "audio/mp4"

const defaultTTL = 5 * time.Minute

// extensions maps accepted upload types to object key suffixes.
var extensions = map[string]string{
	"audio/mp4":   ".m4a",
	"audio/m4a":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".aac",
	"audio/mpeg":  ".mp3",
	"audio/webm":  ".webm",
	"audio/wav":   ".wav",
}

// presignAPI is the subset of *s3.PresignClient used here.
type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Presigner hands out time-limited upload and playback URLs.
type Presigner struct {
	client presignAPI
	bucket string
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Upload describes where and how a client should PUT a recording.
type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Method      string `json:"method"`
	ContentType string `json:"content_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Playback is a URL a client can GET to stream a recording.
type Playback struct {
	URL string `json:"url"`

	// ExpiresAt is zero when the reference was already a plain URL
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// New loads AWS credentials from the default chain and returns a Presigner.
func New(ctx context.Context, cfg config.AudioConfig) (*Presigner, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClient wraps an existing S3 client.
func NewWithClient(client *s3.Client, cfg config.AudioConfig) *Presigner {
	return newPresigner(s3.NewPresignClient(client), cfg)
}

func newPresigner(client presignAPI, cfg config.AudioConfig) *Presigner {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Presigner{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.KeyPrefix, "/"),
		ttl:    ttl,
		now:    time.Now,
	}
}

// UploadURL allocates a key under <prefix>/<userID>/ and presigns a PUT for it.
func (p *Presigner) UploadURL(ctx context.Context, userID, contentType string) (*Upload, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return nil, errors.NewInvalidRequest("user_id is not a valid key segment")
	}

	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		contentType = DefaultContentType
	}
	ext, ok := extensions[contentType]
	if !ok {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported content_type %q", contentType))
	}

	now := p.now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	key := path.Join(p.prefix, userID, id.String()+ext)

	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return nil, errors.NewUnavailable(err)
	}

	return &Upload{
		Key:         key,
		URL:         req.URL,
		Method:      req.Method,
		ContentType: contentType,
		ExpiresAt:   now.Add(p.ttl).UnixMilli(),
	}, nil
}

// ReadURL presigns a GET for playback of ref. Refs that are already
// absolute http(s) URLs are returned unchanged.
func (p *Presigner) ReadURL(ctx context.Context, ref string) (*Playback, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.NewInvalidRequest("audio reference is required")
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return &Playback{URL: ref}, nil
	}

	now := p.now()
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return nil, errors.NewUnavailable(err)
	}
	return &Playback{URL: req.URL, ExpiresAt: now.Add(p.ttl).UnixMilli()}, nil
}
