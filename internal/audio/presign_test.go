package audio

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/errors"
)

// newTestPresigner signs with static credentials; presigning never touches the network.
func newTestPresigner(t *testing.T) *Presigner {
	t.Helper()
	client := s3.New(s3.Options{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	})
	cfg := config.DefaultConfig().Audio
	p := NewWithClient(client, cfg)
	p.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return p
}

func TestUploadURL(t *testing.T) {
	p := newTestPresigner(t)

	up, err := p.UploadURL(context.Background(), "user-1", "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(up.Key, "blessings/user-1/"), up.Key)
	assert.True(t, strings.HasSuffix(up.Key, ".m4a"), up.Key)
	assert.Equal(t, DefaultContentType, up.ContentType)
	assert.Equal(t, "PUT", up.Method)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC).UnixMilli(), up.ExpiresAt)

	u, err := url.Parse(up.URL)
	require.NoError(t, err)
	assert.Contains(t, u.Host+u.Path, "audio-files")
	assert.Contains(t, u.Path, up.Key)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
}

func TestUploadURL_UniqueKeys(t *testing.T) {
	p := newTestPresigner(t)

	a, err := p.UploadURL(context.Background(), "user-1", "audio/mpeg")
	require.NoError(t, err)
	b, err := p.UploadURL(context.Background(), "user-1", "audio/mpeg")
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
	assert.True(t, strings.HasSuffix(a.Key, ".mp3"))
}

func TestUploadURL_Rejects(t *testing.T) {
	p := newTestPresigner(t)

	tests := []struct {
		name, user, contentType string
	}{
		{"empty user", "", ""},
		{"path traversal", "../admin", ""},
		{"slash", "a/b", ""},
		{"not audio", "user-1", "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.UploadURL(context.Background(), tt.user, tt.contentType)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestReadURL(t *testing.T) {
	p := newTestPresigner(t)

	pb, err := p.ReadURL(context.Background(), "blessings/user-1/01HX.m4a")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC).UnixMilli(), pb.ExpiresAt)

	u, err := url.Parse(pb.URL)
	require.NoError(t, err)
	assert.Contains(t, u.Path, "blessings/user-1/01HX.m4a")
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Expires"))

	_, err = p.ReadURL(context.Background(), " ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestReadURL_PlainURLPassesThrough(t *testing.T) {
	p := newTestPresigner(t)

	ref := "https://cdn.example.com/audio-files/blessing_1.m4a"
	pb, err := p.ReadURL(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, ref, pb.URL)
	assert.Zero(t, pb.ExpiresAt)
}

func TestNewPresigner_DefaultTTL(t *testing.T) {
	p := newPresigner(nil, config.AudioConfig{Bucket: "b", KeyPrefix: "/x/"})
	assert.Equal(t, defaultTTL, p.ttl)
	assert.Equal(t, "x", p.prefix)
}
