package s3

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/celo-org/stokado/pkg/stokado"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	input   *s3.PutObjectInput
	options s3.PresignPostOptions
	err     error
}

func (f *fakePresigner) PresignPostObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignPostOptions)) (*s3.PresignedPostRequest, error) {
	f.input = params
	for _, fn := range optFns {
		fn(&f.options)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PresignedPostRequest{
		URL: "https://bucket.s3-accelerate.amazonaws.com",
		Values: map[string]string{
			"key":    *params.Key,
			"policy": "eyJjb25kaXRpb25zIjpbXX0=",
		},
	}, nil
}

func TestBackend_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := NewWithClient(&fakePresigner{}, Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("NilPresigner", func(t *testing.T) {
		_, err := NewWithClient(nil, Config{Bucket: "bucket"})
		require.Error(t, err)
	})

	t.Run("DefaultExpiry", func(t *testing.T) {
		backend, err := NewWithClient(&fakePresigner{}, Config{Bucket: "bucket"})
		require.NoError(t, err)
		assert.Equal(t, time.Hour, backend.defaultExpiry)
	})

	t.Run("FromAWSConfig", func(t *testing.T) {
		awsCfg := aws.Config{
			Region:      "eu-west-1",
			Credentials: credentials.NewStaticCredentialsProvider("key", "secret", ""),
		}
		backend, err := New(awsCfg, Config{Bucket: "bucket", UseAccelerate: true})
		require.NoError(t, err)
		assert.NotNil(t, backend)

		_, err = New(awsCfg, Config{})
		assert.Error(t, err)
	})

	t.Run("BaseEndpoint", func(t *testing.T) {
		awsCfg := aws.Config{
			Region:       "eu-west-1",
			Credentials:  credentials.NewStaticCredentialsProvider("key", "secret", ""),
			BaseEndpoint: aws.String("http://localhost:4566"),
		}
		backend, err := New(awsCfg, Config{Bucket: "bucket", UsePathStyle: true})
		require.NoError(t, err)

		grant, err := backend.IssueGrant(context.Background(), stokado.GrantRequest{
			Key:      "0x622f9Bf48e17753131dC32151f989BDc13aAA072/account/name",
			Path:     "/account/name",
			MaxBytes: 100,
			Expires:  time.Minute,
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(grant.PostURL, "http://localhost:4566"), grant.PostURL)
		assert.Equal(t, "0x622f9Bf48e17753131dC32151f989BDc13aAA072/account/name", grant.FormFields["key"])
	})
}

func TestBackend_IssueGrant(t *testing.T) {
	presigner := &fakePresigner{}
	backend, err := NewWithClient(presigner, Config{Bucket: "bucket"})
	require.NoError(t, err)

	grant, err := backend.IssueGrant(context.Background(), stokado.GrantRequest{
		Key:      "0x17Dd1686F1B592C7d0869b439ddd1fCD669b352f/account/name",
		Path:     "/account/name",
		MinBytes: 0,
		MaxBytes: 100,
		Expires:  10 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "bucket", *presigner.input.Bucket)
	assert.Equal(t, "0x17Dd1686F1B592C7d0869b439ddd1fCD669b352f/account/name", *presigner.input.Key)
	assert.Equal(t, 10*time.Second, presigner.options.Expires)
	assert.Equal(t, []interface{}{
		[]interface{}{"content-length-range", uint64(0), uint64(100)},
	}, presigner.options.Conditions)

	assert.Equal(t, "/account/name", grant.Path)
	assert.Equal(t, "https://bucket.s3-accelerate.amazonaws.com", grant.PostURL)
	assert.Equal(t, "0x17Dd1686F1B592C7d0869b439ddd1fCD669b352f/account/name", grant.FormFields["key"])
}

func TestBackend_IssueGrantDefaults(t *testing.T) {
	presigner := &fakePresigner{}
	backend, err := NewWithClient(presigner, Config{Bucket: "bucket", DefaultExpiry: 5 * time.Minute})
	require.NoError(t, err)

	_, err = backend.IssueGrant(context.Background(), stokado.GrantRequest{Key: "k", Path: "/account/name"})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, presigner.options.Expires)

	_, err = backend.IssueGrant(context.Background(), stokado.GrantRequest{Path: "/account/name"})
	assert.Error(t, err)
}

func TestBackend_IssueGrantError(t *testing.T) {
	cause := errors.New("credentials expired")
	backend, err := NewWithClient(&fakePresigner{err: cause}, Config{Bucket: "bucket"})
	require.NoError(t, err)

	_, err = backend.IssueGrant(context.Background(), stokado.GrantRequest{Key: "k", Path: "/account/name"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}
