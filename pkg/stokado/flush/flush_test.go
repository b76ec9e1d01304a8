package flush

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudFront struct {
	inputs []*cloudfront.CreateInvalidationInput
	err    error
}

func (f *fakeCloudFront) CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudfront.CreateInvalidationOutput{
		Location: aws.String("https://cloudfront.amazonaws.com/2020-05-31/distribution/E123/invalidation/I1"),
		Invalidation: &types.Invalidation{
			Id:     aws.String("I1"),
			Status: aws.String("InProgress"),
		},
	}, nil
}

func eventBody(t *testing.T, keys ...string) string {
	t.Helper()
	event := S3Event{}
	for _, key := range keys {
		event.Records = append(event.Records, S3EventRecord{
			EventVersion: "2.1",
			EventSource:  "aws:s3",
			AWSRegion:    "eu-west-1",
			EventTime:    "2020-12-21T23:33:20.000Z",
			EventName:    "ObjectCreated:Post",
			S3: S3Entity{
				SchemaVersion: "1.0",
				Bucket:        S3BucketEntity{Name: "stokado-storage-dev", ARN: "arn:aws:s3:::stokado-storage-dev"},
				Object:        S3ObjectEntity{Key: key, Size: 65, ETag: "beb9f48bc802ca5ca043bcc15e219a5a"},
			},
		})
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return string(body)
}

func TestExtractKeys(t *testing.T) {
	t.Run("one message with two records", func(t *testing.T) {
		keys, err := ExtractKeys([]Message{
			{ID: "m1", Body: eventBody(t, "signer/account/name", "signer/account/name.signature")},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/signer/account/name", "/signer/account/name.signature"}, keys)
	})

	t.Run("message order then record order, duplicates kept", func(t *testing.T) {
		keys, err := ExtractKeys([]Message{
			{ID: "m1", Body: eventBody(t, "a", "b")},
			{ID: "m2", Body: eventBody(t, "c", "a")},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/a", "/b", "/c", "/a"}, keys)
	})

	t.Run("keys are not decoded", func(t *testing.T) {
		keys, err := ExtractKeys([]Message{{ID: "m1", Body: eventBody(t, "signer/ciphertexts/a%2Bb")}})
		require.NoError(t, err)
		assert.Equal(t, []string{"/signer/ciphertexts/a%2Bb"}, keys)
	})

	t.Run("event time is kept as text", func(t *testing.T) {
		body := `{"Records":[{"eventTime":"21/12/2020 23:33","s3":{"object":{"key":"signer/account/name"}}}]}`
		keys, err := ExtractKeys([]Message{{ID: "m1", Body: body}})
		require.NoError(t, err)
		assert.Equal(t, []string{"/signer/account/name"}, keys)
	})

	t.Run("empty records", func(t *testing.T) {
		keys, err := ExtractKeys([]Message{{ID: "m1", Body: `{"Records":[]}`}})
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	for name, body := range map[string]string{
		"empty body":  "",
		"not json":    "hello",
		"no records":  `{"Service":"Amazon S3","Event":"s3:TestEvent"}`,
		"bad records": `{"Records":"nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			keys, err := ExtractKeys([]Message{
				{ID: "m1", Body: eventBody(t, "good")},
				{ID: "m2", Body: body},
			})
			assert.ErrorIs(t, err, ErrInvalidPayload)
			assert.Nil(t, keys)
		})
	}
}

func TestCallerReference(t *testing.T) {
	assert.Equal(t, "invalidation-8aa4f5f9-5ff4-44a6-819e-9561fd7c7027", CallerReference("8aa4f5f9-5ff4-44a6-819e-9561fd7c7027"))
}

func TestNewBatch(t *testing.T) {
	batch := NewBatch("E123", []string{"/a", "/b"}, "tok")
	assert.Equal(t, InvalidationBatch{DistributionID: "E123", CallerReference: "invalidation-tok", Paths: []string{"/a", "/b"}}, batch)

	input := batch.Input()
	assert.Equal(t, "E123", aws.ToString(input.DistributionId))
	assert.Equal(t, "invalidation-tok", aws.ToString(input.InvalidationBatch.CallerReference))
	assert.Equal(t, int32(2), aws.ToInt32(input.InvalidationBatch.Paths.Quantity))
	assert.Equal(t, []string{"/a", "/b"}, input.InvalidationBatch.Paths.Items)
}

func TestFlusher_Flush(t *testing.T) {
	cf := &fakeCloudFront{}
	flusher := NewFlusher(cf, "distribution")

	out, err := flusher.Flush(context.Background(), []string{"/some/key"}, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "I1", aws.ToString(out.Invalidation.Id))

	require.Len(t, cf.inputs, 1)
	assert.Equal(t, "distribution", aws.ToString(cf.inputs[0].DistributionId))
	assert.Equal(t, []string{"/some/key"}, cf.inputs[0].InvalidationBatch.Paths.Items)
}

func TestFlusher_SameTokenSameReference(t *testing.T) {
	cf := &fakeCloudFront{}
	flusher := NewFlusher(cf, "distribution")
	keys := []string{"/x", "/y"}

	_, err := flusher.Flush(context.Background(), keys, "unit-7")
	require.NoError(t, err)
	_, err = flusher.Flush(context.Background(), keys, "unit-7")
	require.NoError(t, err)

	require.Len(t, cf.inputs, 2)
	assert.Equal(t, cf.inputs[0].InvalidationBatch.CallerReference, cf.inputs[1].InvalidationBatch.CallerReference)
	assert.Equal(t, "invalidation-unit-7", aws.ToString(cf.inputs[0].InvalidationBatch.CallerReference))
}

func TestFlusher_Errors(t *testing.T) {
	cf := &fakeCloudFront{}
	flusher := NewFlusher(cf, "distribution")

	_, err := flusher.Flush(context.Background(), nil, "tok")
	assert.ErrorIs(t, err, ErrEmptyKeys)

	_, err = flusher.Flush(context.Background(), []string{"/a"}, "")
	assert.Error(t, err)
	assert.Empty(t, cf.inputs)

	cf.err = &smithy.GenericAPIError{Code: "TooManyInvalidationsInProgress", Message: "slow down"}
	_, err = flusher.Flush(context.Background(), []string{"/a"}, "tok")
	var apiErr smithy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "TooManyInvalidationsInProgress", apiErr.ErrorCode())
}

func TestUnitID(t *testing.T) {
	assert.Equal(t, "", UnitID())
	assert.Equal(t, "m1", UnitID("m1"))
	assert.Equal(t, UnitID("a", "b", "c"), UnitID("c", "a", "b"))
	assert.NotEqual(t, UnitID("a", "b"), UnitID("a", "c"))
	assert.Len(t, UnitID("a", "b"), 64)
}

func TestProcessor_Process(t *testing.T) {
	cf := &fakeCloudFront{}
	processor := NewProcessor(NewFlusher(cf, "distribution"), nil)

	key := "0x2104243428e1b04fFe63854ddBc279D183CF076a/account/name.signature"
	unit := Unit{ID: "8aa4f5f9-5ff4-44a6-819e-9561fd7c7027", Messages: []Message{{ID: "8aa4f5f9-5ff4-44a6-819e-9561fd7c7027", Body: eventBody(t, key)}}}

	out, err := processor.Process(context.Background(), unit)
	require.NoError(t, err)
	assert.NotNil(t, out)
	require.Len(t, cf.inputs, 1)
	assert.Equal(t, []string{"/" + key}, cf.inputs[0].InvalidationBatch.Paths.Items)
	assert.Equal(t, "invalidation-8aa4f5f9-5ff4-44a6-819e-9561fd7c7027", aws.ToString(cf.inputs[0].InvalidationBatch.CallerReference))

	_, err = processor.Process(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, cf.inputs[0].InvalidationBatch.CallerReference, cf.inputs[1].InvalidationBatch.CallerReference)
}

func TestProcessor_DerivesTokenFromMessages(t *testing.T) {
	cf := &fakeCloudFront{}
	processor := NewProcessor(NewFlusher(cf, "distribution"), nil)

	_, err := processor.Process(context.Background(), Unit{Messages: []Message{
		{ID: "m2", Body: eventBody(t, "a")},
		{ID: "m1", Body: eventBody(t, "b")},
	}})
	require.NoError(t, err)
	assert.Equal(t, CallerReference(UnitID("m1", "m2")), aws.ToString(cf.inputs[0].InvalidationBatch.CallerReference))
}

func TestProcessor_Failures(t *testing.T) {
	cf := &fakeCloudFront{}
	processor := NewProcessor(NewFlusher(cf, "distribution"), nil)

	_, err := processor.Process(context.Background(), Unit{ID: "u", Messages: []Message{{ID: "m", Body: ""}}})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = processor.Process(context.Background(), Unit{ID: "u", Messages: []Message{{ID: "m", Body: `{"Records":[]}`}}})
	assert.ErrorIs(t, err, ErrEmptyKeys)

	assert.Empty(t, cf.inputs)

	cf.err = errors.New("network down")
	_, err = processor.Process(context.Background(), Unit{ID: "u", Messages: []Message{{ID: "m", Body: eventBody(t, "a")}}})
	assert.ErrorIs(t, err, cf.err)
}
