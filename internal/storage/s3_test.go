// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/stt-gateway/pkg/commons"
)

type fakeS3 struct {
	objects map[string][]byte
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &notFoundError{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(params.Key)]; !ok {
		return nil, &notFoundError{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresign struct{}

func (fakePresign) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL: "https://example.com/" + aws.ToString(params.Key) + "?signed",
	}, nil
}

type notFoundError struct{}

func (notFoundError) Error() string                 { return "NotFound" }
func (notFoundError) ErrorCode() string             { return "NotFound" }
func (notFoundError) ErrorMessage() string          { return "not found" }
func (notFoundError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var _ smithy.APIError = notFoundError{}

func TestUploadAndExists(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreWithClient(commons.NewTestLogger(), fake, fakePresign{}, "bucket")
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "rec.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFdata"), 0o644))

	require.NoError(t, store.UploadFile(ctx, "recordings/s1.wav", path))
	assert.Equal(t, []byte("RIFFdata"), fake.objects["recordings/s1.wav"])

	exists, err := store.Exists(ctx, "recordings/s1.wav")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "recordings/other.wav")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownload(t *testing.T) {
	fake := newFakeS3()
	fake.objects["recordings/s1.wav"] = []byte("RIFFdata")
	store := NewS3StoreWithClient(commons.NewTestLogger(), fake, fakePresign{}, "bucket")

	data, err := store.Download(context.Background(), "recordings/s1.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFdata"), data)

	_, err = store.Download(context.Background(), "recordings/missing.wav")
	assert.Error(t, err)
}

func TestUploadMissingFile(t *testing.T) {
	store := NewS3StoreWithClient(commons.NewTestLogger(), newFakeS3(), fakePresign{}, "bucket")
	assert.Error(t, store.UploadFile(context.Background(), "k", "/does/not/exist.wav"))
}

func TestPresignGet(t *testing.T) {
	store := NewS3StoreWithClient(commons.NewTestLogger(), newFakeS3(), fakePresign{}, "bucket")

	url, err := store.PresignGet(context.Background(), "recordings/s1.wav", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/recordings/s1.wav?signed", url)
}

func TestDelete(t *testing.T) {
	fake := newFakeS3()
	fake.objects["k"] = []byte("x")
	store := NewS3StoreWithClient(commons.NewTestLogger(), fake, fakePresign{}, "bucket")

	require.NoError(t, store.Delete(context.Background(), "k"))
	assert.Empty(t, fake.objects)
}
