package artifact

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

type fakeS3 struct {
	mu       sync.Mutex
	bucket   bool
	objects  map[string][]byte
	metadata map[string]map[string]string
	puts     int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucket = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.metadata[aws.ToString(in.Key)] = in.Metadata
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(data)),
		Metadata: f.metadata[aws.ToString(in.Key)],
	}, nil
}

func TestS3Archive_InitializeBucket(t *testing.T) {
	client := newFakeS3()
	archive := NewS3ArchiveWithClient(client, S3ArchiveConfig{Bucket: "bundles", Region: "eu-west-1"})

	require.NoError(t, archive.initializeBucket(context.Background()))
	assert.True(t, client.bucket)
	require.NoError(t, archive.initializeBucket(context.Background()))
}

func TestS3Archive_StoreAndFetch(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	archive := NewS3ArchiveWithClient(client, S3ArchiveConfig{Bucket: "bundles", Prefix: "artifacts/"})

	bundle := filepath.Join(t.TempDir(), BundleName)
	require.NoError(t, os.WriteFile(bundle, []byte("tarball"), 0o600))
	artifact := &interfaces.Artifact{Fingerprint: "sha256:abcd", Revision: "r7", BundlePath: bundle}

	require.NoError(t, archive.Store(ctx, artifact))
	assert.Contains(t, client.objects, "artifacts/abcd/bundle.tar.gz")

	// Already archived bundles are not uploaded again
	require.NoError(t, archive.Store(ctx, artifact))
	assert.Equal(t, 1, client.puts)

	dest := filepath.Join(t.TempDir(), "restored.tar.gz")
	revision, err := archive.Fetch(ctx, "sha256:abcd", dest)
	require.NoError(t, err)
	assert.Equal(t, "r7", revision)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "tarball", string(data))

	_, err = archive.Fetch(ctx, "sha256:ffff", dest)
	assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
}
