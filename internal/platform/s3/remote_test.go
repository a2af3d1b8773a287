package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/phrazzld/offload/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory bucket
type fakeAPI struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]map[int32][]byte
	aborted  int
	failPut  error
	failPart error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{
				Key:  aws.String(k),
				Size: aws.Int64(int64(len(f.objects[k]))),
			})
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("upload-%d", len(f.uploads)+1)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id), Key: in.Key}, nil
}

func (f *fakeAPI) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.failPart != nil {
		return nil, f.failPart
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	number := aws.ToInt32(in.PartNumber)
	f.uploads[aws.ToString(in.UploadId)][number] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", number))}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.uploads[aws.ToString(in.UploadId)]
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(parts[aws.ToInt32(p.PartNumber)])
	}
	f.objects[aws.ToString(in.Key)] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeAPI) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

type fakePresigner struct {
	calls int
}

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	p.calls++
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://%s.s3.test/%s?X-Amz-Expires=%d&X-Amz-Signature=abc",
			aws.ToString(in.Bucket), aws.ToString(in.Key), int(opts.Expires.Seconds())),
		Method: "GET",
	}, nil
}

func newTestRemote(t *testing.T, cfg Config) (*Remote, *fakeAPI, *fakePresigner) {
	t.Helper()
	api := newFakeAPI()
	presign := &fakePresigner{}
	if cfg.Bucket == "" {
		cfg.Bucket = "media"
	}
	if cfg.Quota == 0 {
		cfg.Quota = 1000
	}
	r, err := newRemote(api, presign, cfg)
	require.NoError(t, err)
	return r, api, presign
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := newRemote(newFakeAPI(), &fakePresigner{}, Config{Quota: 10})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = newRemote(newFakeAPI(), &fakePresigner{}, Config{Bucket: "b"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := Config{Bucket: "b", Quota: 1, Prefix: "offload", LinkTTL: 30 * 24 * time.Hour}
	require.NoError(t, cfg.validate())
	assert.Equal(t, "offload/", cfg.Prefix)
	assert.Equal(t, maxLinkTTL, cfg.LinkTTL)

	cfg = Config{Bucket: "b", Quota: 1}
	require.NoError(t, cfg.validate())
	assert.Equal(t, DefaultLinkTTL, cfg.LinkTTL)
}

func TestRemote_PutListSpace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, api, _ := newTestRemote(t, Config{Prefix: "acct"})
	api.objects["other/ignored.bin"] = []byte("xxxxxxxxxx")
	api.objects["acct/nested/skip.bin"] = []byte("yy")

	require.NoError(t, r.Put(ctx, "a.mp4", strings.NewReader("hello"), 5))
	require.NoError(t, r.Put(ctx, "b.mp3", strings.NewReader("abc"), 3))
	assert.Equal(t, []byte("hello"), api.objects["acct/a.mp4"])

	names, err := r.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.mp4", "b.mp3"}, names)

	space, err := r.Space(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Space{Allocated: 1000, Used: 8}, space)
	assert.Equal(t, int64(992), space.Free())

	require.NoError(t, r.Delete(ctx, "a.mp4"))
	names, err = r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.mp3"}, names)
}

func TestRemote_Session(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, api, _ := newTestRemote(t, Config{})

	s, err := r.StartSession(ctx, "big.mp4")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, []byte("part1-")))
	require.NoError(t, s.Append(ctx, []byte("part2")))
	require.NoError(t, s.Finish(ctx))
	assert.Equal(t, []byte("part1-part2"), api.objects["big.mp4"])

	api.failPart = errors.New("connection reset")
	s, err = r.StartSession(ctx, "broken.mp4")
	require.NoError(t, err)
	assert.Error(t, s.Append(ctx, []byte("x")))
	require.NoError(t, s.Abort(ctx))
	assert.Equal(t, 1, api.aborted)
	_, ok := api.objects["broken.mp4"]
	assert.False(t, ok)
}

func TestRemote_Links(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("presigned", func(t *testing.T) {
		t.Parallel()

		r, _, presign := newTestRemote(t, Config{LinkTTL: time.Hour})
		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		r.now = func() time.Time { return now }

		_, err := r.CreateLink(ctx, "missing.mp4")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, r.Put(ctx, "clip.mp4", strings.NewReader("x"), 1))

		_, err = r.Link(ctx, "clip.mp4")
		assert.ErrorIs(t, err, storage.ErrNoLink)

		link, err := r.CreateLink(ctx, "clip.mp4")
		require.NoError(t, err)
		assert.Equal(t, "https://media.s3.test/clip.mp4?X-Amz-Expires=3600&X-Amz-Signature=abc", link)

		again, err := r.Link(ctx, "clip.mp4")
		require.NoError(t, err)
		assert.Equal(t, link, again)

		_, err = r.CreateLink(ctx, "clip.mp4")
		require.NoError(t, err)
		assert.Equal(t, 1, presign.calls)

		now = now.Add(2 * time.Hour)
		_, err = r.Link(ctx, "clip.mp4")
		assert.ErrorIs(t, err, storage.ErrNoLink)
	})

	t.Run("public url", func(t *testing.T) {
		t.Parallel()

		r, _, presign := newTestRemote(t, Config{Prefix: "acct", PublicURL: "https://cdn.example.com/files"})
		require.NoError(t, r.Put(ctx, "clip.mp4", strings.NewReader("x"), 1))

		link, err := r.CreateLink(ctx, "clip.mp4")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/files/acct/clip.mp4", link)
		assert.Equal(t, 0, presign.calls)

		require.NoError(t, r.Delete(ctx, "clip.mp4"))
		_, err = r.Link(ctx, "clip.mp4")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestRemote_Closed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, _, _ := newTestRemote(t, Config{})
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.Put(ctx, "a", strings.NewReader(""), 0), storage.ErrNotConnected)
	_, err := r.List(ctx)
	assert.ErrorIs(t, err, storage.ErrNotConnected)
}

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	assert.False(t, isNotFoundError(nil))
	assert.True(t, isNotFoundError(&types.NoSuchKey{}))
	assert.True(t, isNotFoundError(fmt.Errorf("wrapped: %w", &types.NotFound{})))
	assert.True(t, isNotFoundError(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isNotFoundError(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFoundError(errors.New("boom")))
}

func TestFromAWS(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cred := fromAWS(aws.Credentials{
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		CanExpire:       true,
		Expires:         expires,
	})
	assert.Equal(t, storage.Credential{ID: "AKIA", Secret: "secret", SessionToken: "token", Expiry: expires}, cred)

	cred = fromAWS(aws.Credentials{AccessKeyID: "AKIA", Expires: expires})
	assert.True(t, cred.Expiry.IsZero())
}

func TestCredentials_Static(t *testing.T) {
	t.Parallel()

	cred, err := Credentials(Config{AccessKey: "id", SecretKey: "secret"}).Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", cred.ID)
	assert.False(t, cred.Expired(time.Now(), time.Hour))
}

// The remote plugs into a storage backend like any other account
func TestRemote_WithBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, api, _ := newTestRemote(t, Config{Name: "s3-main", Prefix: "acct"})

	connector := storage.ConnectorFunc(func(context.Context, storage.Credential) (storage.Remote, error) {
		return r, nil
	})
	cfg := storage.DefaultBackendConfig("s3-main")
	cfg.ChunkThreshold = 4
	cfg.ChunkSize = 3
	b := storage.NewBackend(cfg, connector,
		storage.StaticCredentials(storage.Credential{ID: "id", Secret: "secret"}),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

	link, err := b.Upload(ctx, path)
	require.NoError(t, err)
	assert.Contains(t, link, "acct/clip.mp4")
	assert.Equal(t, []byte("0123456789"), api.objects["acct/clip.mp4"])

	free, err := b.StorageSpace(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(990), free)
}
