// Package s3 implements storage.Remote on top of an S3 compatible object
// store. Every storage account maps to one bucket and key prefix; its space
// is the configured quota minus the size of the objects under the prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/phrazzld/offload/internal/storage"
)

// DefaultLinkTTL is the lifetime of presigned links
const DefaultLinkTTL = 24 * time.Hour

// maxLinkTTL is the longest lifetime S3 accepts for a presigned URL
const maxLinkTTL = 7 * 24 * time.Hour

// ErrInvalidConfig is returned for an unusable account configuration
var ErrInvalidConfig = errors.New("invalid s3 account configuration")

// Config describes one S3 storage account
type Config struct {
	Name      string
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	Quota     int64
	PublicURL string
	LinkTTL   time.Duration
	AccessKey string
	SecretKey string
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}
	if c.Quota <= 0 {
		return fmt.Errorf("%w: quota must be positive", ErrInvalidConfig)
	}
	if c.LinkTTL <= 0 {
		c.LinkTTL = DefaultLinkTTL
	}
	if c.LinkTTL > maxLinkTTL {
		c.LinkTTL = maxLinkTTL
	}
	if c.Prefix != "" && !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	return nil
}

// api is the part of *s3.Client the remote uses
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// presigner is the part of *s3.PresignClient the remote uses
type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type link struct {
	url     string
	expires time.Time
}

// Remote is a storage.Remote backed by one bucket and prefix
type Remote struct {
	cfg     Config
	client  api
	presign presigner
	now     func() time.Time

	mu     sync.Mutex
	links  map[string]link
	closed bool
}

var _ storage.Remote = (*Remote)(nil)

// New wraps an existing client
func New(client *s3.Client, cfg Config) (*Remote, error) {
	return newRemote(client, s3.NewPresignClient(client), cfg)
}

func newRemote(client api, presign presigner, cfg Config) (*Remote, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Remote{
		cfg:     cfg,
		client:  client,
		presign: presign,
		now:     time.Now,
		links:   make(map[string]link),
	}, nil
}

func (r *Remote) key(name string) string {
	return r.cfg.Prefix + name
}

func (r *Remote) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("s3 remote %s: %w", r.cfg.Name, storage.ErrNotConnected)
	}
	return nil
}

// Put implements storage.Remote
func (r *Remote) Put(ctx context.Context, name string, body io.Reader, size int64) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.cfg.Bucket),
		Key:           aws.String(r.key(name)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// StartSession implements storage.Remote with a multipart upload
func (r *Remote) StartSession(ctx context.Context, name string) (storage.Session, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	out, err := r.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(r.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}
	return &session{
		remote:   r,
		key:      r.key(name),
		uploadID: aws.ToString(out.UploadId),
	}, nil
}

// Delete implements storage.Remote
func (r *Remote) Delete(ctx context.Context, name string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(r.key(name)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%s: %w", name, storage.ErrNotFound)
		}
		return fmt.Errorf("s3 delete object: %w", err)
	}

	r.mu.Lock()
	delete(r.links, name)
	r.mu.Unlock()
	return nil
}

// objects lists every object under the prefix as name to size
func (r *Remote) objects(ctx context.Context) (map[string]int64, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	out := make(map[string]int64)
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.cfg.Bucket),
		Prefix: aws.String(r.cfg.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), r.cfg.Prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			out[name] = aws.ToInt64(obj.Size)
		}
	}
	return out, nil
}

// List implements storage.Remote. Objects in nested folders under the
// prefix are not part of the account.
func (r *Remote) List(ctx context.Context) ([]string, error) {
	objects, err := r.objects(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(objects))
	for name := range objects {
		names = append(names, name)
	}
	return names, nil
}

// Space implements storage.Remote
func (r *Remote) Space(ctx context.Context) (storage.Space, error) {
	objects, err := r.objects(ctx)
	if err != nil {
		return storage.Space{}, err
	}
	var used int64
	for _, size := range objects {
		used += size
	}
	return storage.Space{Allocated: r.cfg.Quota, Used: used}, nil
}

func (r *Remote) exists(ctx context.Context, name string) error {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(r.key(name)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%s: %w", name, storage.ErrNotFound)
		}
		return fmt.Errorf("s3 head object: %w", err)
	}
	return nil
}

// CreateLink implements storage.Remote. With a public URL configured the
// link is the object URL under it, otherwise a presigned GET valid for the
// link TTL.
func (r *Remote) CreateLink(ctx context.Context, name string) (string, error) {
	if err := r.checkOpen(); err != nil {
		return "", err
	}
	if l, ok := r.cachedLink(name); ok {
		return l, nil
	}
	if err := r.exists(ctx, name); err != nil {
		return "", err
	}

	var l link
	if r.cfg.PublicURL != "" {
		u, err := url.Parse(r.cfg.PublicURL)
		if err != nil {
			return "", fmt.Errorf("%w: public url: %v", ErrInvalidConfig, err)
		}
		u.Path = path.Join(u.Path, r.key(name))
		l = link{url: u.String()}
	} else {
		req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.cfg.Bucket),
			Key:    aws.String(r.key(name)),
		}, s3.WithPresignExpires(r.cfg.LinkTTL))
		if err != nil {
			return "", fmt.Errorf("s3 presign: %w", err)
		}
		l = link{url: req.URL, expires: r.now().Add(r.cfg.LinkTTL)}
	}

	r.mu.Lock()
	r.links[name] = l
	r.mu.Unlock()
	return l.url, nil
}

// Link implements storage.Remote
func (r *Remote) Link(ctx context.Context, name string) (string, error) {
	if err := r.checkOpen(); err != nil {
		return "", err
	}
	if err := r.exists(ctx, name); err != nil {
		return "", err
	}
	if l, ok := r.cachedLink(name); ok {
		return l, nil
	}
	return "", storage.ErrNoLink
}

func (r *Remote) cachedLink(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[name]
	if !ok {
		return "", false
	}
	if !l.expires.IsZero() && !r.now().Before(l.expires) {
		delete(r.links, name)
		return "", false
	}
	return l.url, true
}

// Close implements storage.Remote
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// session is a multipart upload. Parts are numbered from 1 in append order.
type session struct {
	remote   *Remote
	key      string
	uploadID string
	parts    []types.CompletedPart
}

func (s *session) Append(ctx context.Context, chunk []byte) error {
	number := int32(len(s.parts) + 1)
	out, err := s.remote.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.remote.cfg.Bucket),
		Key:        aws.String(s.key),
		UploadId:   aws.String(s.uploadID),
		PartNumber: aws.Int32(number),
		Body:       bytes.NewReader(chunk),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", number, err)
	}
	s.parts = append(s.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(number),
	})
	return nil
}

func (s *session) Finish(ctx context.Context) error {
	_, err := s.remote.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.remote.cfg.Bucket),
		Key:             aws.String(s.key),
		UploadId:        aws.String(s.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: s.parts},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

func (s *session) Abort(ctx context.Context) error {
	_, err := s.remote.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.remote.cfg.Bucket),
		Key:      aws.String(s.key),
		UploadId: aws.String(s.uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}

// isNotFoundError returns true if the error indicates the object doesn't exist
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}
