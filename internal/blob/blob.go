// Package blob reads toolchain artifacts from an S3-compatible object
// store: streaming object fetches plus discovery of available nightly
// versions from the bucket listing.
package blob

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/x/gnu"
)

// versionedRE splits an artifact name into family and version,
// e.g. "gcc-trunk-20260815" -> ("gcc-trunk", "20260815").
var versionedRE = regexp.MustCompile(`^(.*)-([0-9.]+)$`)

// API is the slice of the S3 client the store uses; tests substitute a fake.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store reads artifacts from one bucket under one key prefix.
//
// The available-versions listing is fetched once per process and memoized;
// Reset drops the memo (for tests and long-lived callers).
type Store struct {
	api    API
	bucket string
	prefix string
	log    hclog.Logger

	mu       sync.Mutex
	versions map[string][]string
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, bucket, prefix string, log hclog.Logger) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithAPI(s3.NewFromConfig(cfg), bucket, prefix, log), nil
}

// NewWithAPI creates a Store over an explicit API implementation.
func NewWithAPI(api API, bucket, prefix string, log hclog.Logger) *Store {
	return &Store{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
	}
}

// Get opens the object at key (relative to the store prefix) for reading.
// The caller closes the returned stream.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	full := s.fullKey(key)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get s3://%s/%s: %w", s.bucket, full, err)
	}
	length := int64(0)
	if out.ContentLength != nil {
		length = *out.ContentLength
	}
	s.log.Info("fetching", "bucket", s.bucket, "key", full, "bytes", length)
	return out.Body, length, nil
}

// AvailableVersions returns the versions published for a compiler family,
// sorted ascending in GNU version order.
func (s *Store) AvailableVersions(ctx context.Context, family string) ([]string, error) {
	all, err := s.available(ctx)
	if err != nil {
		return nil, err
	}
	versions := append([]string(nil), all[family]...)
	gnu.Sort(versions)
	return versions, nil
}

// Reset drops the memoized bucket listing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = nil
}

func (s *Store) available(ctx context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions != nil {
		return s.versions, nil
	}

	versions := make(map[string][]string)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}
	for {
		out, err := s.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			name := s.artifactName(*obj.Key)
			if name == "" {
				continue
			}
			if m := versionedRE.FindStringSubmatch(name); m != nil {
				versions[m[1]] = append(versions[m[1]], m[2])
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	s.versions = versions
	return versions, nil
}

// artifactName strips the store prefix and tarball extension from an object
// key, returning "" for keys that are not tarballs.
func (s *Store) artifactName(key string) string {
	if s.prefix != "" {
		key = strings.TrimPrefix(key, s.prefix+"/")
	}
	for _, ext := range []string{".tar.xz", ".tar.gz", ".tar.bz2"} {
		if strings.HasSuffix(key, ext) {
			return strings.TrimSuffix(key, ext)
		}
	}
	return ""
}

func (s *Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
