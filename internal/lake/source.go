// Package lake turns the song and log JSON files into partitioned Parquet
// tables, the single process counterpart of the Spark job.
package lake

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sparkify/internal/common"
	"sparkify/internal/songdata"
	"sparkify/pkg/errors"
)

const s3Scheme = "s3://"

// Source lists and opens input JSON files below a data root.
type Source interface {
	// List returns the JSON files below dir, relative to the root.
	List(ctx context.Context, dir string) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	String() string
}

// S3ReadAPI is the subset of the S3 client used to read input.
type S3ReadAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewSource returns an S3 source for s3://bucket/prefix inputs and a local
// directory source otherwise. client may be nil for local input.
func NewSource(input string, client S3ReadAPI) (Source, error) {
	if bucket, prefix, ok := ParseS3URL(input); ok {
		if client == nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "S3 input needs AWS credentials").
				WithContext("input", input)
		}
		return &S3Source{client: client, Bucket: bucket, Prefix: prefix}, nil
	}

	root, err := common.CleanPath(input)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "Invalid input directory").
			WithContext("input", input)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.ErrCodeFileNotFound, "Input directory not found").
			WithContext("input", input).
			WithSuggestions("Set [LAKE] INPUT to a data directory or s3://bucket/prefix")
	}
	return &LocalSource{Root: root}, nil
}

// ParseS3URL splits s3://bucket/prefix. The prefix has no leading slash.
func ParseS3URL(u string) (bucket, prefix string, ok bool) {
	if !strings.HasPrefix(u, s3Scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(u, s3Scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, strings.Trim(prefix, "/"), true
}

// LocalSource reads from a directory tree.
type LocalSource struct {
	Root string
}

func (s *LocalSource) List(_ context.Context, dir string) ([]string, error) {
	files, err := songdata.FindJSON(filepath.Join(s.Root, dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(s.Root, f)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to resolve data file")
		}
		names = append(names, filepath.ToSlash(rel))
	}
	return names, nil
}

func (s *LocalSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := common.JoinPath(s.Root, filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileNotFound, "Failed to open data file").
			WithContext("file", p)
	}
	return f, nil
}

func (s *LocalSource) String() string { return s.Root }

// S3Source reads objects under a bucket prefix.
type S3Source struct {
	client S3ReadAPI
	Bucket string
	Prefix string
}

func (s *S3Source) key(name string) string {
	if s.Prefix == "" {
		return name
	}
	return path.Join(s.Prefix, name)
}

func (s *S3Source) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s.key(dir) + "/"
	var names []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.CloudError("Failed to list input objects", s.String(), err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.EqualFold(path.Ext(key), ".json") {
				continue
			}
			name := key
			if s.Prefix != "" {
				name = strings.TrimPrefix(key, s.Prefix+"/")
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3Source) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, errors.CloudError("Failed to read input object", s.Bucket+"/"+s.key(name), err)
	}
	return out.Body, nil
}

func (s *S3Source) String() string { return s3Scheme + path.Join(s.Bucket, s.Prefix) }
