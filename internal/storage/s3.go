package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"flowerpod/internal/config"
)

// deleteBatch is the DeleteObjects per-request limit.
const deleteBatch = 1000

// S3 stores images in an S3-compatible bucket. A directory is the key prefix
// "<prefix>/<dir>/" and is marked by a zero-byte object with that key so
// empty guides still have a directory.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Client builds a client from static credentials. A custom endpoint
// (R2, MinIO) switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3) Prefix() string { return s.prefix }

func (s *S3) dirKey(dir string) string {
	return s.prefix + "/" + dir + "/"
}

func (s *S3) fileKey(dir, name string) string {
	return s.dirKey(dir) + name
}

func (s *S3) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

func (s *S3) DirExists(ctx context.Context, dir string) (bool, error) {
	if err := checkSegment(dir); err != nil {
		return false, err
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.dirKey(dir)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list %s: %w", dir, err)
	}
	return len(out.Contents) > 0, nil
}

func (s *S3) CreateDir(ctx context.Context, dir string) error {
	ok, err := s.DirExists(ctx, dir)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("directory %s: %w", dir, ErrExist)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.dirKey(dir)),
		Body:   bytes.NewReader(nil),
	})
	return err
}

// MoveDir copies every object to the new prefix, then deletes the originals.
func (s *S3) MoveDir(ctx context.Context, from, to string) error {
	if err := checkSegments(from, to); err != nil {
		return err
	}
	keys, err := s.listKeys(ctx, s.dirKey(from))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("directory %s: %w", from, ErrNotExist)
	}
	exists, err := s.DirExists(ctx, to)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("directory %s: %w", to, ErrExist)
	}
	for _, k := range keys {
		dst := s.dirKey(to) + strings.TrimPrefix(k, s.dirKey(from))
		if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			CopySource: aws.String(s.bucket + "/" + k),
			Key:        aws.String(dst),
		}); err != nil {
			return fmt.Errorf("copy %s: %w", k, err)
		}
	}
	return s.deleteKeys(ctx, keys)
}

func (s *S3) RemoveDir(ctx context.Context, dir string) error {
	if err := checkSegment(dir); err != nil {
		return err
	}
	keys, err := s.listKeys(ctx, s.dirKey(dir))
	if err != nil {
		return err
	}
	return s.deleteKeys(ctx, keys)
}

func (s *S3) ListDirs(ctx context.Context) ([]string, error) {
	root := s.prefix + "/"
	var dirs []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(root),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", root, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), root), "/")
			if name != "" {
				dirs = append(dirs, name)
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (s *S3) WriteFile(ctx context.Context, dir, name string, data []byte) error {
	if err := checkSegments(dir, name); err != nil {
		return err
	}
	ok, err := s.DirExists(ctx, dir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("directory %s: %w", dir, ErrNotExist)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fileKey(dir, name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", dir, name, err)
	}
	return nil
}

func (s *S3) RemoveFile(ctx context.Context, dir, name string) error {
	ok, err := s.FileExists(ctx, dir, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("file %s/%s: %w", dir, name, ErrNotExist)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fileKey(dir, name)),
	})
	return err
}

func (s *S3) FileExists(ctx context.Context, dir, name string) (bool, error) {
	if err := checkSegments(dir, name); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fileKey(dir, name)),
	})
	if err != nil {
		var nf *types.NotFound
		var nsk *types.NoSuchKey
		if errors.As(err, &nf) || errors.As(err, &nsk) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
