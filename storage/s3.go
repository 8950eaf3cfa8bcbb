package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxDeleteBatch is the DeleteObjects request limit.
const maxDeleteBatch = 1000

type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Storage(client *s3.Client, bucket, prefix string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3Storage) key(p string) string {
	return path.Join(s.prefix, p)
}

func (s *S3Storage) Write(ctx context.Context, filepath string, data io.Reader) error {
	fullPath := s.key(filepath)

	// PutObject needs a seekable body to sign the payload
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, data); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullPath),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("putting object: %w", err)
	}

	return nil
}

func (s *S3Storage) Read(ctx context.Context, filepath string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(filepath)),
	})
	if err != nil {
		return nil, fmt.Errorf("getting object: %w", err)
	}

	return output.Body, nil
}

// Create buffers the object in memory and uploads it on Close.
func (s *S3Storage) Create(ctx context.Context, filepath string) (io.WriteCloser, error) {
	return &s3Object{ctx: ctx, store: s, path: filepath, buf: NewBuffer(MaxPutSize)}, nil
}

func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	var files []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if fullPrefix != "" && key != fullPrefix && !strings.HasPrefix(key, fullPrefix+"/") {
				continue
			}
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			files = append(files, key)
		}
	}

	return files, nil
}

func (s *S3Storage) Exists(ctx context.Context, filepath string) (bool, error) {
	fullPath := s.key(filepath)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullPath),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return false, fmt.Errorf("heading object: %w", err)
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(fullPath + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("listing objects: %w", err)
	}
	return len(out.Contents) > 0, nil
}

func (s *S3Storage) Delete(ctx context.Context, filepath string) error {
	files, err := s.List(ctx, filepath)
	if err != nil {
		return err
	}

	for start := 0; start < len(files); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(files))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, f := range files[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(s.key(f))})
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("deleting objects: %w", err)
		}
	}

	return nil
}

type s3Object struct {
	ctx   context.Context
	store *S3Storage
	path  string
	buf   *Buffer
}

func (o *s3Object) Write(p []byte) (int, error) {
	return o.buf.Write(p)
}

func (o *s3Object) Close() error {
	return o.store.Write(o.ctx, o.path, o.buf.Reader())
}
