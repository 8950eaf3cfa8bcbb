package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the client used for s3:// locations.
type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// IsDistributed reports whether uri carries a scheme prefix.
func IsDistributed(uri string) bool {
	scheme, _, ok := strings.Cut(uri, "://")
	return ok && scheme != "" && scheme != "file"
}

// Resolve picks the store for uri and returns the path inside it.
// "s3://bucket/key" selects S3, "file://path" and plain paths the local disk.
func Resolve(ctx context.Context, uri string, cfg S3Config) (Storage, string, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "file" {
		if ok {
			uri = rest
		}
		return NewLocal(""), uri, nil
	}

	switch scheme {
	case "s3":
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, "", fmt.Errorf("missing bucket in %q", uri)
		}
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return NewS3Storage(client, bucket, ""), strings.TrimSuffix(key, "/"), nil
	default:
		return nil, "", fmt.Errorf("unsupported scheme %q in %q", scheme, uri)
	}
}

func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
