package s3

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/driftbox/driftbox/internal/config"
)

// NewClient builds an S3 client from the [s3] config section.
//
// The client:
//   - Reuses httpClient so uploads share one connection pool (and proxy setup)
//   - Uses static credentials when access_key_id is set, otherwise the default
//     AWS credential chain (env, shared config, instance role)
//   - Switches to path-style addressing when a custom endpoint is set
//     (MinIO and other S3-compatible stores)
func NewClient(ctx context.Context, cfg config.S3Config, httpClient *nethttp.Client) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	if cfg.AccessKeyID != "" {
		static := awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(static, func(o *aws.CredentialsCacheOptions) {
			o.ExpiryWindow = 5 * time.Minute
		})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
