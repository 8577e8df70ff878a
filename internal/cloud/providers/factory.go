// Package providers selects and builds the cloud.Uploader for the configured
// backend.
package providers

import (
	"context"
	"fmt"
	nethttp "net/http"

	"github.com/driftbox/driftbox/internal/cloud"
	"github.com/driftbox/driftbox/internal/cloud/providers/azure"
	"github.com/driftbox/driftbox/internal/cloud/providers/s3"
	"github.com/driftbox/driftbox/internal/cloud/providers/tus"
	"github.com/driftbox/driftbox/internal/config"
)

// NewUploader creates the uploader for cfg.Backend. httpClient is shared by
// every backend so proxy and pooling settings apply uniformly.
func NewUploader(ctx context.Context, cfg *config.Config, httpClient *nethttp.Client) (cloud.Uploader, error) {
	switch cfg.Backend {
	case config.BackendTus, "":
		uploadURL, err := cfg.UploadURL()
		if err != nil {
			return nil, err
		}
		filesURL, err := cfg.FilesURL()
		if err != nil {
			return nil, err
		}
		return tus.New(uploadURL, filesURL, httpClient)

	case config.BackendS3:
		client, err := s3.NewClient(ctx, cfg.S3, httpClient)
		if err != nil {
			return nil, err
		}
		return s3.New(client, cfg.S3.Bucket, cfg.S3.Prefix, cfg.ChunkSize)

	case config.BackendAzure:
		client, err := azure.NewContainerClient(cfg.Azure.ContainerURL, httpClient)
		if err != nil {
			return nil, err
		}
		return azure.New(client, cfg.Azure.Prefix, cfg.ChunkSize)

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}
