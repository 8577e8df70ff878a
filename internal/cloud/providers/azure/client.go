package azure

import (
	"bytes"
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// Block is one staged, uncommitted block.
type Block struct {
	ID   string
	Size int64
}

// BlockAPI is the block-blob surface the Uploader needs. ContainerClient
// implements it on the Azure SDK; tests use an in-memory fake.
type BlockAPI interface {
	// Container returns the container name.
	Container() string
	StageBlock(ctx context.Context, blobPath, blockID string, data []byte) error
	UncommittedBlocks(ctx context.Context, blobPath string) ([]Block, error)
	CommitBlockList(ctx context.Context, blobPath string, blockIDs []string, contentType string, metadata map[string]*string) error
	// BlobURL returns the blob URL without SAS query parameters.
	BlobURL(blobPath string) string
}

// ContainerClient wraps a container-scoped SAS client.
type ContainerClient struct {
	client    *container.Client
	name      string
	publicURL string
}

// NewContainerClient creates a client from a container SAS URL
// (https://{account}.blob.core.windows.net/{container}?{sas}). httpClient is
// used as the transport so uploads share one connection pool and proxy setup.
func NewContainerClient(containerURL string, httpClient *nethttp.Client) (*ContainerClient, error) {
	u, err := url.Parse(containerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Azure container URL: %w", err)
	}
	name := strings.Trim(u.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid Azure container URL: path must be the container name, got %q", u.Path)
	}

	opts := &container.ClientOptions{}
	if httpClient != nil {
		opts.ClientOptions = azcore.ClientOptions{Transport: httpClient}
	}
	client, err := container.NewClientWithNoCredential(containerURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	public := *u
	public.RawQuery = ""
	return &ContainerClient{client: client, name: name, publicURL: strings.TrimSuffix(public.String(), "/")}, nil
}

func (c *ContainerClient) Container() string { return c.name }

func (c *ContainerClient) StageBlock(ctx context.Context, blobPath, blockID string, data []byte) error {
	_, err := c.client.NewBlockBlobClient(blobPath).StageBlock(ctx, blockID, streaming.NopCloser(bytes.NewReader(data)), nil)
	return err
}

func (c *ContainerClient) UncommittedBlocks(ctx context.Context, blobPath string) ([]Block, error) {
	resp, err := c.client.NewBlockBlobClient(blobPath).GetBlockList(ctx, blockblob.BlockListTypeUncommitted, nil)
	if err != nil {
		return nil, err
	}
	blocks := make([]Block, 0, len(resp.UncommittedBlocks))
	for _, b := range resp.UncommittedBlocks {
		if b == nil || b.Name == nil {
			continue
		}
		var size int64
		if b.Size != nil {
			size = *b.Size
		}
		blocks = append(blocks, Block{ID: *b.Name, Size: size})
	}
	return blocks, nil
}

func (c *ContainerClient) CommitBlockList(ctx context.Context, blobPath string, blockIDs []string, contentType string, metadata map[string]*string) error {
	opts := &blockblob.CommitBlockListOptions{Metadata: metadata}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	_, err := c.client.NewBlockBlobClient(blobPath).CommitBlockList(ctx, blockIDs, opts)
	return err
}

func (c *ContainerClient) BlobURL(blobPath string) string {
	return c.publicURL + "/" + (&url.URL{Path: blobPath}).EscapedPath()
}

var _ BlockAPI = (*ContainerClient)(nil)
