// Package azure implements cloud.Uploader on Azure block blobs. Chunks are
// staged as blocks whose ids encode the chunk index; the blob is created by
// committing the block list once every byte is staged. Uncommitted blocks
// survive on the service (for up to seven days), which is what makes an
// interrupted upload resumable.
package azure

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/driftbox/driftbox/internal/cloud"
	"github.com/driftbox/driftbox/internal/constants"
)

// Scheme is the location scheme produced by this backend.
const Scheme = "azblob"

// Uploader uploads sources as block blobs into one container.
type Uploader struct {
	api       BlockAPI
	prefix    string
	chunkSize int64
}

// New creates an Uploader. chunkSize must match the upload runner's chunk
// size since block ids are derived from offsets.
func New(api BlockAPI, prefix string, chunkSize int64) (*Uploader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	return &Uploader{api: api, prefix: strings.Trim(prefix, "/"), chunkSize: chunkSize}, nil
}

func (u *Uploader) Scheme() string { return Scheme }

// BlockID returns the block id for chunk index i: base64 of the zero-padded
// decimal index, so every id in a blob has the same length.
func BlockID(i int64) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%010d", i)))
}

func blockIndex(id string) (int64, bool) {
	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil || len(raw) != 10 {
		return 0, false
	}
	i, err := strconv.ParseInt(string(raw), 10, 64)
	return i, err == nil
}

// ParseLocation parses azblob://container/path.
func ParseLocation(raw string) (containerName, blobPath string, err error) {
	u, perr := url.Parse(raw)
	if perr != nil || u.Scheme != Scheme || u.Host == "" {
		return "", "", fmt.Errorf("%w: invalid azure location %q", cloud.ErrProtocol, raw)
	}
	blobPath = strings.TrimPrefix(u.Path, "/")
	if blobPath == "" {
		return "", "", fmt.Errorf("%w: azure location %q has no blob path", cloud.ErrProtocol, raw)
	}
	return u.Host, blobPath, nil
}

func (u *Uploader) blobPath(location string) (string, error) {
	containerName, blobPath, err := ParseLocation(location)
	if err != nil {
		return "", err
	}
	if containerName != u.api.Container() {
		return "", fmt.Errorf("%w: location container %q does not match %q", cloud.ErrProtocol, containerName, u.api.Container())
	}
	return blobPath, nil
}

// Create derives the location; nothing exists remotely until the first block
// is staged.
func (u *Uploader) Create(_ context.Context, src cloud.Source) (string, error) {
	if blocks := (src.Size + u.chunkSize - 1) / u.chunkSize; blocks > constants.MaxAzureBlocks {
		return "", fmt.Errorf("%s needs %d blocks at chunk size %d, Azure allows %d", src.Name, blocks, u.chunkSize, constants.MaxAzureBlocks)
	}
	key := src.ObjectKey()
	if u.prefix != "" {
		key = path.Join(u.prefix, key)
	}
	loc := url.URL{Scheme: Scheme, Host: u.api.Container(), Path: "/" + key}
	return loc.String(), nil
}

// contiguous returns the ids of blocks 0..n present on the service, stopping
// after the first block shorter than a full chunk, and their total size.
func (u *Uploader) contiguous(blocks []Block) ([]string, int64) {
	sizes := make(map[int64]Block, len(blocks))
	for _, b := range blocks {
		if i, ok := blockIndex(b.ID); ok {
			sizes[i] = b
		}
	}
	var ids []string
	var total int64
	for i := int64(0); ; i++ {
		b, ok := sizes[i]
		if !ok {
			break
		}
		ids = append(ids, b.ID)
		total += b.Size
		if b.Size != u.chunkSize {
			break
		}
	}
	return ids, total
}

func (u *Uploader) uncommitted(ctx context.Context, blobPath string) ([]Block, error) {
	blocks, err := u.api.UncommittedBlocks(ctx, blobPath)
	if err != nil {
		// A blob with nothing staged yet does not exist at all.
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return blocks, nil
}

// Offset sums the contiguous uncommitted blocks.
func (u *Uploader) Offset(ctx context.Context, location string) (int64, error) {
	blobPath, err := u.blobPath(location)
	if err != nil {
		return 0, err
	}
	blocks, err := u.uncommitted(ctx, blobPath)
	if err != nil {
		return 0, fmt.Errorf("failed to get block list: %w", err)
	}
	_, total := u.contiguous(blocks)
	return total, nil
}

// WriteChunk stages chunk as block offset/chunkSize.
func (u *Uploader) WriteChunk(ctx context.Context, location string, offset int64, chunk []byte) (int64, error) {
	blobPath, err := u.blobPath(location)
	if err != nil {
		return 0, err
	}
	if offset%u.chunkSize != 0 {
		return 0, fmt.Errorf("%w: offset %d is not aligned to block size %d", cloud.ErrProtocol, offset, u.chunkSize)
	}
	index := offset / u.chunkSize
	if err := u.api.StageBlock(ctx, blobPath, BlockID(index), chunk); err != nil {
		return 0, fmt.Errorf("failed to stage block %d: %w", index, mapError(err))
	}
	return offset + int64(len(chunk)), nil
}

// Finish commits the staged blocks and returns the blob URL.
func (u *Uploader) Finish(ctx context.Context, location string, src cloud.Source) (string, error) {
	blobPath, err := u.blobPath(location)
	if err != nil {
		return "", err
	}
	blocks, err := u.uncommitted(ctx, blobPath)
	if err != nil {
		return "", fmt.Errorf("failed to get block list: %w", err)
	}
	ids, total := u.contiguous(blocks)
	if total != src.Size {
		return "", fmt.Errorf("%w: Azure holds %d of %d bytes", cloud.ErrProtocol, total, src.Size)
	}

	metadata := make(map[string]*string)
	for k, v := range src.Metadata() {
		metadata[strings.ToLower(k)] = to.Ptr(url.QueryEscape(v))
	}
	if err := u.api.CommitBlockList(ctx, blobPath, ids, src.MimeType, metadata); err != nil {
		return "", fmt.Errorf("failed to commit block list: %w", mapError(err))
	}
	return u.api.BlobURL(blobPath), nil
}

// Terminate is a no-op: the service garbage collects uncommitted blocks and
// there is no API to discard them individually.
func (u *Uploader) Terminate(_ context.Context, location string) error {
	_, err := u.blobPath(location)
	return err
}

func mapError(err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
		return fmt.Errorf("%w: %v", cloud.ErrNotFound, err)
	case bloberror.HasCode(err, bloberror.InvalidBlockID, bloberror.InvalidBlockList, bloberror.BlockCountExceedsLimit, bloberror.RequestBodyTooLarge):
		return fmt.Errorf("%w: %v", cloud.ErrProtocol, err)
	default:
		return err
	}
}
