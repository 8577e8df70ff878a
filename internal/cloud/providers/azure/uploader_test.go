package azure

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/driftbox/driftbox/internal/cloud"
	"github.com/driftbox/driftbox/internal/cloud/upload"
)

func responseError(code bloberror.Code, status int) error {
	req := httptest.NewRequest(nethttp.MethodGet, "https://acct.blob.core.windows.net/media/x", nil)
	return &azcore.ResponseError{
		ErrorCode:   string(code),
		StatusCode:  status,
		RawResponse: &nethttp.Response{StatusCode: status, Request: req},
	}
}

// fakeBlocks keeps staged blocks and committed blobs in memory.
type fakeBlocks struct {
	mu         sync.Mutex
	staged     map[string]map[string][]byte
	committed  map[string][]byte
	metadata   map[string]map[string]*string
	types      map[string]string
	failStages int
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{
		staged:    make(map[string]map[string][]byte),
		committed: make(map[string][]byte),
		metadata:  make(map[string]map[string]*string),
		types:     make(map[string]string),
	}
}

func (f *fakeBlocks) Container() string { return "media" }

func (f *fakeBlocks) StageBlock(_ context.Context, blobPath, blockID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStages > 0 {
		f.failStages--
		return errors.New("connection reset by peer")
	}
	if f.staged[blobPath] == nil {
		f.staged[blobPath] = make(map[string][]byte)
	}
	f.staged[blobPath][blockID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlocks) UncommittedBlocks(_ context.Context, blobPath string) ([]Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	staged, ok := f.staged[blobPath]
	if !ok {
		return nil, responseError(bloberror.BlobNotFound, 404)
	}
	var blocks []Block
	for id, data := range staged {
		blocks = append(blocks, Block{ID: id, Size: int64(len(data))})
	}
	// The service does not promise any order
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID > blocks[j].ID })
	return blocks, nil
}

func (f *fakeBlocks) CommitBlockList(_ context.Context, blobPath string, blockIDs []string, contentType string, metadata map[string]*string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	for _, id := range blockIDs {
		data, ok := f.staged[blobPath][id]
		if !ok {
			return responseError(bloberror.InvalidBlockList, 400)
		}
		buf.Write(data)
	}
	f.committed[blobPath] = buf.Bytes()
	f.metadata[blobPath] = metadata
	f.types[blobPath] = contentType
	delete(f.staged, blobPath)
	return nil
}

func (f *fakeBlocks) BlobURL(blobPath string) string {
	return "https://acct.blob.core.windows.net/media/" + blobPath
}

func TestBlockID(t *testing.T) {
	if got := BlockID(7); got != "MDAwMDAwMDAwNw==" {
		t.Errorf("BlockID(7) = %q", got)
	}
	for _, i := range []int64{0, 1, 42, 49999} {
		got, ok := blockIndex(BlockID(i))
		if !ok || got != i {
			t.Errorf("blockIndex(BlockID(%d)) = %d, %v", i, got, ok)
		}
	}
	if _, ok := blockIndex("not base64!"); ok {
		t.Error("expected invalid id to be rejected")
	}
}

func TestParseLocation(t *testing.T) {
	c, p, err := ParseLocation("azblob://media/incoming/a%20b.txt")
	if err != nil || c != "media" || p != "incoming/a b.txt" {
		t.Errorf("got %q %q %v", c, p, err)
	}
	for _, bad := range []string{"azblob://media", "s3://media/x", "azblob:///x"} {
		if _, _, err := ParseLocation(bad); !errors.Is(err, cloud.ErrProtocol) {
			t.Errorf("ParseLocation(%q) = %v, want ErrProtocol", bad, err)
		}
	}
}

func TestUploadLifecycle(t *testing.T) {
	api := newFakeBlocks()
	u, err := New(api, "incoming", 4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	data := []byte("0123456789")
	src := cloud.BytesSource("a.txt", "text/plain", data)
	src.RelativePath = "docs/a.txt"

	location, err := u.Create(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if location != "azblob://media/incoming/docs/a.txt" {
		t.Errorf("unexpected location %q", location)
	}

	off, err := u.Offset(ctx, location)
	if err != nil || off != 0 {
		t.Fatalf("Offset before staging = %d, %v", off, err)
	}

	for off < src.Size {
		end := min(off+4, src.Size)
		if off, err = u.WriteChunk(ctx, location, off, data[off:end]); err != nil {
			t.Fatal(err)
		}
	}
	if got, _ := u.Offset(ctx, location); got != 10 {
		t.Errorf("Offset = %d, want 10", got)
	}

	locator, err := u.Finish(ctx, location, src)
	if err != nil {
		t.Fatal(err)
	}
	if locator != "https://acct.blob.core.windows.net/media/incoming/docs/a.txt" {
		t.Errorf("unexpected locator %q", locator)
	}
	if !bytes.Equal(api.committed["incoming/docs/a.txt"], data) {
		t.Error("committed blob differs")
	}
	if md := api.metadata["incoming/docs/a.txt"]; *md["relativepath"] != "docs%2Fa.txt" {
		t.Errorf("unexpected metadata %v", *md["relativepath"])
	}
	if api.types["incoming/docs/a.txt"] != "text/plain" {
		t.Error("content type not set")
	}
}

func TestOffset_StopsAtGap(t *testing.T) {
	api := newFakeBlocks()
	u, _ := New(api, "", 4)
	ctx := context.Background()
	location, _ := u.Create(ctx, cloud.BytesSource("a", "", make([]byte, 12)))

	_, _ = u.WriteChunk(ctx, location, 0, []byte("aaaa"))
	_, _ = u.WriteChunk(ctx, location, 8, []byte("cccc"))

	if off, _ := u.Offset(ctx, location); off != 4 {
		t.Errorf("Offset = %d, want 4 (block 1 missing)", off)
	}
}

func TestWriteChunk_Errors(t *testing.T) {
	u, _ := New(newFakeBlocks(), "", 4)
	ctx := context.Background()

	if _, err := u.WriteChunk(ctx, "azblob://media/a", 3, []byte("x")); !errors.Is(err, cloud.ErrProtocol) {
		t.Errorf("misaligned offset: got %v", err)
	}
	if _, err := u.WriteChunk(ctx, "azblob://other/a", 0, []byte("x")); !errors.Is(err, cloud.ErrProtocol) {
		t.Errorf("foreign container: got %v", err)
	}
}

func TestFinish_ZeroByteAndIncomplete(t *testing.T) {
	api := newFakeBlocks()
	u, _ := New(api, "", 4)
	ctx := context.Background()

	empty := cloud.BytesSource("empty", "", nil)
	loc, _ := u.Create(ctx, empty)
	if _, err := u.Finish(ctx, loc, empty); err != nil {
		t.Fatalf("zero-byte Finish: %v", err)
	}
	if blob, ok := api.committed["empty"]; !ok || len(blob) != 0 {
		t.Error("expected empty blob")
	}

	partial := cloud.BytesSource("partial", "", make([]byte, 8))
	loc, _ = u.Create(ctx, partial)
	_, _ = u.WriteChunk(ctx, loc, 0, make([]byte, 4))
	if _, err := u.Finish(ctx, loc, partial); !errors.Is(err, cloud.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	if err := mapError(responseError(bloberror.ContainerNotFound, 404)); !errors.Is(err, cloud.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mapError(responseError(bloberror.InvalidBlockList, 400)); !errors.Is(err, cloud.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
	plain := errors.New("boom")
	if mapError(plain) != plain {
		t.Error("unknown errors pass through")
	}
}

func TestTerminateIsNoop(t *testing.T) {
	u, _ := New(newFakeBlocks(), "", 4)
	if err := u.Terminate(context.Background(), "azblob://media/a"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRunWithRetries(t *testing.T) {
	api := newFakeBlocks()
	api.failStages = 3
	u, _ := New(api, "", 4)

	data := []byte("the quick brown fox")
	src := cloud.BytesSource("fox.txt", "text/plain", data)

	var last cloud.Result
	for r := range upload.Run(context.Background(), u, upload.Job{Source: src}, upload.Options{
		ChunkSize:   4,
		RetryDelays: []time.Duration{0, 0, 0, 0},
	}) {
		last = r
	}
	if last.Kind != cloud.ResultCompleted {
		t.Fatalf("expected completion, got %v", last)
	}
	if !bytes.Equal(api.committed["fox.txt"], data) {
		t.Error("committed blob differs")
	}
}
