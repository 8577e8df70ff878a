// Package s3 implements cloud.Uploader on S3 multipart uploads. Each chunk is
// one part, so the chunk size must satisfy the S3 minimum part size. The
// upload id lives in the location string, which makes it resumable across
// process restarts.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/driftbox/driftbox/internal/cloud"
	"github.com/driftbox/driftbox/internal/constants"
)

// Scheme is the location scheme produced by this backend.
const Scheme = "s3"

// API is the subset of *s3.Client used for multipart uploads.
type API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, in *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ API = (*s3.Client)(nil)

// Uploader uploads sources as multipart uploads into one bucket.
type Uploader struct {
	api       API
	bucket    string
	prefix    string
	chunkSize int64
}

// New creates an Uploader. chunkSize must match the chunk size of the upload
// runner since part numbers are derived from offsets.
func New(api API, bucket, prefix string, chunkSize int64) (*Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if chunkSize < constants.MinS3PartSize {
		return nil, fmt.Errorf("s3 chunk size %d is below the %d byte minimum part size", chunkSize, constants.MinS3PartSize)
	}
	return &Uploader{
		api:       api,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		chunkSize: chunkSize,
	}, nil
}

func (u *Uploader) Scheme() string { return Scheme }

// Location identifies one multipart upload.
type Location struct {
	Bucket   string
	Key      string
	UploadID string
}

func (l Location) String() string {
	v := url.Values{}
	v.Set("uploadId", l.UploadID)
	return (&url.URL{Scheme: Scheme, Host: l.Bucket, Path: "/" + l.Key, RawQuery: v.Encode()}).String()
}

// ParseLocation parses s3://bucket/key?uploadId=...
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != Scheme {
		return Location{}, fmt.Errorf("%w: invalid s3 location %q", cloud.ErrProtocol, raw)
	}
	loc := Location{
		Bucket:   u.Host,
		Key:      strings.TrimPrefix(u.Path, "/"),
		UploadID: u.Query().Get("uploadId"),
	}
	if loc.Bucket == "" || loc.Key == "" || loc.UploadID == "" {
		return Location{}, fmt.Errorf("%w: incomplete s3 location %q", cloud.ErrProtocol, raw)
	}
	return loc, nil
}

func (u *Uploader) objectKey(src cloud.Source) string {
	if u.prefix == "" {
		return src.ObjectKey()
	}
	return path.Join(u.prefix, src.ObjectKey())
}

// Create starts a multipart upload. Metadata values are query-escaped since
// S3 user metadata must be ASCII.
func (u *Uploader) Create(ctx context.Context, src cloud.Source) (string, error) {
	if parts := (src.Size + u.chunkSize - 1) / u.chunkSize; parts > constants.MaxS3Parts {
		return "", fmt.Errorf("%s needs %d parts at chunk size %d, S3 allows %d", src.Name, parts, u.chunkSize, constants.MaxS3Parts)
	}

	metadata := make(map[string]string)
	for k, v := range src.Metadata() {
		metadata[strings.ToLower(k)] = url.QueryEscape(v)
	}

	key := u.objectKey(src)
	in := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		Metadata: metadata,
	}
	if src.MimeType != "" {
		in.ContentType = aws.String(src.MimeType)
	}

	out, err := u.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", mapError(err))
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return "", fmt.Errorf("%w: CreateMultipartUpload returned no upload id", cloud.ErrProtocol)
	}
	return Location{Bucket: u.bucket, Key: key, UploadID: *out.UploadId}.String(), nil
}

// listParts returns every part of the upload in part-number order.
func (u *Uploader) listParts(ctx context.Context, loc Location) ([]types.Part, error) {
	var parts []types.Part
	var marker *string
	for {
		out, err := u.api.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(loc.Bucket),
			Key:              aws.String(loc.Key),
			UploadId:         aws.String(loc.UploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, mapError(err)
		}
		parts = append(parts, out.Parts...)
		if !aws.ToBool(out.IsTruncated) || out.NextPartNumberMarker == nil {
			return parts, nil
		}
		marker = out.NextPartNumberMarker
	}
}

// contiguous returns the leading run of parts numbered 1..n, stopping after
// the first part shorter than a full chunk.
func (u *Uploader) contiguous(parts []types.Part) ([]types.Part, int64) {
	var run []types.Part
	var total int64
	for i, p := range parts {
		if aws.ToInt32(p.PartNumber) != int32(i+1) {
			break
		}
		size := aws.ToInt64(p.Size)
		run = append(run, p)
		total += size
		if size != u.chunkSize {
			break
		}
	}
	return run, total
}

// Offset sums the contiguous parts S3 has stored.
func (u *Uploader) Offset(ctx context.Context, location string) (int64, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return 0, err
	}
	parts, err := u.listParts(ctx, loc)
	if err != nil {
		return 0, fmt.Errorf("failed to list parts: %w", err)
	}
	_, total := u.contiguous(parts)
	return total, nil
}

// WriteChunk uploads chunk as part offset/chunkSize+1.
func (u *Uploader) WriteChunk(ctx context.Context, location string, offset int64, chunk []byte) (int64, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return 0, err
	}
	if offset%u.chunkSize != 0 {
		return 0, fmt.Errorf("%w: offset %d is not aligned to part size %d", cloud.ErrProtocol, offset, u.chunkSize)
	}
	partNumber := int32(offset/u.chunkSize + 1)

	if _, err := u.uploadPart(ctx, loc, partNumber, chunk); err != nil {
		return 0, err
	}
	return offset + int64(len(chunk)), nil
}

func (u *Uploader) uploadPart(ctx context.Context, loc Location, partNumber int32, chunk []byte) (*s3.UploadPartOutput, error) {
	out, err := u.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(loc.Bucket),
		Key:           aws.String(loc.Key),
		UploadId:      aws.String(loc.UploadID),
		PartNumber:    aws.Int32(partNumber),
		ContentLength: aws.Int64(int64(len(chunk))),
		Body:          bytes.NewReader(chunk),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload part %d: %w", partNumber, mapError(err))
	}
	return out, nil
}

// Finish completes the multipart upload from the parts S3 reports.
func (u *Uploader) Finish(ctx context.Context, location string, src cloud.Source) (string, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return "", err
	}

	parts, err := u.listParts(ctx, loc)
	if err != nil {
		return "", fmt.Errorf("failed to list parts: %w", err)
	}
	run, total := u.contiguous(parts)

	// S3 needs at least one part; an empty file is one empty part.
	if len(run) == 0 && src.Size == 0 {
		out, err := u.uploadPart(ctx, loc, 1, nil)
		if err != nil {
			return "", err
		}
		run = []types.Part{{PartNumber: aws.Int32(1), ETag: out.ETag, Size: aws.Int64(0)}}
	}
	if total != src.Size {
		return "", fmt.Errorf("%w: S3 holds %d of %d bytes", cloud.ErrProtocol, total, src.Size)
	}

	completed := make([]types.CompletedPart, len(run))
	for i, p := range run {
		completed[i] = types.CompletedPart{ETag: p.ETag, PartNumber: p.PartNumber}
	}

	_, err = u.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(loc.Bucket),
		Key:             aws.String(loc.Key),
		UploadId:        aws.String(loc.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete multipart upload: %w", mapError(err))
	}
	return fmt.Sprintf("%s://%s/%s", Scheme, loc.Bucket, loc.Key), nil
}

// Terminate aborts the multipart upload. A missing upload is not an error.
func (u *Uploader) Terminate(ctx context.Context, location string) error {
	loc, err := ParseLocation(location)
	if err != nil {
		return err
	}
	_, err = u.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(loc.Bucket),
		Key:      aws.String(loc.Key),
		UploadId: aws.String(loc.UploadID),
	})
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, cloud.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}

// mapError turns NoSuchUpload into cloud.ErrNotFound and client-side request
// errors into cloud.ErrProtocol; everything else is left for retry
// classification.
func mapError(err error) error {
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return fmt.Errorf("%w: %v", cloud.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchUpload", "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%w: %v", cloud.ErrNotFound, err)
		case "InvalidPart", "InvalidPartOrder", "EntityTooSmall", "EntityTooLarge", "InvalidArgument":
			return fmt.Errorf("%w: %v", cloud.ErrProtocol, err)
		}
	}
	return err
}
