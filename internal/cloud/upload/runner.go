// Package upload runs one resumable transfer: it resolves (or creates) the
// remote upload resource, sends the source in sequential chunks under a fixed
// retry schedule, finalizes the upload and reports everything as a stream of
// cloud.Result values.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/driftbox/driftbox/internal/cloud"
	"github.com/driftbox/driftbox/internal/cloud/state"
	"github.com/driftbox/driftbox/internal/constants"
	httpx "github.com/driftbox/driftbox/internal/http"
	"github.com/driftbox/driftbox/internal/logging"
)

// errLocalRead marks failures reading the local payload. Never retried.
var errLocalRead = errors.New("failed to read local file")

// Job is one transfer request.
type Job struct {
	Source cloud.Source

	// Location continues a known remote resource (resume after pause).
	Location string

	// Fresh skips resume-store rediscovery and always creates a new resource.
	Fresh bool
}

// Options tune the chunk loop. Zero values take the defaults from constants.
type Options struct {
	ChunkSize   int64
	RetryDelays []time.Duration
	Store       *state.Store
	Logger      *logging.Logger
	TimingOut   io.Writer
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = constants.DefaultChunkSize
	}
	if o.RetryDelays == nil {
		o.RetryDelays = constants.DefaultRetryDelays
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// Classify is the retry classification used for chunk sends: protocol
// violations, missing resources and local read failures are fatal, the rest
// defers to httpx.ClassifyError.
func Classify(err error) httpx.ErrorType {
	if errors.Is(err, cloud.ErrProtocol) || errors.Is(err, cloud.ErrNotFound) || errors.Is(err, errLocalRead) {
		return httpx.ErrorTypeFatal
	}
	return httpx.ClassifyError(err)
}

// Run starts the transfer in a new goroutine and returns its result stream.
// The stream ends with exactly one Completed or Failed result, unless ctx is
// cancelled, in which case it is closed without a terminal result. Once a
// remote resource is known its location is always delivered, even after a
// cancel, and the consumer owns discarding it.
func Run(ctx context.Context, up cloud.Uploader, job Job, opts Options) <-chan cloud.Result {
	opts = opts.withDefaults()
	out := make(chan cloud.Result, 4)

	r := &runner{
		ctx:  ctx,
		up:   up,
		job:  job,
		opts: opts,
		out:  out,
		log:  opts.Logger,
	}

	go func() {
		defer close(out)
		r.run()
	}()

	return out
}

type runner struct {
	ctx  context.Context
	up   cloud.Uploader
	job  Job
	opts Options
	out  chan<- cloud.Result
	log  *logging.Logger

	location string
}

func (r *runner) emit(res cloud.Result) bool {
	select {
	case r.out <- res:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *runner) fail(err error) {
	if r.ctx.Err() != nil {
		return
	}
	r.log.Warn().Err(err).Str("location", r.location).Msg("upload failed")
	r.emit(cloud.Result{Kind: cloud.ResultFailed, Location: r.location, Total: r.job.Source.Size, Err: err})
}

func (r *runner) retryConfig(beforeRetry func(ctx context.Context, attempt int, lastErr error) error) httpx.DelayConfig {
	return httpx.DelayConfig{
		Delays:      r.opts.RetryDelays,
		Classify:    Classify,
		BeforeRetry: beforeRetry,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			r.log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying")
		},
	}
}

func (r *runner) run() {
	src := r.job.Source
	if src.Open == nil {
		r.fail(fmt.Errorf("%w: %s has no payload", errLocalRead, src.Name))
		return
	}

	offset, err := r.resolve()
	if err != nil {
		r.fail(err)
		return
	}
	// The location is announced even when ctx is already done so the
	// consumer can settle a resource created by a cancelled transfer. It is
	// the first result, so the buffer always has room.
	r.out <- cloud.Result{Kind: cloud.ResultProgress, Location: r.location, Offset: offset, Total: src.Size}
	if r.ctx.Err() != nil {
		return
	}

	payload, err := src.Open()
	if err != nil {
		r.fail(fmt.Errorf("%w: %v", errLocalRead, err))
		return
	}
	defer payload.Close()

	timer := cloud.NewChunkTimer(r.opts.TimingOut, src.Name)
	chunkSize := r.opts.ChunkSize
	if chunkSize > src.Size && src.Size > 0 {
		chunkSize = src.Size
	}
	buf := make([]byte, chunkSize)
	index := 0

	for offset < src.Size {
		index++
		start := time.Now()
		sent := offset

		op := func() error {
			if offset >= src.Size {
				return nil
			}
			n := min(chunkSize, src.Size-offset)
			chunk := buf[:n]
			if read, err := payload.ReadAt(chunk, offset); err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
				return fmt.Errorf("%w at offset %d: %v", errLocalRead, offset, err)
			}
			acked, err := r.up.WriteChunk(r.ctx, r.location, offset, chunk)
			if err != nil {
				return err
			}
			if acked != offset+n {
				return fmt.Errorf("%w: server acknowledged offset %d, expected %d", cloud.ErrProtocol, acked, offset+n)
			}
			offset = acked
			return nil
		}

		// The server may have stored the chunk even though the ack was lost,
		// so the next attempt starts from its authoritative offset.
		requery := func(ctx context.Context, attempt int, lastErr error) error {
			current, err := r.up.Offset(ctx, r.location)
			if err != nil {
				if Classify(err) == httpx.ErrorTypeFatal {
					return err
				}
				return nil
			}
			if current < 0 || current > src.Size {
				return fmt.Errorf("%w: server offset %d outside [0, %d]", cloud.ErrProtocol, current, src.Size)
			}
			if current != offset {
				r.log.Debug().Int64("from", offset).Int64("to", current).Msg("offset moved on server")
				offset = current
			}
			return nil
		}

		if err := httpx.ExecuteWithDelays(r.ctx, r.retryConfig(requery), op); err != nil {
			r.fail(err)
			return
		}

		timer.RecordChunk(index, time.Since(start), offset-sent)
		if err := r.opts.Store.Remember(src.Fingerprint(), r.location, src.Name, src.Size); err != nil {
			r.log.Debug().Err(err).Msg("failed to refresh resume record")
		}
		if !r.emit(cloud.Result{Kind: cloud.ResultProgress, Location: r.location, Offset: offset, Total: src.Size}) {
			return
		}
	}

	var locator string
	err = httpx.ExecuteWithDelays(r.ctx, r.retryConfig(nil), func() error {
		var ferr error
		locator, ferr = r.up.Finish(r.ctx, r.location, src)
		return ferr
	})
	if err != nil {
		r.fail(fmt.Errorf("failed to finalize upload: %w", err))
		return
	}
	timer.Summary()

	if err := r.opts.Store.Forget(src.Fingerprint(), r.location); err != nil {
		r.log.Debug().Err(err).Msg("failed to forget resume record")
	}
	r.log.Debug().Str("locator", locator).Msg("upload completed")
	r.emit(cloud.Result{Kind: cloud.ResultCompleted, Location: r.location, Offset: src.Size, Total: src.Size, Locator: locator})
}

// resolve picks the remote resource to continue (explicit location, then a
// rediscovered one) and falls back to creating a new resource. It sets
// r.location and returns the server offset.
func (r *runner) resolve() (int64, error) {
	src := r.job.Source
	fingerprint := src.Fingerprint()

	candidates := make([]string, 0, 2)
	if r.job.Location != "" {
		candidates = append(candidates, r.job.Location)
	}
	if !r.job.Fresh {
		if rec, ok := r.opts.Store.FindPrevious(fingerprint, r.up.Scheme()); ok && rec.Location != r.job.Location {
			candidates = append(candidates, rec.Location)
		}
	}

	for _, loc := range candidates {
		offset, err := r.validate(loc)
		if err == nil {
			r.location = loc
			r.log.Debug().Str("location", loc).Int64("offset", offset).Msg("resuming upload")
			return offset, nil
		}
		if r.ctx.Err() != nil {
			return 0, r.ctx.Err()
		}
		if !errors.Is(err, cloud.ErrNotFound) && !errors.Is(err, cloud.ErrProtocol) {
			return 0, fmt.Errorf("failed to query upload offset: %w", err)
		}
		r.log.Info().Err(err).Str("location", loc).Msg("previous upload unusable, starting over")
		if ferr := r.opts.Store.Forget(fingerprint, loc); ferr != nil {
			r.log.Debug().Err(ferr).Msg("failed to forget resume record")
		}
	}

	createTimer := cloud.StartTimer(r.opts.TimingOut, src.Name+" create")
	var location string
	err := httpx.ExecuteWithDelays(r.ctx, r.retryConfig(nil), func() error {
		var cerr error
		location, cerr = r.up.Create(r.ctx, src)
		return cerr
	})
	createTimer.Stop()
	if err != nil {
		return 0, fmt.Errorf("failed to create upload: %w", err)
	}

	r.location = location
	if err := r.opts.Store.Remember(fingerprint, location, src.Name, src.Size); err != nil {
		r.log.Warn().Err(err).Msg("failed to save resume record")
	}
	return 0, nil
}

func (r *runner) validate(location string) (int64, error) {
	var offset int64
	err := httpx.ExecuteWithDelays(r.ctx, r.retryConfig(nil), func() error {
		var oerr error
		offset, oerr = r.up.Offset(r.ctx, location)
		return oerr
	})
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset > r.job.Source.Size {
		return 0, fmt.Errorf("%w: server offset %d outside [0, %d]", cloud.ErrProtocol, offset, r.job.Source.Size)
	}
	return offset, nil
}
