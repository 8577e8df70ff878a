package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftbox/driftbox/internal/cloud"
	"github.com/driftbox/driftbox/internal/cloud/state"
	"github.com/driftbox/driftbox/internal/cloud/upload"
	"github.com/driftbox/driftbox/internal/constants"
	"github.com/driftbox/driftbox/internal/events"
	"github.com/driftbox/driftbox/internal/logging"
)

// Cancellation causes attached to a transfer's context.
var (
	ErrPaused    = errors.New("upload paused")
	ErrCancelled = errors.New("upload cancelled")
)

// Options configure an Orchestrator. Zero values take defaults.
type Options struct {
	ChunkSize   int64
	RetryDelays []time.Duration

	// Store enables resume records; nil disables rediscovery.
	Store *state.Store

	Logger   *logging.Logger
	EventBus *events.EventBus

	// TimingOut receives chunk timing lines when DRIFTBOX_TIMING=1.
	TimingOut io.Writer

	// Clock stamps sessions and speed samples. Defaults to time.Now.
	Clock func() time.Time

	// MinSampleInterval overrides the estimator's re-derive interval.
	MinSampleInterval time.Duration

	// TerminateTimeout bounds the background remote cleanup after Cancel.
	TerminateTimeout time.Duration
}

type runFunc func(ctx context.Context, up cloud.Uploader, job upload.Job, opts upload.Options) <-chan cloud.Result

// activeTransfer is the live transfer attached to an uploading session.
type activeTransfer struct {
	generation uint64
	cancel     context.CancelCauseFunc

	// location is the session's location when the transfer was detached.
	location string
}

// Orchestrator owns every upload session. All commands and all transfer
// results are applied under one lock, so observers always see a consistent
// registry. Sessions are only exposed as SessionView copies.
//
// Commands are no-ops on unknown ids or sessions in the wrong state; they
// report whether anything changed.
type Orchestrator struct {
	uploader cloud.Uploader
	opts     Options
	log      *logging.Logger
	bus      *events.EventBus
	now      func() time.Time
	run      runFunc

	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	registry *Registry
	active   map[string]*activeTransfer
	changed  chan struct{}
	closed   bool

	wg sync.WaitGroup
}

// New creates an Orchestrator that uploads through up.
func New(up cloud.Uploader, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = constants.TerminateTimeout
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		uploader: up,
		opts:     opts,
		log:      opts.Logger,
		bus:      opts.EventBus,
		now:      opts.Clock,
		run:      upload.Run,
		ctx:      ctx,
		stop:     stop,
		registry: NewRegistry(),
		active:   make(map[string]*activeTransfer),
		changed:  make(chan struct{}),
	}
}

// AddFiles creates one session per source and starts uploading each
// immediately. It returns the new session ids in order.
func (o *Orchestrator) AddFiles(sources []cloud.Source) []string {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}

	ids := make([]string, 0, len(sources))
	evts := make([]*events.SessionEvent, 0, 2*len(sources))
	for _, src := range sources {
		s := NewTransferSession(uuid.NewString(), src, o.now())
		s.estimator.MinInterval = o.opts.MinSampleInterval
		o.registry.Add(s)
		ids = append(ids, s.ID)
		evts = append(evts, o.eventLocked(events.EventSessionAdded, s))
		evts = append(evts, o.startLocked(s, upload.Job{Source: src}))
	}
	o.notifyLocked()
	o.mu.Unlock()

	o.publish(evts...)
	return ids
}

// Pause stops an uploading session's transfer. The remote upload is kept so
// Resume continues from the server's offset.
func (o *Orchestrator) Pause(id string) bool {
	o.mu.Lock()
	s := o.registry.Get(id)
	if s == nil || s.Status != StatusUploading {
		o.mu.Unlock()
		return false
	}
	o.detachLocked(id, ErrPaused)
	s.Status = StatusPaused
	s.stopMeasuring()
	evt := o.eventLocked(events.EventSessionPaused, s)
	o.notifyLocked()
	o.mu.Unlock()

	o.log.Session(id, evt.Name).Debug().Int64("offset", evt.Transferred).Msg("paused")
	o.publish(evt)
	return true
}

// Resume starts a new transfer for a paused session, continuing from its
// known location or a rediscovered one.
func (o *Orchestrator) Resume(id string) bool {
	o.mu.Lock()
	s := o.registry.Get(id)
	if o.closed || s == nil || s.Status != StatusPaused {
		o.mu.Unlock()
		return false
	}
	evt := o.startLocked(s, upload.Job{Source: s.Source, Location: s.Location})
	o.notifyLocked()
	o.mu.Unlock()

	o.log.Session(id, evt.Name).Debug().Msg("resumed")
	o.publish(evt)
	return true
}

// Cancel removes a session in any state. Its transfer is stopped and, unless
// it completed, the remote upload is discarded in the background.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	s := o.registry.Get(id)
	if o.closed || s == nil {
		o.mu.Unlock()
		return false
	}
	// A live transfer settles its own remote upload once its stream ends,
	// including one whose creation raced this cancel.
	_, live := o.active[id]
	o.detachLocked(id, ErrCancelled)
	o.registry.Remove(id)
	evt := o.eventLocked(events.EventSessionRemoved, s)
	if !live && s.Status != StatusCompleted && s.Location != "" {
		o.discardRemote(s.Location, s.Source.Fingerprint())
	}
	o.notifyLocked()
	o.mu.Unlock()

	o.log.Session(id, evt.Name).Debug().Msg("cancelled")
	o.publish(evt)
	return true
}

// Retry restarts a failed session from byte 0 on a new remote upload.
func (o *Orchestrator) Retry(id string) bool {
	o.mu.Lock()
	s := o.registry.Get(id)
	if o.closed || s == nil || s.Status != StatusError {
		o.mu.Unlock()
		return false
	}

	if s.Location != "" {
		// Forget before the fresh transfer records its own location, which
		// may be identical for path-addressed backends.
		if err := o.opts.Store.Forget(s.Source.Fingerprint(), s.Location); err != nil {
			o.log.Debug().Err(err).Msg("failed to forget resume record")
		}
		o.discardRemote(s.Location, "")
	}
	s.TransferredBytes = 0
	s.ProgressPercent = 0
	s.Location = ""
	s.RemoteLocator = ""
	evt := o.startLocked(s, upload.Job{Source: s.Source, Fresh: true})
	o.notifyLocked()
	o.mu.Unlock()

	o.log.Session(id, evt.Name).Debug().Msg("retrying")
	o.publish(evt)
	return true
}

// PauseAll pauses every session that was uploading when called and returns
// how many were paused.
func (o *Orchestrator) PauseAll() int {
	o.mu.Lock()
	ids := o.registry.IDs(StatusUploading)
	o.mu.Unlock()

	n := 0
	for _, id := range ids {
		if o.Pause(id) {
			n++
		}
	}
	return n
}

// ResumeAll resumes every session that was paused when called and returns
// how many were resumed.
func (o *Orchestrator) ResumeAll() int {
	o.mu.Lock()
	ids := o.registry.IDs(StatusPaused)
	o.mu.Unlock()

	n := 0
	for _, id := range ids {
		if o.Resume(id) {
			n++
		}
	}
	return n
}

// ClearCompleted removes completed sessions and returns how many were removed.
func (o *Orchestrator) ClearCompleted() int {
	o.mu.Lock()
	removed := o.registry.RemoveWhere(func(s *TransferSession) bool {
		return s.Status == StatusCompleted
	})
	evts := make([]*events.SessionEvent, 0, len(removed))
	for _, s := range removed {
		evts = append(evts, o.eventLocked(events.EventSessionRemoved, s))
	}
	if len(removed) > 0 {
		o.notifyLocked()
	}
	o.mu.Unlock()

	o.publish(evts...)
	return len(removed)
}

// Snapshot returns copies of all sessions in insertion order.
func (o *Orchestrator) Snapshot() []SessionView {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.Snapshot()
}

// Stats returns aggregate counts and progress.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.Stats()
}

// Get returns a copy of one session.
func (o *Orchestrator) Get(id string) (SessionView, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.registry.Get(id)
	if s == nil {
		return SessionView{}, false
	}
	return s.View(), true
}

// Wait blocks until no session is uploading or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		busy := len(o.active) > 0
		changed := o.changed
		o.mu.Unlock()

		if !busy {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close pauses every running transfer, so their resume records survive, and
// waits for background work to finish. Later commands are no-ops.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	var evts []*events.SessionEvent
	for _, id := range o.registry.IDs(StatusUploading) {
		s := o.registry.Get(id)
		o.detachLocked(id, ErrPaused)
		s.Status = StatusPaused
		s.stopMeasuring()
		evts = append(evts, o.eventLocked(events.EventSessionPaused, s))
	}
	o.notifyLocked()
	o.mu.Unlock()

	o.publish(evts...)
	o.stop()
	o.wg.Wait()
}

// startLocked attaches a new transfer to s under a fresh generation.
func (o *Orchestrator) startLocked(s *TransferSession, job upload.Job) *events.SessionEvent {
	s.generation++
	generation := s.generation

	ctx, cancel := context.WithCancelCause(o.ctx)
	t := &activeTransfer{generation: generation, cancel: cancel}
	o.active[s.ID] = t

	s.Status = StatusUploading
	s.StartedAt = o.now()
	s.LastError = ""
	s.stopMeasuring()

	results := o.run(ctx, o.uploader, job, upload.Options{
		ChunkSize:   o.opts.ChunkSize,
		RetryDelays: o.opts.RetryDelays,
		Store:       o.opts.Store,
		Logger:      o.log.Session(s.ID, s.DisplayName()),
		TimingOut:   o.opts.TimingOut,
	})

	o.wg.Add(1)
	go o.dispatch(ctx, s.ID, t, s.Source.Fingerprint(), results)

	return o.eventLocked(events.EventSessionStarted, s)
}

// detachLocked cancels and forgets the session's live transfer, if any.
func (o *Orchestrator) detachLocked(id string, cause error) {
	if t, ok := o.active[id]; ok {
		if s := o.registry.Get(id); s != nil {
			t.location = s.Location
		}
		t.cancel(cause)
		delete(o.active, id)
	}
}

// dispatch applies one transfer's results until its stream closes, then
// settles the transfer against the command that stopped it.
func (o *Orchestrator) dispatch(ctx context.Context, id string, t *activeTransfer, fingerprint string, results <-chan cloud.Result) {
	defer o.wg.Done()

	var location string
	completed := false
	for res := range results {
		if res.Location != "" {
			location = res.Location
		}
		completed = res.Kind == cloud.ResultCompleted
		o.apply(id, t.generation, res)
	}
	o.settle(context.Cause(ctx), id, t, fingerprint, location, completed)
}

// settle runs after a transfer's stream has closed. A cancelled transfer's
// remote upload is discarded unless it completed. A paused session adopts a
// location its transfer announced after the pause.
func (o *Orchestrator) settle(cause error, id string, t *activeTransfer, fingerprint, location string, completed bool) {
	o.mu.Lock()
	if location == "" {
		location = t.location
	}
	discard := false
	switch {
	case errors.Is(cause, ErrCancelled):
		discard = !completed && location != ""
	case errors.Is(cause, ErrPaused):
		s := o.registry.Get(id)
		if s != nil && s.generation == t.generation && s.Status == StatusPaused && s.Location == "" {
			s.Location = location
		}
	}
	o.mu.Unlock()

	if discard {
		o.log.Debug().Str("location", location).Msg("discarding cancelled upload")
		o.discardRemote(location, fingerprint)
	}
}

// apply folds one result into the session. Results from a superseded
// generation, or for a removed session, are dropped.
func (o *Orchestrator) apply(id string, generation uint64, res cloud.Result) {
	o.mu.Lock()
	s := o.registry.Get(id)
	if s == nil || s.generation != generation || s.Status != StatusUploading {
		o.mu.Unlock()
		return
	}
	if res.Location != "" {
		s.Location = res.Location
	}

	var evt *events.SessionEvent
	switch res.Kind {
	case cloud.ResultProgress:
		if !s.setTransferred(res.Offset) {
			o.mu.Unlock()
			return
		}
		s.ThroughputBps, s.ETASeconds = s.estimator.Observe(s.TransferredBytes, s.TotalBytes, o.now())
		evt = o.eventLocked(events.EventSessionProgress, s)

	case cloud.ResultCompleted:
		o.detachLocked(id, nil)
		s.complete(res.Locator, o.now())
		evt = o.eventLocked(events.EventSessionCompleted, s)

	case cloud.ResultFailed:
		o.detachLocked(id, nil)
		s.Status = StatusError
		s.LastError = errorMessage(res.Err)
		s.stopMeasuring()
		evt = o.eventLocked(events.EventSessionFailed, s)

	default:
		o.mu.Unlock()
		return
	}
	o.notifyLocked()
	o.mu.Unlock()

	o.publish(evt)
}

// discardRemote terminates location in the background and, when fingerprint
// is set, forgets its resume record. Failures are logged only.
func (o *Orchestrator) discardRemote(location, fingerprint string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), o.opts.TerminateTimeout)
		defer cancel()
		if err := o.uploader.Terminate(ctx, location); err != nil {
			o.log.Warn().Err(err).Str("location", location).Msg("failed to discard remote upload")
		}
		if fingerprint != "" {
			if err := o.opts.Store.Forget(fingerprint, location); err != nil {
				o.log.Debug().Err(err).Msg("failed to forget resume record")
			}
		}
	}()
}

// notifyLocked wakes Wait callers.
func (o *Orchestrator) notifyLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

func (o *Orchestrator) eventLocked(eventType events.EventType, s *TransferSession) *events.SessionEvent {
	return &events.SessionEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			Time:      o.now(),
		},
		SessionID:   s.ID,
		Name:        s.DisplayName(),
		Status:      string(s.Status),
		Transferred: s.TransferredBytes,
		Total:       s.TotalBytes,
		Percent:     s.ProgressPercent,
		Speed:       s.ThroughputBps,
		Locator:     s.RemoteLocator,
		Error:       s.LastError,
	}
}

func (o *Orchestrator) publish(evts ...*events.SessionEvent) {
	for _, evt := range evts {
		if evt != nil {
			o.bus.Publish(evt)
		}
	}
}

func errorMessage(err error) string {
	if err == nil {
		return "upload failed"
	}
	return err.Error()
}
