package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/driftbox/driftbox/internal/constants"
	"github.com/driftbox/driftbox/internal/events"
	"github.com/driftbox/driftbox/internal/transfer"
)

// SnapshotSource is what the upload view polls. *transfer.Orchestrator satisfies it.
type SnapshotSource interface {
	Snapshot() []transfer.SessionView
	Stats() transfer.Stats
}

// UploadUI draws one mpb bar per upload session under an aggregate header.
// On a non-terminal writer it prints one line per status change instead.
//
// Decorators run on the mpb render goroutine and read only the atomic
// snapshots below, never mu: bar methods called under mu wait for that
// goroutine.
type UploadUI struct {
	out        io.Writer
	progress   *mpb.Progress
	header     *mpb.Bar
	isTerminal bool
	stats      atomic.Pointer[transfer.Stats]

	mu    sync.Mutex
	bars  map[string]*sessionBar
	order int

	logs <-chan events.Event
	bus  *events.EventBus
}

type sessionBar struct {
	bar    *mpb.Bar
	index  int
	view   atomic.Pointer[transfer.SessionView]
	status transfer.Status
	done   bool
}

// NewUploadUI creates the view. Bars are drawn only when bars is true and
// out is a terminal. When bus is non-nil, log events are printed above the bars.
func NewUploadUI(out io.Writer, bus *events.EventBus, bars bool) *UploadUI {
	isTerminal := false
	if f, ok := out.(*os.File); ok && bars && term.IsTerminal(int(f.Fd())) {
		isTerminal = true
		enableANSI(f)
	}
	return newUploadUI(out, bus, isTerminal)
}

func newUploadUI(out io.Writer, bus *events.EventBus, isTerminal bool, extra ...mpb.ContainerOption) *UploadUI {
	u := &UploadUI{
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*sessionBar),
		bus:        bus,
	}
	u.stats.Store(&transfer.Stats{})
	if bus != nil {
		u.logs = bus.Subscribe(events.EventLog)
	}
	if isTerminal {
		opts := append([]mpb.ContainerOption{
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.ProgressRefreshInterval),
			mpb.WithWidth(constants.ProgressBarWidth),
		}, extra...)
		u.progress = mpb.New(opts...)
		u.header = u.progress.New(0, mpb.NopStyle(),
			mpb.PrependDecorators(decor.Any(func(decor.Statistics) string {
				return headerLine(*u.stats.Load())
			})),
		)
	}
	return u
}

// IsTerminal reports whether bars are drawn.
func (u *UploadUI) IsTerminal() bool {
	return u.isTerminal
}

// Writer returns a writer that prints above the bars without tearing them.
func (u *UploadUI) Writer() io.Writer {
	if u.progress != nil {
		return u.progress
	}
	return u.out
}

// Run redraws from src every constants.SnapshotPollInterval until ctx is
// done, then performs a final refresh.
func (u *UploadUI) Run(ctx context.Context, src SnapshotSource) {
	ticker := time.NewTicker(constants.SnapshotPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.drainLogs()
			u.Refresh(src.Snapshot(), src.Stats())
			return
		case ev, ok := <-u.logs:
			if !ok {
				u.logs = nil
				continue
			}
			u.printLog(ev)
		case <-ticker.C:
			u.Refresh(src.Snapshot(), src.Stats())
		}
	}
}

// Refresh applies one snapshot: new sessions get a bar, changed statuses are
// announced, and sessions no longer present have their bar dropped.
func (u *UploadUI) Refresh(views []transfer.SessionView, stats transfer.Stats) {
	u.stats.Store(&stats)

	u.mu.Lock()
	var lines []string
	seen := make(map[string]bool, len(views))

	for _, v := range views {
		seen[v.ID] = true
		sb, ok := u.bars[v.ID]
		if !ok {
			u.order++
			sb = &sessionBar{index: u.order}
			sb.view.Store(&v)
			u.bars[v.ID] = sb
			if u.progress != nil {
				sb.bar = u.newBar(sb, v.TotalBytes)
			}
		}
		sb.view.Store(&v)

		if sb.bar != nil && !sb.done {
			sb.bar.SetCurrent(v.TransferredBytes)
			if v.Status == transfer.StatusCompleted {
				sb.bar.SetTotal(-1, true)
				sb.done = true
			}
		}
		if v.Status != sb.status {
			if line := u.transitionLine(sb, v); line != "" {
				lines = append(lines, line)
			}
			sb.status = v.Status
		}
	}

	for id, sb := range u.bars {
		if seen[id] {
			continue
		}
		if sb.bar != nil && !sb.done {
			sb.bar.Abort(true)
		}
		delete(u.bars, id)
	}
	u.mu.Unlock()

	for _, line := range lines {
		fmt.Fprintln(u.Writer(), line)
	}
}

// Close stops drawing and waits for the bars to flush. Call it after Run returns.
func (u *UploadUI) Close() {
	if u.bus != nil && u.logs != nil {
		u.drainLogs()
		u.bus.Unsubscribe(events.EventLog, u.logs)
		u.logs = nil
	}
	if u.progress == nil {
		return
	}
	u.mu.Lock()
	for _, sb := range u.bars {
		if sb.bar != nil && !sb.done {
			sb.bar.Abort(false)
			sb.done = true
		}
	}
	u.mu.Unlock()
	u.header.Abort(false)
	u.progress.Wait()
}

func (u *UploadUI) newBar(sb *sessionBar, total int64) *mpb.Bar {
	return u.progress.New(total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				name := sb.view.Load().DisplayName()
				return fmt.Sprintf("%3d %s", sb.index, padRight(truncateName(name, constants.MaxDisplayNameLength), constants.MaxDisplayNameLength))
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return barDetail(*sb.view.Load())
			}, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
}

func (u *UploadUI) transitionLine(sb *sessionBar, v transfer.SessionView) string {
	name := v.DisplayName()
	switch v.Status {
	case transfer.StatusCompleted:
		size := FormatBytes(v.TotalBytes)
		if avg := v.AverageBps(); avg > 0 {
			size += ", " + FormatSpeed(avg)
		}
		return fmt.Sprintf("✓ %s (%s) → %s", name, size, v.RemoteLocator)
	case transfer.StatusError:
		return fmt.Sprintf("✗ %s: %s", name, v.LastError)
	}
	if u.isTerminal {
		// The bar shows the rest.
		return ""
	}
	return fmt.Sprintf("[%d] %s: %s", sb.index, name, v.Status)
}

func (u *UploadUI) drainLogs() {
	for {
		select {
		case ev, ok := <-u.logs:
			if !ok {
				return
			}
			u.printLog(ev)
		default:
			return
		}
	}
}

func (u *UploadUI) printLog(ev events.Event) {
	le, ok := ev.(*events.LogEvent)
	if !ok {
		return
	}
	fmt.Fprintf(u.Writer(), "%s %s %s\n", le.Time.Format("15:04:05"), le.Level, le.Message)
}

// barDetail is the text to the right of a session bar.
func barDetail(v transfer.SessionView) string {
	counts := fmt.Sprintf("%s / %s %3d%%", FormatBytes(v.TransferredBytes), FormatBytes(v.TotalBytes), v.ProgressPercent)
	switch v.Status {
	case transfer.StatusUploading:
		return fmt.Sprintf("%s  %s  ETA %s", counts, FormatSpeed(v.ThroughputBps), FormatETA(v.ETASeconds))
	case transfer.StatusError:
		return counts + "  error"
	default:
		return counts + "  " + string(v.Status)
	}
}

// headerLine summarizes the whole registry.
func headerLine(st transfer.Stats) string {
	return fmt.Sprintf("%d files: %d uploading, %d paused, %d queued, %d completed, %d failed | %d%% | %s / %s | %s",
		st.Total, st.Uploading, st.Paused, st.Queued, st.Completed, st.Failed,
		st.Percent, FormatBytes(st.TransferredBytes), FormatBytes(st.TotalBytes), FormatSpeed(st.ThroughputBps))
}

// Summary is the one-line aggregate used in plain output.
func Summary(st transfer.Stats) string {
	return headerLine(st)
}
