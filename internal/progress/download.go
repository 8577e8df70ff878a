package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/driftbox/driftbox/internal/constants"
)

// DownloadBar is a single byte-counting bar for downloads and streams. It is
// an io.Writer so it can sit behind io.MultiWriter next to the destination.
type DownloadBar struct {
	bar *progressbar.ProgressBar
}

// NewDownloadBar draws on out when it is a terminal and enabled is true;
// otherwise the bar counts silently. A negative total draws a spinner.
func NewDownloadBar(out io.Writer, total int64, description string, enabled bool) *DownloadBar {
	f, isFile := out.(*os.File)
	if !enabled || !isFile || !term.IsTerminal(int(f.Fd())) {
		return &DownloadBar{bar: progressbar.DefaultBytesSilent(total, description)}
	}
	enableANSI(f)
	return &DownloadBar{bar: newBytesBar(out, total, description)}
}

func newBytesBar(out io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(constants.ProgressRefreshInterval),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Write counts len(p) bytes.
func (d *DownloadBar) Write(p []byte) (int, error) {
	return d.bar.Write(p)
}

// Written returns the bytes counted so far.
func (d *DownloadBar) Written() int64 {
	return d.bar.State().CurrentNum
}

// Finish fills the bar.
func (d *DownloadBar) Finish() {
	_ = d.bar.Finish()
}

// Abort leaves the bar where it stopped.
func (d *DownloadBar) Abort() {
	_ = d.bar.Exit()
}
