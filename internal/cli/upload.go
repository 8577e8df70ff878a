package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftbox/driftbox/internal/cloud"
	"github.com/driftbox/driftbox/internal/cloud/providers"
	"github.com/driftbox/driftbox/internal/cloud/state"
	"github.com/driftbox/driftbox/internal/config"
	"github.com/driftbox/driftbox/internal/events"
	"github.com/driftbox/driftbox/internal/http"
	"github.com/driftbox/driftbox/internal/localfs"
	"github.com/driftbox/driftbox/internal/logging"
	"github.com/driftbox/driftbox/internal/progress"
	"github.com/driftbox/driftbox/internal/transfer"
)

type uploadFlags struct {
	chunkSize     int64
	interactive   bool
	includeHidden bool
	noProgress    bool
}

func newUploadCmd() *cobra.Command {
	var f uploadFlags

	cmd := &cobra.Command{
		Use:   "upload PATH...",
		Short: "Upload files and folders",
		Long: `Upload files and folders with resumable chunked transfers.

Folders are walked recursively and each file keeps its path relative to the
folder's parent, so "photos/2024/a.jpg" arrives as such. Hidden files are
skipped unless --include-hidden is given.

Every file uploads concurrently as its own session. Ctrl+C pauses all
sessions; running the same command again resumes them from the last byte
the server acknowledged.

Interactive mode (--interactive) reads commands while uploads run:
  pause ID|N     resume ID|N     cancel ID|N     retry ID|N
  pause-all      resume-all      clear           list       quit

Examples:
  driftbox upload report.pdf
  driftbox upload ./photos --include-hidden
  driftbox upload big.iso --chunk-size 16777216 --interactive`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(GetContext(), args, f)
		},
	}

	cmd.Flags().Int64Var(&f.chunkSize, "chunk-size", 0, "Bytes per chunk (default from config, 5 MiB)")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "Read pause/resume/cancel/retry commands from stdin")
	cmd.Flags().BoolVar(&f.includeHidden, "include-hidden", false, "Include hidden files and directories")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "Print status lines instead of progress bars")

	return cmd
}

func runUpload(ctx context.Context, paths []string, f uploadFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if f.chunkSize > 0 {
		cfg.ChunkSize = f.chunkSize
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	sources, err := localfs.Collect(ctx, paths, localfs.CollectOptions{IncludeHidden: f.includeHidden})
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("nothing to upload")
	}

	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	uploader, err := providers.NewUploader(ctx, cfg, httpClient)
	if err != nil {
		return fmt.Errorf("failed to create %s uploader: %w", cfg.Backend, err)
	}

	bus := events.NewEventBus(0)
	defer bus.Close()

	ui := progress.NewUploadUI(os.Stderr, bus, !f.noProgress)
	log := GetLogger()
	if ui.IsTerminal() {
		// Warnings and errors reach the view as log events.
		log = logging.NewLogger(io.Discard, bus)
	}

	store := openResumeStore(cfg, log)

	orch := transfer.New(uploader, transfer.Options{
		ChunkSize:   cfg.ChunkSize,
		RetryDelays: cfg.RetryDelays,
		Store:       store,
		Logger:      log,
		EventBus:    bus,
		TimingOut:   ui.Writer(),
	})

	log.Info().
		Int("files", len(sources)).
		Str("size", progress.FormatBytes(sourcesTotal(sources))).
		Str("backend", cfg.Backend).
		Msg("Starting uploads")
	orch.AddFiles(sources)

	uiCtx, stopUI := context.WithCancel(context.Background())
	uiDone := make(chan struct{})
	go func() {
		defer close(uiDone)
		ui.Run(uiCtx, orch)
	}()

	if f.interactive {
		sh := newShell(orch, ui.Writer())
		err = sh.Run(ctx, os.Stdin)
	} else {
		err = orch.Wait(ctx)
	}

	interrupted := ctx.Err() != nil
	orch.Close()
	stopUI()
	<-uiDone
	ui.Close()

	stats := orch.Stats()
	fmt.Fprintln(os.Stderr, progress.Summary(stats))

	if interrupted {
		if n := stats.Paused; n > 0 {
			fmt.Fprintf(os.Stderr, "Paused %d upload(s). Run the same command again to resume.\n", n)
		}
		return context.Canceled
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d upload(s) failed", stats.Failed, stats.Total)
	}
	return nil
}

// openResumeStore opens the resume record store. Failure only disables
// rediscovery.
func openResumeStore(cfg *config.Config, log *logging.Logger) *state.Store {
	store, err := state.Open(cfg.ResumeStateFile(), cfg.MaxResumeAge)
	if err != nil {
		log.Warn().Err(err).Msg("Resume records unavailable; interrupted uploads will restart")
		return nil
	}
	return store
}

// sourcesTotal is the byte total of sources.
func sourcesTotal(sources []cloud.Source) int64 {
	var n int64
	for _, s := range sources {
		n += s.Size
	}
	return n
}
