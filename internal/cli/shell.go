package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/driftbox/driftbox/internal/progress"
	"github.com/driftbox/driftbox/internal/transfer"
)

// controller is the part of *transfer.Orchestrator the shell drives.
type controller interface {
	Pause(id string) bool
	Resume(id string) bool
	Cancel(id string) bool
	Retry(id string) bool
	PauseAll() int
	ResumeAll() int
	ClearCompleted() int
	Snapshot() []transfer.SessionView
	Stats() transfer.Stats
}

// shell reads session commands line by line while uploads run.
type shell struct {
	ctl controller
	out io.Writer
}

func newShell(ctl controller, out io.Writer) *shell {
	return &shell{ctl: ctl, out: out}
}

const shellHelp = `Commands:
  pause ID|N     resume ID|N     cancel ID|N     retry ID|N
  pause-all      resume-all      clear           list
  help           quit
N is the position shown by list; ID may be a unique prefix.`

// Run executes commands from in until quit, end of input, or ctx is done.
func (s *shell) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(s.out, "Type 'help' for commands.")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if s.Exec(line) {
				return nil
			}
		}
	}
}

// Exec runs one command line and reports whether the shell should exit.
func (s *shell) Exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
	case "list", "ls":
		s.list()
	case "pause-all":
		fmt.Fprintf(s.out, "Paused %d upload(s)\n", s.ctl.PauseAll())
	case "resume-all":
		fmt.Fprintf(s.out, "Resumed %d upload(s)\n", s.ctl.ResumeAll())
	case "clear":
		fmt.Fprintf(s.out, "Cleared %d completed upload(s)\n", s.ctl.ClearCompleted())
	case "pause", "resume", "cancel", "retry":
		if len(args) != 1 {
			fmt.Fprintf(s.out, "usage: %s ID|N\n", cmd)
			return false
		}
		s.apply(cmd, args[0])
	default:
		fmt.Fprintf(s.out, "unknown command %q (try 'help')\n", cmd)
	}
	return false
}

func (s *shell) apply(cmd, ref string) {
	v, err := s.resolve(ref)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}

	var ok bool
	var past string
	switch cmd {
	case "pause":
		ok, past = s.ctl.Pause(v.ID), "Paused"
	case "resume":
		ok, past = s.ctl.Resume(v.ID), "Resumed"
	case "cancel":
		ok, past = s.ctl.Cancel(v.ID), "Cancelled"
	case "retry":
		ok, past = s.ctl.Retry(v.ID), "Retrying"
	}
	if !ok {
		fmt.Fprintf(s.out, "Cannot %s %s: it is %s\n", cmd, v.DisplayName(), v.Status)
		return
	}
	fmt.Fprintf(s.out, "%s %s\n", past, v.DisplayName())
}

// resolve maps a 1-based position or an ID (or unique ID prefix) to a session.
func (s *shell) resolve(ref string) (transfer.SessionView, error) {
	views := s.ctl.Snapshot()

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(views) {
			return transfer.SessionView{}, fmt.Errorf("no upload #%d (have %d)", n, len(views))
		}
		return views[n-1], nil
	}

	var match []transfer.SessionView
	for _, v := range views {
		if v.ID == ref {
			return v, nil
		}
		if strings.HasPrefix(v.ID, ref) {
			match = append(match, v)
		}
	}
	switch len(match) {
	case 0:
		return transfer.SessionView{}, fmt.Errorf("no upload with id %q", ref)
	case 1:
		return match[0], nil
	default:
		return transfer.SessionView{}, fmt.Errorf("id prefix %q is ambiguous (%d matches)", ref, len(match))
	}
}

func (s *shell) list() {
	views := s.ctl.Snapshot()
	if len(views) == 0 {
		fmt.Fprintln(s.out, "No uploads")
		return
	}
	fmt.Fprintf(s.out, "%-3s %-8s %-9s %4s  %-19s %s\n", "#", "ID", "STATUS", "%", "SPEED / ETA", "NAME")
	for i, v := range views {
		id := v.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rate := ""
		if v.Status == transfer.StatusUploading {
			rate = progress.FormatSpeed(v.ThroughputBps) + " " + progress.FormatETA(v.ETASeconds)
		}
		line := fmt.Sprintf("%-3d %-8s %-9s %3d%%  %-19s %s", i+1, id, v.Status, v.ProgressPercent, rate, v.DisplayName())
		if v.Status == transfer.StatusError && v.LastError != "" {
			line += "  (" + v.LastError + ")"
		}
		fmt.Fprintln(s.out, line)
	}
	fmt.Fprintln(s.out, progress.Summary(s.ctl.Stats()))
}
