package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driftbox/driftbox/internal/api"
	"github.com/driftbox/driftbox/internal/diskspace"
	"github.com/driftbox/driftbox/internal/filter"
	"github.com/driftbox/driftbox/internal/models"
	"github.com/driftbox/driftbox/internal/pathutil"
	"github.com/driftbox/driftbox/internal/progress"
	"github.com/driftbox/driftbox/internal/validation"
)

// newFilesCmd creates the 'files' command group.
func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage files on the server",
		Long: `Commands for files already uploaded to the server.

Commands:
  list      - List uploaded files
  download  - Download a file as an attachment
  stream    - Fetch a file or a byte range of it
  delete    - Delete files`,
	}

	cmd.AddCommand(newFilesListCmd())
	cmd.AddCommand(newFilesDownloadCmd())
	cmd.AddCommand(newFilesStreamCmd())
	cmd.AddCommand(newFilesDeleteCmd())

	return cmd
}

func newFilesListCmd() *cobra.Command {
	var asJSON bool
	var fc filter.Config

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List uploaded files",
		Long: `List files on the server.

Filters combine: --include/--exclude match the file name, --path matches the
recorded relative path ("**" spans directories) and every --search term must
appear in the name.

Examples:
  driftbox files list --include "*.jpg" --exclude "tmp*"
  driftbox files list --path "photos/**" --search 2024`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}

			files, err := client.ListFiles(GetContext())
			if err != nil {
				return err
			}
			files = filter.Apply(files, fc)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(files)
			}
			printFileTable(out, files)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON list")
	cmd.Flags().StringSliceVar(&fc.Include, "include", nil, "Only names matching these globs")
	cmd.Flags().StringSliceVar(&fc.Exclude, "exclude", nil, "Skip names matching these globs")
	cmd.Flags().StringSliceVar(&fc.Search, "search", nil, "Case-insensitive terms that must all appear")
	cmd.Flags().StringSliceVar(&fc.PathInclude, "path", nil, "Only relative paths matching these globs")

	return cmd
}

func printFileTable(w io.Writer, files []models.RemoteFile) {
	if len(files) == 0 {
		fmt.Fprintln(w, "No files found")
		return
	}

	fmt.Fprintf(w, "%-36s %-10s %-10s %-24s %s\n", "FILE ID", "SIZE", "STATUS", "TYPE", "NAME")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	var total int64
	for _, f := range files {
		status := "complete"
		if !f.Completed {
			status = "partial"
		}
		fmt.Fprintf(w, "%-36s %-10s %-10s %-24s %s\n", f.ID, progress.FormatBytes(f.Size), status, f.MimeType, f.DisplayName())
		total += f.Size
	}
	fmt.Fprintf(w, "\n%d file(s), %s\n", len(files), progress.FormatBytes(total))
}

func newFilesDownloadCmd() *cobra.Command {
	var output string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "download ID...",
		Short: "Download files",
		Long: `Download files by ID.

A single file is saved under the name the server reports unless -o names a
file or an existing directory. With several IDs -o is a directory (created
if needed, default the working directory) and files sharing a name get
their ID appended. Existing files are kept unless --overwrite is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return downloadOne(client, args[0], output, overwrite)
			}
			return downloadMany(client, args, output, overwrite)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing files")

	return cmd
}

func downloadOne(client *api.Client, id, output string, overwrite bool) error {
	d, err := client.Download(GetContext(), id)
	if err != nil {
		return err
	}
	defer d.Close()

	dest := downloadPath(output, d.Name, id)
	if err := saveDownload(d, dest, overwrite); err != nil {
		return err
	}
	GetLogger().Info().Str("file_id", id).Str("path", dest).Msg("Downloaded")
	return nil
}

func downloadMany(client *api.Client, ids []string, output string, overwrite bool) error {
	logger := GetLogger()
	ctx := GetContext()

	dir, err := pathutil.ResolveAbsolutePath(output)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", output, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	files, err := client.ListFiles(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]models.RemoteFile, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	targets := make([]pathutil.Target, 0, len(ids))
	for _, id := range ids {
		f := byID[id]
		targets = append(targets, pathutil.Target{
			FileID:    id,
			Name:      f.Name,
			LocalPath: filepath.Join(dir, safeFileName(f.Name, id)),
			Size:      f.Size,
		})
	}
	if n := pathutil.ResolveCollisions(targets); n > 0 {
		logger.Info().Int("files", n).Msg("Renamed files sharing a name")
	}

	var failed int
	for i, t := range targets {
		fmt.Printf("[%d/%d] %s\n", i+1, len(targets), filepath.Base(t.LocalPath))
		err := func() error {
			d, err := client.Download(ctx, t.FileID)
			if err != nil {
				return err
			}
			defer d.Close()
			return saveDownload(d, t.LocalPath, overwrite)
		}()
		if err == nil {
			continue
		}
		failed++
		logger.Error().Str("file_id", t.FileID).Err(err).Msg("Failed to download file")
		if diskspace.IsDiskFullError(err) || ctx.Err() != nil {
			return fmt.Errorf("stopped after %d of %d file(s): %w", i+1, len(targets), err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d download(s) failed", failed, len(targets))
	}
	fmt.Printf("\n✓ Downloaded %d file(s) to %s\n", len(targets), dir)
	return nil
}

func newFilesStreamCmd() *cobra.Command {
	var output string
	var rangeSpec string

	cmd := &cobra.Command{
		Use:   "stream ID",
		Short: "Fetch a file inline, optionally a byte range",
		Long: `Fetch a file through the streaming endpoint.

Without -o the bytes go to stdout. --range START-END (inclusive) or START-
requests part of the file.

Examples:
  driftbox files stream abc123 --range 0-1023 | xxd | head
  driftbox files stream abc123 -o movie.mp4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rng *models.ByteRange
			if rangeSpec != "" {
				r, err := models.ParseByteRange(rangeSpec)
				if err != nil {
					return err
				}
				rng = &r
			}

			client, err := getAPIClient()
			if err != nil {
				return err
			}

			d, err := client.Stream(GetContext(), args[0], rng)
			if err != nil {
				return err
			}
			defer d.Close()

			if d.Partial {
				fmt.Fprintf(os.Stderr, "Content-Range: %s\n", d.ContentRange)
			} else if rng != nil {
				fmt.Fprintln(os.Stderr, "Server ignored the range; receiving the whole file")
			}

			if output == "" {
				_, err := io.Copy(cmd.OutOrStdout(), d.Body)
				return err
			}
			return saveDownload(d, output, true)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().StringVar(&rangeSpec, "range", "", "Byte range START-END or START-")

	return cmd
}

func newFilesDeleteCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete files from the server",
		Long: `Delete one or more files from the server.

WARNING: This operation cannot be undone!`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			if !confirm {
				fmt.Printf("You are about to delete %d file(s). This cannot be undone.\n", len(args))
				fmt.Print("Are you sure? (yes/no): ")
				response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				if strings.TrimSpace(response) != "yes" {
					fmt.Println("Deletion cancelled")
					return nil
				}
			}

			client, err := getAPIClient()
			if err != nil {
				return err
			}

			ctx := GetContext()
			var failed int
			for i, id := range args {
				fmt.Printf("[%d/%d] Deleting file %s...\n", i+1, len(args), id)
				if err := client.DeleteFile(ctx, id); err != nil {
					if api.IsNotFound(err) {
						fmt.Printf("✗ %s does not exist\n", id)
					} else {
						logger.Error().Str("file_id", id).Err(err).Msg("Failed to delete file")
					}
					failed++
					continue
				}
				fmt.Println("✓ Deleted")
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d deletion(s) failed", failed, len(args))
			}
			fmt.Printf("\n✓ Successfully deleted %d file(s)\n", len(args))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

// safeFileName returns serverName when it is a plain file name, its last
// path element when that is, else id.
func safeFileName(serverName, id string) string {
	if validation.ValidateFilename(serverName) == nil {
		return serverName
	}
	base := path.Base(path.Clean("/" + strings.ReplaceAll(serverName, `\`, "/")))
	if validation.ValidateFilename(base) == nil {
		return base
	}
	return id
}

// downloadPath picks the destination: output when it names a file, output
// joined with the server name when it is a directory, else the server name
// (or the id) in the working directory.
func downloadPath(output, serverName, id string) string {
	name := safeFileName(serverName, id)
	if output == "" {
		return name
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, name)
	}
	return output
}

// saveDownload writes d to dest through a ".part" file renamed on success.
func saveDownload(d *api.Download, dest string, overwrite bool) error {
	if _, err := os.Stat(dest); err == nil && !overwrite {
		return fmt.Errorf("%s already exists (use --overwrite)", dest)
	}
	if err := diskspace.CheckAvailableSpace(dest, d.Size); err != nil {
		return err
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	bar := progress.NewDownloadBar(os.Stderr, d.Size, filepath.Base(dest), true)
	_, copyErr := io.Copy(io.MultiWriter(f, bar), d.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		bar.Abort()
		os.Remove(tmp)
		if diskspace.IsDiskFullError(err) {
			return fmt.Errorf("disk full while writing %s after %s: %w", dest, progress.FormatBytes(bar.Written()), err)
		}
		return fmt.Errorf("download interrupted after %s: %w", progress.FormatBytes(bar.Written()), err)
	}
	bar.Finish()

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save %s: %w", dest, err)
	}
	return nil
}
