package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driftbox/driftbox/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage driftbox configuration",
		Long: `Configuration management commands.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  set   - Change one setting
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigSetCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// configPath is --config or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup. Press Enter to keep the value shown in
brackets. Use --force to overwrite an existing configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := runConfigWizard(cmd.InOrStdin(), cmd.OutOrStdout(), config.NewConfig())
			if err != nil {
				return err
			}
			if err := config.Save(cfg, path, true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Configuration saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

// wizardKeys are asked in order by config init. Backend-specific keys are
// only asked for their backend.
var wizardKeys = []struct {
	key     string
	prompt  string
	backend string
}{
	{"server.base_url", "Server base URL", ""},
	{"upload.backend", "Upload backend (tus, s3, azure)", ""},
	{"upload.chunk_size", "Chunk size in bytes", ""},
	{"s3.bucket", "S3 bucket", "s3"},
	{"s3.region", "S3 region", "s3"},
	{"s3.endpoint", "S3 endpoint (blank for AWS)", "s3"},
	{"azure.container_url", "Azure container URL with SAS token", "azure"},
	{"proxy.mode", "Proxy mode (no-proxy, system, basic, ntlm)", ""},
}

func runConfigWizard(in io.Reader, out io.Writer, cfg *config.Config) (*config.Config, error) {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "driftbox configuration setup")
	fmt.Fprintln(out, "============================")
	fmt.Fprintln(out)

	for _, w := range wizardKeys {
		if w.backend != "" && w.backend != cfg.Backend {
			continue
		}
		for {
			current, _ := cfg.Get(w.key)
			fmt.Fprintf(out, "%s [%s]: ", w.prompt, current)
			line, err := reader.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			value := strings.TrimSpace(line)
			if value == "" {
				break
			}
			if setErr := cfg.Set(w.key, value); setErr != nil {
				fmt.Fprintf(out, "  Error: %v\n", setErr)
				if errors.Is(err, io.EOF) {
					return nil, setErr
				}
				continue
			}
			break
		}
	}

	if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
		for _, key := range []string{"proxy.host", "proxy.port", "proxy.user"} {
			fmt.Fprintf(out, "%s: ", key)
			line, _ := reader.ReadString('\n')
			if v := strings.TrimSpace(line); v != "" {
				if err := cfg.Set(key, v); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration.

Sources, lowest to highest priority: defaults, configuration file,
DRIFTBOX_* environment variables, command-line flags.
Credentials are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if baseURLFlag != "" {
				cfg.BaseURL = baseURLFlag
			}
			if backendFlag != "" {
				cfg.Backend = backendFlag
			}

			path, _ := configPath()
			printConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}

	return cmd
}

func printConfig(w io.Writer, cfg *config.Config, path string) {
	section := ""
	for _, key := range config.Keys() {
		sec, name, _ := strings.Cut(key, ".")
		if sec != section {
			if section != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "[%s]\n", sec)
			section = sec
		}
		value, _ := cfg.Get(key)
		if config.IsSecret(key) && value != "" {
			value = "<set>"
		}
		fmt.Fprintf(w, "  %-18s %s\n", name, value)
	}

	fmt.Fprintf(w, "\nConfiguration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "  (file does not exist - using defaults)")
	}
}

// newConfigSetCmd creates the 'config set' command.
func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one setting in the configuration file",
		Long: `Change one setting and save the configuration file.

Keys are "section.name", for example:
  driftbox config set server.base_url https://uploads.example.com
  driftbox config set upload.retry_delays 0s,2s,5s,10s

Known keys: ` + strings.Join(config.Keys(), ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg, path, true); err != nil {
				return err
			}

			shown := args[1]
			if config.IsSecret(args[0]) {
				shown = "<set>"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", strings.ToLower(args[0]), shown)
			return nil
		},
	}

	return cmd
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Status:   ✓ File exists (%d bytes, modified %s)\n", info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status:   File does not exist")
				fmt.Fprintln(out, "Create one with: driftbox config init")
			}
			return nil
		},
	}

	return cmd
}
