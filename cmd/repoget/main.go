// Package main implements the repoget command-line tool for fetching
// RPM-MD repository metadata and packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/repoget/repoget/internal/core"
)

const defaultConfigPath = "/etc/repoget/repoget.toml"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "repoget",
	Short: "Fetch RPM-MD repository metadata and packages",
	Long: `repoget resolves a repository's mirrors, fetches its repomd.xml manifest
and selected records, and verifies content by checksum and detached
OpenPGP signature.

Find more information at: https://github.com/repoget/repoget`,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch repository metadata (repomd.xml and its records)",
	Long: `Resolves mirrors, downloads repomd.xml, and downloads every selected
record named in it, verifying checksums and (if configured) the
detached signature along the way.

Usage:
  # Fetch using the default configuration file
  repoget fetch

  # Use a custom configuration file
  repoget fetch --config /path/to/repoget.toml

  # Update an existing local copy instead of refetching everything
  repoget fetch --update`,
	RunE: runFetch,
}

var mirrorsCmd = &cobra.Command{
	Use:   "mirrors",
	Short: "Resolve and print the mirror list without downloading anything",
	Long:  `Resolves base_urls/mirrorlisturl/metalinkurl into an ordered mirror list and prints it, optionally after fastest-mirror sorting.`,
	RunE:  runMirrors,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	RunE:  runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("repoget %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(mirrorsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")

	fetchCmd.Flags().Bool("update", false, "update an existing local copy instead of refetching everything")
	fetchCmd.Flags().Bool("no-progress", false, "disable the interactive progress bar even when the log level permits it")
}

// formatError mirrors the teacher CLI's two-tier error presentation:
// a flattened one-liner by default, full stack detail under
// --verbose-errors.
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}
	if flattened := errors.FlattenDetails(err); flattened != "" {
		return flattened
	}
	return err.Error()
}

func loadConfig(cmd *cobra.Command) (*core.Config, error) {
	cfg := core.NewConfig()
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "configuration file not found at %s", configPath)
		}
		return nil, errors.Wrap(err, "decode configuration file")
	}
	if err := cfg.ApplyEnvironmentVariables(); err != nil {
		return nil, errors.Wrap(err, "apply environment overrides")
	}

	if err := cfg.Log.Apply(); err != nil {
		return nil, errors.Wrap(err, "apply log config")
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Log.Apply(); err != nil {
			return nil, errors.Wrap(err, "apply command-line log level")
		}
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		cfg.Log.Level = "error"
		if err := cfg.Log.Apply(); err != nil {
			return nil, errors.Wrap(err, "apply quiet log level")
		}
	}
	return cfg, nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	if update, _ := cmd.Flags().GetBool("update"); update {
		cfg.Update = true
	}
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	h, err := core.NewHandle(cfg)
	if err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	var progress core.ProgressFunc
	if !noProgress && cfg.Log.ShouldShowProgress() {
		bar := pb.New64(0)
		bar.Set(pb.Bytes, true)
		bar.SetTemplateString(`{{ "Fetching:" }} {{ bar . }} {{percent . }} {{speed . "%s/s"}}`)
		bar.Start()
		defer bar.Finish()
		progress = func(total, downloaded int64) core.CallbackResult {
			if total > 0 {
				bar.SetTotal(total)
			}
			bar.SetCurrent(downloaded)
			return core.CBOk
		}
	}

	ctx := context.Background()
	if cfg.Interruptible {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
	}

	res, err := h.FetchMetadata(ctx, nil, progress)
	if err != nil {
		slog.Error("fetch failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}

	slog.Info("fetch complete",
		"destdir", res.Destdir,
		"base_url_used", res.BaseURLUsed,
		"revision", res.Revision,
		"records", len(res.Records))
	for recType, path := range res.Paths {
		if recType == core.RecordTypeManifest {
			recType = "(manifest)"
		}
		slog.Debug("fetched record", "type", recType, "path", path)
	}
	return nil
}

func runMirrors(cmd *cobra.Command, _ []string) error {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}
	cfg.FetchMirrorsOnly = true

	h, err := core.NewHandle(cfg)
	if err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	resolved, err := h.ResolveMirrorsOnly(context.Background())
	if err != nil {
		slog.Error("mirror resolution failed", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	for i, m := range resolved.List.Mirrors {
		fmt.Printf("%2d. %s\n", i+1, m.URL)
	}
	return nil
}

func runValidate(cmd *cobra.Command, _ []string) error {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	cfg := core.NewConfig()
	meta, err := toml.DecodeFile(configPath, cfg)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", configPath)
			os.Exit(1)
		}
		slog.Error("failed to decode config file", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	var problems []string
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		problems = append(problems, "unknown configuration keys: "+strings.Join(keys, ", "))
	}
	if err := cfg.Log.Apply(); err != nil {
		problems = append(problems, "log config: "+err.Error())
	}
	if err := cfg.Check(); err != nil {
		problems = append(problems, "config: "+formatError(err, verboseErrors))
	}

	if len(problems) > 0 {
		slog.Error("the toml configuration file is not valid")
		for _, p := range problems {
			slog.Error(p)
		}
		os.Exit(1)
	}
	slog.Info("the toml configuration file passes validation checks", "path", filepath.Clean(configPath))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
