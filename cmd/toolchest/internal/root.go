package internal

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/toolchest/toolchest/internal/blob"
	"github.com/toolchest/toolchest/internal/buildmatrix"
	"github.com/toolchest/toolchest/internal/config"
	"github.com/toolchest/toolchest/internal/cprops"
	"github.com/toolchest/toolchest/internal/fetch"
	"github.com/toolchest/toolchest/internal/installable"
	"github.com/toolchest/toolchest/internal/vcs"
)

var (
	flagDest           string
	flagStaging        string
	flagConfig         string
	flagEnable         []string
	flagDryRun         bool
	flagS3Bucket       string
	flagS3Prefix       string
	flagCache          string
	flagLogLevel       string
	flagPropertiesURL  string
	flagStrictMetadata bool
)

var rootCmd = &cobra.Command{
	Use:   "toolchest",
	Short: "toolchest installs and rebuilds toolchain artifacts",
	Long: `toolchest expands a hierarchical target configuration into concrete
install targets, installs them atomically into a destination tree and
rebuilds source libraries across the compiler fleet.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDest, "dest", "/opt/toolchest", "destination install tree")
	pf.StringVar(&flagStaging, "staging", "", "staging directory (default <dest>/staging)")
	pf.StringVar(&flagConfig, "config", "config", "target configuration file or directory")
	pf.StringArrayVar(&flagEnable, "enable", nil, "feature flags gating conditional config subtrees")
	pf.BoolVar(&flagDryRun, "dry-run", false, "log mutations instead of performing them")
	pf.StringVar(&flagS3Bucket, "s3-bucket", "", "artifact object store bucket")
	pf.StringVar(&flagS3Prefix, "s3-prefix", "opt", "artifact object store key prefix")
	pf.StringVar(&flagCache, "cache", "", "download cache directory (empty disables caching)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&flagPropertiesURL, "properties-url", "", "compiler properties document URL")
	pf.BoolVar(&flagStrictMetadata, "strict-metadata", false, "refuse to build libraries without link metadata")
}

func newLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "toolchest",
		Level: hclog.LevelFromString(flagLogLevel),
	})
}

// newInstallContext assembles the shared installation context from the
// global flags.
func newInstallContext(ctx context.Context, log hclog.Logger) (*installable.Context, error) {
	staging := flagStaging
	if staging == "" {
		staging = filepath.Join(flagDest, "staging")
	}

	ic := installable.NewContext(flagDest, staging, log)
	ic.DryRun = flagDryRun

	var fetchOpts []fetch.Option
	if flagCache != "" {
		fetchOpts = append(fetchOpts, fetch.WithCacheDir(flagCache))
	}
	ic.Fetcher = fetch.New(log, fetchOpts...)
	ic.VCS = vcs.NewGitVCS()

	if flagS3Bucket != "" {
		store, err := blob.New(ctx, flagS3Bucket, flagS3Prefix, log)
		if err != nil {
			return nil, err
		}
		ic.Blob = store
	}

	if flagPropertiesURL != "" {
		props := cprops.NewCache(flagPropertiesURL, ic.Fetcher, log)
		runner := buildmatrix.NewRunner(staging, props, cprops.NewProber(log), log)
		runner.DryRun = flagDryRun
		runner.StrictMetadata = flagStrictMetadata
		ic.Runner = runner
	}
	return ic, nil
}

// loadTargets parses the configuration (a yaml file, or every .yaml file
// in a directory in name order) and expands it into install targets.
func loadTargets(staging string) ([]config.Target, error) {
	enabled := make(map[string]bool, len(flagEnable))
	for _, name := range flagEnable {
		enabled[name] = true
	}
	base := map[string]any{
		"destination": flagDest,
		"staging":     staging,
		"now":         time.Now().Format("20060102150405"),
	}

	files, err := configFiles(flagConfig)
	if err != nil {
		return nil, err
	}

	var targets []config.Target
	for _, file := range files {
		root, err := config.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
		expanded, err := config.Expand(root, enabled, base)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", file, err)
		}
		targets = append(targets, expanded...)
	}
	return targets, nil
}

func configFiles(path string) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{path}, nil
	}
	matches, err := filepath.Glob(filepath.Join(path, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no .yaml files under %s", path)
	}
	sort.Strings(matches)
	return matches, nil
}

// loadInstallables builds the full installable set. Any malformed target
// is fatal: a broken configuration should never half-run.
func loadInstallables(ic *installable.Context, log hclog.Logger) (*installable.Set, error) {
	targets, err := loadTargets(ic.Staging)
	if err != nil {
		return nil, err
	}
	items := make([]installable.Installable, 0, len(targets))
	for _, target := range targets {
		inst, err := installable.FromTarget(ic, target, log)
		if err != nil {
			return nil, err
		}
		items = append(items, inst)
	}
	log.Debug("expanded targets", "count", len(items))
	return installable.NewSet(ic, items), nil
}
