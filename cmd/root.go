package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/StinkyLord/modlist-builder/internal/config"
)

const toolVersion = "1.0.0"

var (
	flagConfig  string
	flagVerbose bool

	flagGame           string
	flagInstall        string
	flagDownloads      string
	flagOutput         string
	flagCache          string
	flagFormat         string
	flagSevenZip       string
	flagWorkers        int
	flagAllowUnmatched bool

	flagForce bool
)

var rootCmd = &cobra.Command{
	Use:   "modlist-builder",
	Short: "Compile a modded game installation into a modlist",
	Long: `modlist-builder compares a modded game installation against the archives
it was built from and writes a modlist: a manifest describing how to
reproduce every installed file from its downloads.

Each installed file is placed by the first matching rule:
  • Ignore       — files under the downloads folder or matching ignore patterns
  • Inline       — small config files stored verbatim in the modlist
  • Direct match — byte-identical to a file inside a downloaded archive
  • Patch        — same name as an archived file; rebuilt from a binary patch
  • No match     — anything else; fails the build unless allowed`,
	SilenceUsage: true,
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Index the installation and downloads, then write the modlist",
	Long: `Compile indexes the install and downloads folders, matches every installed
file to a downloaded archive, builds patches for modified files and exports
the manifest and blobs to the output folder.

Settings come from modlist.toml (or --config), MODLIST_* environment
variables and the flags below, in increasing order of precedence.

Examples:
  modlist-builder compile --game skyrimse --install ~/Games/Skyrim --downloads ~/Games/Skyrim/downloads
  modlist-builder compile --config lists/survival.toml --format yaml -v`,
	RunE: runCompile,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage modlist.toml",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a modlist.toml with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved settings",
	RunE:  runConfigShow,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tool version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "modlist-builder v%s\n", toolVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default is ./modlist.toml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	compileCmd.Flags().StringVarP(&flagGame, "game", "g", "", "Game identifier written to the manifest")
	compileCmd.Flags().StringVarP(&flagInstall, "install", "i", "", "Path to the modded game installation")
	compileCmd.Flags().StringVarP(&flagDownloads, "downloads", "d", "", "Path to the downloaded archives")
	compileCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Output folder for the modlist")
	compileCmd.Flags().StringVar(&flagCache, "cache", "", "Folder for content index caches")
	compileCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "Manifest format: json, yaml")
	compileCmd.Flags().StringVar(&flagSevenZip, "7z", "", "Path to the 7-Zip executable")
	compileCmd.Flags().IntVarP(&flagWorkers, "workers", "w", 0, "Parallel workers (0 derives from CPUs and memory)")
	compileCmd.Flags().BoolVar(&flagAllowUnmatched, "allow-unmatched", false,
		"Write the modlist even when some installed files have no match.\n"+
			"Unmatched files are reported and left out of the manifest.")

	configInitCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(compileCmd, configCmd, versionCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(toolVersion),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// newLogger returns a slog logger backed by charmbracelet/log on stderr.
func newLogger(level string) *slog.Logger {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		lvl = charmlog.InfoLevel
	}
	if flagVerbose {
		lvl = charmlog.DebugLevel
	}
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "modlist",
	})
	return slog.New(handler)
}

func loadConfig(ctx context.Context) (*config.Config, string, error) {
	return config.Load(ctx, config.LoadOptions{ConfigFile: flagConfig})
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.FileName
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.Write(afero.NewOsFs(), path, config.DefaultConfig(), flagForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Config written to: %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "# from %s\n", path)
	}
	return renderConfig(cmd.OutOrStdout(), cfg)
}
