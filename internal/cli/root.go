package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/tuindex/internal/config"
	"github.com/mvp-joe/tuindex/internal/git"
	"github.com/mvp-joe/tuindex/internal/logging"
	"github.com/mvp-joe/tuindex/internal/workspace"
)

// rootOptions holds the global flags.
type rootOptions struct {
	cfgFile string
	rootDir string
	verbose bool
	git     git.Operations
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &rootOptions{git: git.NewOperations()}
	cmd := &cobra.Command{
		Use:   "tuindex",
		Short: "Index C translation units into a queryable symbol graph",
		Long: `tuindex parses C translation units, follows their includes and
conditional compilation, and indexes every declaration, reference and
include edge into an immutable snapshot.

Configuration is read from .tuindex/config.yml in the root directory and
TUINDEX_* environment variables.`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is <root>/.tuindex/config.yml)")
	cmd.PersistentFlags().StringVar(&opts.rootDir, "root", "", "project root directory (default is the git worktree root, or the working directory)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newIndexCmd(opts),
		newRefsCmd(opts),
		newIncludesCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration for the root directory.
func (o *rootOptions) loadConfig() (string, *config.Config, error) {
	rootDir := o.rootDir
	if rootDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		rootDir = o.git.WorktreeRoot(wd)
	}

	var loaderOpts []config.LoaderOption
	if o.cfgFile != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(o.cfgFile))
	}
	cfg, err := config.NewLoader(rootDir, loaderOpts...).Load()
	if err != nil {
		return "", nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	return rootDir, cfg, nil
}

// openWorkspace loads the configuration and builds the workspace. Logs go
// to the command's error stream.
func (o *rootOptions) openWorkspace(cmd *cobra.Command) (*workspace.Workspace, *config.Config, error) {
	rootDir, cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	ws, err := workspace.New(rootDir, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return ws, cfg, nil
}
