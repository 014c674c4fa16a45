package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/streamline/internal/config"
	"github.com/kingrea/streamline/internal/connection"
	"github.com/kingrea/streamline/internal/logging"
	"github.com/kingrea/streamline/internal/tui"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	projectDir     string
	debug          bool
	directHost     string
	directPort     int
	managementHost string
	managementPort int
	timeout        time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "streamline",
	Short: "Edit stream modules and drive a remote streamline service",
	Long: `streamline keeps a set of numbered source modules and sends them to a
remote service: the direct endpoint evaluates code, the management endpoint
loads block ranges, executes modules over them and undefines modules.

Without a subcommand the interactive shell is started.`,
	SilenceUsage: true,
	RunE:         runShell,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("streamline %s\n", version))

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&projectDir, "dir", "C", "", "Project directory holding .streamline/ (default: working directory)")
	flags.BoolVar(&debug, "debug", false, "Write debug-level entries to .streamline/logs/streamline.log")
	flags.StringVar(&directHost, "direct-host", "", "Override the direct endpoint host")
	flags.IntVar(&directPort, "direct-port", 0, "Override the direct endpoint port")
	flags.StringVar(&managementHost, "management-host", "", "Override the management endpoint host")
	flags.IntVar(&managementPort, "management-port", 0, "Override the management endpoint port")
	flags.DurationVar(&timeout, "timeout", 0, "Override the per-call timeout")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveProjectDir() (string, error) {
	if projectDir != "" {
		return projectDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return cwd, nil
}

// applyFlagOverrides layers explicitly set flags over s.
func applyFlagOverrides(cmd *cobra.Command, s *connection.Settings) {
	flags := cmd.Flags()
	if flags.Changed("direct-host") {
		s.Direct.Host = directHost
	}
	if flags.Changed("direct-port") {
		s.Direct.Port = directPort
	}
	if flags.Changed("management-host") {
		s.Management.Host = managementHost
	}
	if flags.Changed("management-port") {
		s.Management.Port = managementPort
	}
	if flags.Changed("timeout") {
		s.Timeout = timeout
	}
}

func hasFlagOverrides(cmd *cobra.Command) bool {
	for _, name := range []string{"direct-host", "direct-port", "management-host", "management-port", "timeout"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// loadSettings reads the project config and applies flag overrides.
func loadSettings(cmd *cobra.Command) (string, connection.Settings, error) {
	dir, err := resolveProjectDir()
	if err != nil {
		return "", connection.Settings{}, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return "", connection.Settings{}, err
	}
	settings := cfg.Settings()
	applyFlagOverrides(cmd, &settings)
	if err := config.ValidateSettings(settings); err != nil {
		return "", connection.Settings{}, err
	}
	return dir, settings, nil
}

func runShell(cmd *cobra.Command, _ []string) error {
	dir, err := resolveProjectDir()
	if err != nil {
		return err
	}
	if err := config.InitDir(dir); err != nil {
		return fmt.Errorf("initializing %s directory: %w", config.Dir, err)
	}
	logger, err := logging.New(dir, debug)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	app, err := tui.NewApp(dir,
		tui.WithLogger(logger.Named("remote")),
		tui.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	conn := app.Connection()
	if hasFlagOverrides(cmd) {
		settings := conn.Snapshot()
		applyFlagOverrides(cmd, &settings)
		if err := config.ValidateSettings(settings); err != nil {
			return err
		}
		conn.Apply(settings)
	}

	watcher := config.NewWatcher(dir, conn, config.WithWatchLogger(logger.Named("config")))
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Printf("config watcher stopped: %v", err)
		}
	}()

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
