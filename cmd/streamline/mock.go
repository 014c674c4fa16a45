package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/streamline/internal/logging"
	"github.com/kingrea/streamline/internal/mockrepl"
)

var (
	mockHost  string
	mockPort  int
	mockDelay time.Duration
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve a local stand-in for the remote service",
	Long: `Serve every route of the remote service on one address. Point both the
direct and the management endpoint at it to work offline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		logger := logging.FromZap(zl).Named("mock")
		defer logger.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := net.JoinHostPort(mockHost, strconv.Itoa(mockPort))
		server := mockrepl.NewServer(addr, mockrepl.WithLogger(logger), mockrepl.WithDelay(mockDelay))
		if err := server.Start(ctx); err != nil {
			return err
		}
		host, port := server.HostPort()
		fmt.Fprintf(cmd.OutOrStdout(), "mock listening on %s\n", server.Addr())
		fmt.Fprintf(cmd.OutOrStdout(), "connect with: streamline --direct-host %s --direct-port %d --management-host %s --management-port %d\n",
			host, port, host, port)

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

// settingsView is the YAML shape printed by `streamline config`.
type settingsView struct {
	Project    string       `yaml:"project"`
	Scheme     string       `yaml:"scheme"`
	Direct     endpointView `yaml:"direct"`
	Management endpointView `yaml:"management"`
	Timeout    string       `yaml:"timeout"`
}

type endpointView struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	URL  string `yaml:"url"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective connection settings",
	Long: `Print the connection settings after applying .streamline/config.yaml
(or config.toml), STREAMLINE_* environment variables and command-line flags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		view := settingsView{
			Project: dir,
			Scheme:  settings.Scheme,
			Direct: endpointView{
				Host: settings.Direct.Host,
				Port: settings.Direct.Port,
				URL:  settings.DirectURL(""),
			},
			Management: endpointView{
				Host: settings.Management.Host,
				Port: settings.Management.Port,
				URL:  settings.ManagementURL(""),
			},
			Timeout: settings.Timeout.String(),
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(view)
	},
}

func init() {
	mockCmd.Flags().StringVar(&mockHost, "host", "127.0.0.1", "Address to bind")
	mockCmd.Flags().IntVar(&mockPort, "port", 8080, "Port to bind (0 picks a free port)")
	mockCmd.Flags().DurationVar(&mockDelay, "delay", 0, "Artificial latency added to every reply")
	rootCmd.AddCommand(mockCmd, configCmd)
}
