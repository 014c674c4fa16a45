package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/streamline/internal/connection"
	"github.com/kingrea/streamline/internal/logging"
	"github.com/kingrea/streamline/internal/remote"
)

var sendParallel int

var sendCmd = &cobra.Command{
	Use:   "send [FILE...]",
	Short: "Send source to the direct endpoint",
	Long: `Send each FILE to the direct evaluation endpoint and print the reply.
With no FILE, source is read from stdin. Files are sent concurrently.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeLog, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer closeLog()

		if len(args) == 0 {
			src, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			resp, err := client.SendCode(cmd.Context(), string(src))
			return printResponse(cmd.OutOrStdout(), "", resp, err)
		}

		sources := make([]string, len(args))
		for i, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			sources[i] = string(data)
		}
		responses := make([]*remote.Response, len(args))
		errs := make([]error, len(args))
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(1, sendParallel))
		for i := range sources {
			i := i
			g.Go(func() error {
				responses[i], errs[i] = client.SendCode(ctx, sources[i])
				return nil
			})
		}
		_ = g.Wait()

		var firstErr error
		for i, path := range args {
			if err := printResponse(cmd.OutOrStdout(), path, responses[i], errs[i]); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	},
}

var undefineCmd = &cobra.Command{
	Use:   "undefine NAME",
	Short: "Remove a module definition from the remote service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeLog, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer closeLog()
		resp, err := client.UndefineModule(cmd.Context(), args[0])
		return printResponse(cmd.OutOrStdout(), "", resp, err)
	},
}

var loadCmd = &cobra.Command{
	Use:   "load START STOP",
	Short: "Load the inclusive block range START..STOP",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, stop, err := parseRange(args[0], args[1])
		if err != nil {
			return err
		}
		client, closeLog, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer closeLog()
		resp, err := client.LoadBlocks(cmd.Context(), start, stop)
		return printResponse(cmd.OutOrStdout(), "", resp, err)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec START STOP NAME",
	Short: "Execute module NAME over the block range START..STOP",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, stop, err := parseRange(args[0], args[1])
		if err != nil {
			return err
		}
		client, closeLog, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer closeLog()
		resp, err := client.ExecuteModule(cmd.Context(), start, stop, args[2])
		return printResponse(cmd.OutOrStdout(), "", resp, err)
	},
}

func init() {
	sendCmd.Flags().IntVarP(&sendParallel, "parallel", "p", 4, "Maximum number of files sent at once")
	rootCmd.AddCommand(sendCmd, undefineCmd, loadCmd, execCmd)
}

// newClient builds a remote client from the project config plus flag
// overrides. The returned func flushes the log file.
func newClient(cmd *cobra.Command) (*remote.Client, func(), error) {
	dir, settings, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(dir, debug)
	if err != nil {
		logger = logging.Nop()
	}
	client := remote.New(connection.New(settings), remote.WithLogger(logger.Named("remote")))
	return client, func() { _ = logger.Close() }, nil
}

func parseRange(startArg, stopArg string) (int, int, error) {
	start, err := strconv.Atoi(startArg)
	if err != nil {
		return 0, 0, fmt.Errorf("start block %q is not an integer", startArg)
	}
	stop, err := strconv.Atoi(stopArg)
	if err != nil {
		return 0, 0, fmt.Errorf("stop block %q is not an integer", stopArg)
	}
	return start, stop, nil
}

// printResponse writes the reply text. A non-2xx status is reported as an
// error so the process exits non-zero.
func printResponse(w io.Writer, label string, resp *remote.Response, err error) error {
	prefix := ""
	if label != "" {
		prefix = label + ": "
	}
	if err != nil {
		return fmt.Errorf("%s%w", prefix, err)
	}
	if label != "" {
		fmt.Fprintf(w, "==> %s (%d)\n", label, resp.StatusCode)
	}
	fmt.Fprintln(w, resp.Text)
	if !resp.OK() {
		return fmt.Errorf("%s%s returned status %d", prefix, resp.Op, resp.StatusCode)
	}
	return nil
}
