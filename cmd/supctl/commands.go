package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	supervise "github.com/axondata/go-supervise"
)

// signalContext returns a context cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// opTimeout bounds simple control operations
const opTimeout = 10 * time.Second

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start UNIT_DIR",
		Short: "Start the unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			client, err := supervise.NewClient(args[0])
			if err != nil {
				return err
			}
			return client.Start(ctx)
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop UNIT_DIR",
		Short: "Stop the unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			client, err := supervise.NewClient(args[0])
			if err != nil {
				return err
			}
			return client.Stop(ctx)
		},
	}
}

func newRestartCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "restart UNIT_DIR",
		Short: "Restart the unit (stop, wait for exit, start)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := supervise.NewClient(args[0])
			if err != nil {
				return err
			}
			return client.Restart(ctx)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute,
		"bound for the stop-wait-start sequence")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status UNIT_DIR...",
		Short: "Show unit status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			if len(args) == 1 {
				client, err := supervise.NewClient(args[0])
				if err != nil {
					return err
				}
				status, err := client.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Println(formatStatus(args[0], status))
				return nil
			}

			manager := supervise.NewManager()
			statuses, err := manager.Status(ctx, args...)
			for _, dir := range args {
				if status, ok := statuses[dir]; ok {
					fmt.Println(formatStatus(dir, status))
				}
			}
			return err
		},
	}
}

// formatStatus renders one status line in the sv output shape:
// "running: /srv/units/bot: (pid 4323) 42s"
func formatStatus(dir string, st supervise.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s:", st.State, dir)
	if st.PID > 0 {
		fmt.Fprintf(&b, " (pid %d)", st.PID)
	}
	if !st.Since.IsZero() {
		fmt.Fprintf(&b, " %ds", int(st.Uptime.Seconds()))
	}
	return b.String()
}

func newEnableCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enable UNIT_DIR",
		Short: "Start the unit automatically at boot",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return supervise.Enable(args[0], flags.scanDir)
		},
	}
}

func newDisableCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disable UNIT_DIR",
		Short: "Do not start the unit automatically at boot",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return supervise.Disable(args[0], flags.scanDir)
		},
	}
}

func newLogsCmd() *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs UNIT_DIR",
		Short: "Print the unit's log tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			tailer, err := supervise.NewTailer(args[0], lines, follow)
			if err != nil {
				return err
			}

			ch, cleanup, err := tailer.Run(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			for {
				select {
				case line, ok := <-ch:
					if !ok {
						return nil
					}
					if line.Err != nil {
						fmt.Fprintln(os.Stderr, line.Err)
						continue
					}
					fmt.Println(line.Text)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing appended lines")
	return cmd
}

func newUpdateCmd(log func() *zap.Logger) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "update UNIT_DIR",
		Short: "Fetch the latest source and restart the unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			updater, err := supervise.NewUpdater(args[0],
				supervise.WithUpdateTimeout(timeout),
				supervise.WithUpdateLogger(log()),
			)
			if err != nil {
				return err
			}
			return updater.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", supervise.DefaultUpdateTimeout,
		"bound for the update command")
	return cmd
}

func newRunCmd(log func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run UNIT_DIR",
		Short: "Run the supervisor daemon for one unit (foreground)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			daemon, err := supervise.NewDaemon(args[0], supervise.WithLogger(log()))
			if err != nil {
				return err
			}
			return daemon.Run(ctx)
		},
	}
}

func newTreeCmd(flags *rootFlags, log func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Supervise every unit linked into the scan directory (foreground)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			tree, err := supervise.NewTree(flags.scanDir, supervise.WithTreeLogger(log()))
			if err != nil {
				return err
			}
			return tree.Run(ctx)
		},
	}
}

func newInstallCmd() *cobra.Command {
	var (
		dir          string
		cwd          string
		env          []string
		restart      string
		restartDelay time.Duration
		updateCmd    []string
		down         bool
	)

	cmd := &cobra.Command{
		Use:   "install NAME -- COMMAND [ARG...]",
		Short: "Materialize a unit directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			name, argv := args[0], args[1:]

			builder := supervise.NewUnitBuilder(name, dir).
				WithCmd(argv).
				WithRestart(supervise.RestartPolicy(restart))
			if cwd != "" {
				builder.WithCwd(cwd)
			}
			if restartDelay > 0 {
				builder.WithRestartDelay(restartDelay)
			}
			if len(updateCmd) > 0 {
				builder.WithUpdateCmd(updateCmd)
			}
			if down {
				builder.WithDown()
			}
			for _, kv := range env {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
				}
				builder.WithEnv(key, value)
			}

			return builder.Build()
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "base directory for the unit directory")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the process")
	cmd.Flags().StringArrayVar(&env, "env", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&restart, "restart", string(supervise.RestartOnFailure),
		"restart policy (always, on-failure, never)")
	cmd.Flags().DurationVar(&restartDelay, "restart-delay", 0,
		"delay before relaunching after an exit")
	cmd.Flags().StringSliceVar(&updateCmd, "update-cmd", nil,
		"update command argv (comma separated)")
	cmd.Flags().BoolVar(&down, "down", false, "create the unit disabled")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			info := supervise.GetVersion()
			fmt.Printf("supctl %s (protocol %s)\n", info.Version, info.Protocol)
		},
	}
}
