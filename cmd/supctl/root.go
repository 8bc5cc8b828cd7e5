package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// rootFlags holds the global flags shared by all subcommands
type rootFlags struct {
	scanDir  string
	logLevel string
	logJSON  bool
	logFile  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "supctl",
		Short: "Control a supervised bot process",
		Long: `supctl manages units: single long-lived processes supervised by
go-supervise daemons. A unit directory holds the unit.yaml definition, the
env/ directory, the log directory, and the runtime supervise/ state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			l, err := newLogger(flags)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flags.scanDir, "scan-dir", "/var/lib/supervise",
		"directory holding links to enabled units")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false,
		"emit JSON logs instead of console output")
	cmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "",
		"write logs to this file (rotated) instead of stderr")

	log := func() *zap.Logger { return logger }

	cmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newEnableCmd(flags),
		newDisableCmd(flags),
		newLogsCmd(),
		newUpdateCmd(log),
		newRunCmd(log),
		newTreeCmd(flags, log),
		newInstallCmd(),
		newVersionCmd(),
	)

	return cmd
}

// newLogger builds the CLI logger: console or JSON, stderr or rotated file
func newLogger(flags *rootFlags) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(flags.logLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", flags.logLevel, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if !flags.logJSON {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	if flags.logFile == "" {
		return cfg.Build()
	}

	sink := &lumberjack.Logger{
		Filename:   flags.logFile,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}

	encoder := zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	if flags.logJSON {
		encoder = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(sink), lvl)
	return zap.New(core), nil
}
