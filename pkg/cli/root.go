// Package cli implements the sync4go command line. Applications embed it and
// pass a RegisterFunc that makes their models known to the engine.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ammar0144/sync4go"
	"github.com/ammar0144/sync4go/pkg/config"
	"github.com/ammar0144/sync4go/pkg/logging"
)

// RegisterFunc registers the models feeds may target
type RegisterFunc func(e *sync4go.Engine) error

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool

	register RegisterFunc
	cfg      *config.Config
	logger   *zap.Logger
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. register may be nil.
func NewRootCommand(register RegisterFunc) *cobra.Command {
	opts := &RootOptions{register: register}

	cmd := &cobra.Command{
		Use:   "sync4go",
		Short: "Synchronise external data feeds into a database",
		Long: `sync4go applies CSV and XLSX feeds to database tables.

Every row carries action flags (c create, u update, d delete, * force), an
optional match_on list naming the fields that identify the record, and an
optional external_key the source system knows the record by.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewSyncFileCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// load reads the configuration and builds the logger
func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	o.cfg, o.logger = cfg, logger
	return nil
}

// openEngine connects to the configured database and registers the models
func (o *RootOptions) openEngine(ctx context.Context) (*sync4go.Engine, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	e, err := sync4go.Open(ctx, o.cfg, o.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if o.register != nil {
		if err := o.register(e); err != nil {
			e.Close()
			return nil, WrapExitError(ExitCommandError, "failed to register models", err)
		}
	}
	return e, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
