package cli

import (
	"github.com/spf13/cobra"

	"github.com/ammar0144/sync4go"
	"github.com/ammar0144/sync4go/pkg/config"
)

// SyncFileOptions holds flags for the syncfile command. Flags left unset keep
// the value from the configuration.
type SyncFileOptions struct {
	*RootOptions
	sync config.SyncConfig
}

// NewSyncFileCommand creates the syncfile command
func NewSyncFileCommand(rootOpts *RootOptions) *cobra.Command {
	return newSyncFileCommand(&SyncFileOptions{RootOptions: rootOpts, sync: config.Default().Sync})
}

func newSyncFileCommand(opts *SyncFileOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncfile <ext_system_name> <model> <file>",
		Short: "Synchronise one model from a feed file",
		Long: `Synchronise the records of a model from a CSV or XLSX feed.

The external system names the source of the feed; external keys of rows are
stored in relation to it. The model is a registered table or type name.

Example:
  sync4go syncfile crm people ./people.csv
  sync4go syncfile --use_bulk --batch_size 1000 crm people ./people.xlsx
  sync4go syncfile --tree --rel_by_external_key catalog categories ./tree.csv`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncFile(cmd, opts, args[0], args[1], args[2])
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.sync.CreateExternalSystem, "create_external_system", opts.sync.CreateExternalSystem, "create the external system when it does not exist")
	f.BoolVar(&opts.sync.AsTransaction, "as_transaction", false, "wrap all of the actions in one transaction")
	f.BoolVar(&opts.sync.RelByExternalKey, "rel_by_external_key", false, "related records are referenced by external key")
	f.StringArrayVar(&opts.sync.RelByExternalKeyExcluded, "rel_by_external_key_excluded", nil, "related table still referenced by id (repeatable)")
	f.BoolVar(&opts.sync.UseBulk, "use_bulk", false, "write records in batches instead of one by one")
	f.BoolVar(&opts.sync.ForceInitInstance, "force_init_instance", false, "skip lookups of existing records; the feed only holds new ones")
	f.BoolVar(&opts.sync.OrderedExecution, "ordered", false, "run every create first, then updates, then deletes")
	f.BoolVar(&opts.sync.Tree, "tree", false, "self-referencing feed: allocate ids up front, in one transaction")
	f.BoolVar(&opts.sync.SuppressNotifications, "suppress_notifications", false, "skip per-record hooks of the model")
	f.IntVar(&opts.sync.BatchSize, "batch_size", opts.sync.BatchSize, "records per bulk write")

	return cmd
}

func runSyncFile(cmd *cobra.Command, opts *SyncFileOptions, system, model, path string) error {
	merged := opts.merge(cmd, opts.cfg.Sync)
	opts.cfg.Sync = merged
	if err := opts.cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid options", err)
	}

	ctx := cmd.Context()
	e, err := opts.openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.SyncFile(ctx, path, sync4go.OptionsFromConfig(merged, system, model))
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	return writeResult(cmd.OutOrStdout(), opts.Format, res)
}

// merge overrides base with the flags given on the command line
func (o *SyncFileOptions) merge(cmd *cobra.Command, base config.SyncConfig) config.SyncConfig {
	changed := cmd.Flags().Changed
	if changed("create_external_system") {
		base.CreateExternalSystem = o.sync.CreateExternalSystem
	}
	if changed("as_transaction") {
		base.AsTransaction = o.sync.AsTransaction
	}
	if changed("rel_by_external_key") {
		base.RelByExternalKey = o.sync.RelByExternalKey
	}
	if changed("rel_by_external_key_excluded") {
		base.RelByExternalKeyExcluded = o.sync.RelByExternalKeyExcluded
	}
	if changed("use_bulk") {
		base.UseBulk = o.sync.UseBulk
	}
	if changed("force_init_instance") {
		base.ForceInitInstance = o.sync.ForceInitInstance
	}
	if changed("ordered") {
		base.OrderedExecution = o.sync.OrderedExecution
	}
	if changed("tree") {
		base.Tree = o.sync.Tree
	}
	if changed("suppress_notifications") {
		base.SuppressNotifications = o.sync.SuppressNotifications
	}
	if changed("batch_size") {
		base.BatchSize = o.sync.BatchSize
	}
	return base
}
