package tables

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/alitto/pond/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/config"
	"github.com/truly-network/eventlistener/pkg/db"
	"github.com/truly-network/eventlistener/pkg/logging"
)

// OpenStore opens the store the commands operate on.
type OpenStore func(ctx context.Context, logger *zap.Logger, cfg config.Config) (db.Store, error)

// ErrTablesFailed is returned when at least one table operation failed.
var ErrTablesFailed = errors.New("one or more table operations failed")

type runner struct {
	open   OpenStore
	table  string
	cfg    config.Config
	store  db.Store
	logger *zap.Logger
}

// NewRootCmd returns the table admin command tree.
func NewRootCmd(open OpenStore) *cobra.Command {
	r := &runner{open: open}

	root := &cobra.Command{
		Use:   "tables",
		Short: "Manage the event listener tables",
		Long: `tables creates, deletes and inspects the tables the event listener writes to.

Configuration is read from the same environment as the listener
(ENVIRONMENT, AWS_REGION, AWS_ENDPOINT, TABLE_EVENTS_BY_TOKEN, TABLE_EVENTS_SYSTEM).`,
		SilenceUsage:      true,
		PersistentPreRunE: r.setup,
		PersistentPostRun: func(*cobra.Command, []string) { logging.Flush(r.logger) },
	}
	root.PersistentFlags().StringVarP(&r.table, "table", "t", "", "operate on this table only")

	root.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create missing tables",
			RunE:  func(cmd *cobra.Command, _ []string) error { return r.each(cmd, r.create) },
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Delete tables",
			RunE:  func(cmd *cobra.Command, _ []string) error { return r.each(cmd, r.delete) },
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether each table exists",
			RunE:  func(cmd *cobra.Command, _ []string) error { return r.each(cmd, r.status) },
		},
	)
	return root
}

func (r *runner) setup(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New()
	if err != nil {
		return err
	}
	r.logger = logger

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	r.cfg = cfg

	store, err := r.open(cmd.Context(), logger, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	r.store = store
	return nil
}

type tableOp func(ctx context.Context, def db.TableDefinition) (string, error)

// each runs op on every selected table concurrently and prints one line per table.
func (r *runner) each(cmd *cobra.Command, op tableOp) error {
	defs := db.FilterTables(db.EventTables(r.cfg.Tables), r.table)
	if len(defs) == 0 {
		return fmt.Errorf("unknown table %q", r.table)
	}

	type result struct {
		msg string
		err error
	}
	results := make([]result, len(defs))

	pool := pond.NewPool(len(defs))
	defer pool.StopAndWait()
	group := pool.NewGroup()
	for i, def := range defs {
		group.Submit(func() {
			msg, err := op(cmd.Context(), def)
			results[i] = result{msg: msg, err: err}
		})
	}
	_ = group.Wait()

	failed := false
	for i, res := range results {
		if res.err != nil {
			failed = true
			printf(cmd.ErrOrStderr(), "table %s: %s: %v\n", defs[i].Name, res.msg, res.err)
			continue
		}
		printf(cmd.OutOrStdout(), "table %s: %s\n", defs[i].Name, res.msg)
	}
	if failed {
		return ErrTablesFailed
	}
	return nil
}

func (r *runner) create(ctx context.Context, def db.TableDefinition) (string, error) {
	exists, err := r.store.TableExists(ctx, def.Name)
	if err != nil {
		return "describe failed", err
	}
	if exists {
		return "already exists", nil
	}
	if err := r.store.CreateTable(ctx, def); err != nil {
		return "creation failed", err
	}
	r.logger.Info("Table created", zap.String("table", def.Name))
	return "created", nil
}

func (r *runner) delete(ctx context.Context, def db.TableDefinition) (string, error) {
	if err := r.store.DeleteTable(ctx, def.Name); err != nil {
		if errors.Is(err, db.ErrTableNotFound) {
			return "does not exist", nil
		}
		return "deletion failed", err
	}
	r.logger.Info("Table deleted", zap.String("table", def.Name))
	return "deleted", nil
}

func (r *runner) status(ctx context.Context, def db.TableDefinition) (string, error) {
	exists, err := r.store.TableExists(ctx, def.Name)
	if err != nil {
		return "describe failed", err
	}
	if exists {
		return "exists", nil
	}
	return "missing", nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
