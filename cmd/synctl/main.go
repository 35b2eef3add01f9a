package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-trigger-sync/internal/app"
	"github.com/Guizzs26/go-trigger-sync/internal/config"
	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/extract"
	"github.com/Guizzs26/go-trigger-sync/internal/history"
	"github.com/Guizzs26/go-trigger-sync/internal/trigger"
	"github.com/Guizzs26/go-trigger-sync/pkg/infra"
)

var rootCmd = &cobra.Command{
	Use:   "synctl",
	Short: "Operate the change capture of a sync node",
	Long:  `Install and drop capture triggers, extract batches to files, load batch files and inspect table fingerprints.`,
}

var syncTriggersCmd = &cobra.Command{
	Use:   "sync-triggers",
	Short: "Install or rebuild the capture triggers of every definition",
	RunE:  runSyncTriggers,
}

var dropTriggersCmd = &cobra.Command{
	Use:   "drop-triggers [trigger-id...]",
	Short: "Drop capture triggers, all of them when no id is given",
	RunE:  runDropTriggers,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Batch pending changes and write every unsent batch to a directory",
	RunE:  runExtract,
}

var loadCmd = &cobra.Command{
	Use:   "load <file>...",
	Short: "Load batch files into this node",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLoad,
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <table>",
	Short: "Print the structure hash of a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runFingerprint,
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print the id and password of this node",
	RunE:  runIdentity,
}

var (
	force     bool
	outputDir string
	schema    string
)

func init() {
	syncTriggersCmd.Flags().BoolVar(&force, "force", false, "Rebuild triggers even when the table did not change")
	extractCmd.Flags().StringVar(&outputDir, "out", "batches", "Directory receiving one file per batch")
	fingerprintCmd.Flags().StringVar(&schema, "schema", "", "Schema of the table")

	rootCmd.AddCommand(syncTriggersCmd)
	rootCmd.AddCommand(dropTriggersCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(identityCmd)

	cobra.OnInitialize(func() {
		rootCmd.SilenceUsage = true
		rootCmd.SilenceErrors = true
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func open(cmd *cobra.Command) (*app.Node, *config.Config, error) {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	node, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open node database: %w", err)
	}
	return node, cfg, nil
}

func runSyncTriggers(cmd *cobra.Command, args []string) error {
	node, cfg, err := open(cmd)
	if err != nil {
		return err
	}
	defer node.Close()

	capture, err := config.LoadTriggers(cfg.TriggersFile, cfg.BatchSize)
	if err != nil {
		return err
	}

	reason := history.ReasonNew
	if force {
		reason = history.ReasonForced
	}
	installer := node.Installer()
	bar := newBar(int64(len(capture.Triggers)), "Installing triggers")
	var failed []string
	for _, t := range capture.Triggers {
		_, err := installer.Install(cmd.Context(), t, reason)
		switch {
		case errors.Is(err, trigger.ErrTableNotFound):
			node.Logger().Warn("Source table missing, skipped", "trigger", t.ID, "table", t.QualifiedTableName())
		case err != nil:
			failed = append(failed, t.ID)
		}
		bar.Add(1)
	}
	bar.Finish()

	if len(failed) > 0 {
		return fmt.Errorf("%d trigger(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func runDropTriggers(cmd *cobra.Command, args []string) error {
	node, _, err := open(cmd)
	if err != nil {
		return err
	}
	defer node.Close()

	active, err := node.Histories.ListActive(cmd.Context(), node.DB)
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(args))
	for _, id := range args {
		wanted[id] = true
	}

	installer := node.Installer()
	bar := newBar(int64(len(active)), "Dropping triggers")
	for _, h := range active {
		if len(wanted) == 0 || wanted[h.TriggerID] {
			if err := installer.Drop(cmd.Context(), h.Trigger()); err != nil {
				return err
			}
		}
		bar.Add(1)
	}
	return bar.Finish()
}

func runExtract(cmd *cobra.Command, args []string) error {
	node, cfg, err := open(cmd)
	if err != nil {
		return err
	}
	defer node.Close()

	capture, err := config.LoadTriggers(cfg.TriggersFile, cfg.BatchSize)
	if err != nil {
		return err
	}

	extractor := node.Extractor()
	ids, err := extractor.CreateBatches(cmd.Context(), capture.Channels)
	if err != nil {
		return err
	}
	pending, err := node.Repo.OutgoingBatches(cmd.Context(), db.OutgoingNew, cfg.BatchSize)
	if err != nil {
		return err
	}

	bar := newBar(int64(len(pending)), "Extracting batches")
	sink := countingSink{Sink: extract.NewFileSink(outputDir), bar: bar}
	sent, err := extractor.Send(cmd.Context(), sink, cfg.BatchSize)
	bar.Finish()
	fmt.Fprintf(cmd.OutOrStdout(), "created %d batch(es), wrote %d to %s\n", len(ids), sent, outputDir)
	return err
}

func runLoad(cmd *cobra.Command, args []string) error {
	node, _, err := open(cmd)
	if err != nil {
		return err
	}
	defer node.Close()

	loader := node.Loader()
	bar := newBar(int64(len(args)), "Loading batches")
	loaded := 0
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		batches, err := loader.Load(cmd.Context(), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		loaded += len(batches)
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintf(cmd.OutOrStdout(), "loaded %d batch(es) from %d file(s)\n", loaded, len(args))
	return nil
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	node, _, err := open(cmd)
	if err != nil {
		return err
	}
	defer node.Close()

	table, err := node.Platform.ReadTable(cmd.Context(), node.DB, "", schema, args[0])
	if err != nil {
		return err
	}
	if table == nil {
		return fmt.Errorf("table %s not found", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\tcolumns=%s\tpk=%s\n",
		table.FullyQualifiedName(), history.ComputeHash(table), strings.Join(table.ColumnNames(), ","), strings.Join(table.PrimaryKeyColumnNames(), ","))
	return nil
}

func runIdentity(cmd *cobra.Command, args []string) error {
	node, _, err := open(cmd)
	if err != nil {
		return err
	}
	defer node.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "node_id\t%s\nnode_password\t%s\n", node.ID, node.Password)
	return nil
}
