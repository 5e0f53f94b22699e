package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cidx-dev/cidx/internal/config"
	"github.com/cidx-dev/cidx/internal/daemon"
	"github.com/cidx-dev/cidx/internal/embed"
	"github.com/cidx-dev/cidx/internal/logging"
	"github.com/cidx-dev/cidx/internal/orchestrator"
	"github.com/cidx-dev/cidx/internal/output"
)

func newIndexCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index (or reindex) the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, full)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "force a full rescan, ignoring the reconcile manifest")
	return cmd
}

func runIndex(cmd *cobra.Command, full bool) error {
	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	root, err := resolveProjectRoot()
	if err != nil {
		return err
	}
	collection := collectionSlug(root)
	params := daemon.IndexParams{Collection: collection, Full: full}

	onProgress := func(p orchestrator.Progress) {
		out.Progress(fmt.Sprintf("%d/%d files (%s)", p.CompletedFiles, p.TotalFiles, p.CurrentFile))
	}
	defer out.ProgressDone()

	daemonCfg := daemon.DefaultConfig(root)
	client := daemon.NewClient(daemonCfg)
	if client.IsRunning() {
		result, err := client.Index(ctx, params, onProgress)
		if err != nil {
			return err
		}
		return printIndexResult(out, result)
	}

	result, err := runStandaloneIndex(ctx, root, collection, params, onProgress)
	if err != nil {
		return err
	}
	return printIndexResult(out, result)
}

// runStandaloneIndex bootstraps the collection and runs one indexing cycle
// in-process, guarded by the ownership lock so a daemon starting
// concurrently for the same project cannot race this run (§5 "standalone
// mode relies on the absence of a running daemon, enforced by PID file").
func runStandaloneIndex(ctx context.Context, root, collection string, params daemon.IndexParams, onProgress func(orchestrator.Progress)) (daemon.IndexResult, error) {
	dataDir := logging.DataDir(root)
	logger, cleanup, err := logging.Setup(logging.DefaultConfig(dataDir))
	if err != nil {
		return daemon.IndexResult{}, fmt.Errorf("set up logging: %w", err)
	}
	defer cleanup()

	cfg, err := config.Load(filepath.Join(dataDir, config.FileName), logger)
	if err != nil {
		return daemon.IndexResult{}, err
	}

	if err := ensureCollection(root, collection, cfg, logger); err != nil {
		return daemon.IndexResult{}, err
	}

	lock := embed.NewOwnershipLock(collDir(root, collection))
	locked, err := lock.TryLock()
	if err != nil {
		return daemon.IndexResult{}, fmt.Errorf("acquire collection ownership lock: %w", err)
	}
	if !locked {
		return daemon.IndexResult{}, fmt.Errorf("collection %s is owned by a running daemon; stop it or use the daemon's index method", collection)
	}
	defer lock.Unlock()

	handler, err := buildHandler(root, collection, cfg, logger)
	if err != nil {
		return daemon.IndexResult{}, err
	}

	return handler.Index(ctx, params, onProgress)
}

func printIndexResult(out *output.Writer, result daemon.IndexResult) error {
	out.Successf("indexed %d files (%d deleted), %d points upserted (%d deleted), full_rebuild=%v",
		result.FilesIndexed, result.FilesDeleted, result.PointsUpserted, result.PointsDeleted, result.FullRebuild)
	return nil
}
