package cmd

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cidx-dev/cidx/internal/config"
	"github.com/cidx-dev/cidx/internal/daemon"
	"github.com/cidx-dev/cidx/internal/embed"
	"github.com/cidx-dev/cidx/internal/logging"
	"github.com/cidx-dev/cidx/internal/output"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	root, err := resolveProjectRoot()
	if err != nil {
		return err
	}
	collection := collectionSlug(root)

	dataDir := logging.DataDir(root)
	logger, cleanup, err := logging.Setup(logging.DefaultConfig(dataDir))
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer cleanup()

	cfg, err := config.Load(filepath.Join(dataDir, config.FileName), logger)
	if err != nil {
		return err
	}

	if err := ensureCollection(root, collection, cfg, logger); err != nil {
		return err
	}

	lock := embed.NewOwnershipLock(collDir(root, collection))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire collection ownership lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon already owns collection %s (standalone and daemon modes are mutually exclusive)", collection)
	}
	defer lock.Unlock()

	daemonCfg := daemon.DefaultConfig(root)
	if err := daemonCfg.EnsureDir(); err != nil {
		return err
	}

	client := daemon.NewClient(daemonCfg)
	if client.IsRunning() {
		return fmt.Errorf("a daemon is already listening on %s", daemonCfg.SocketPath)
	}

	handler, err := buildHandler(root, collection, cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go handler.Cache().Run(ctx)
	defer handler.Cache().Stop()

	pidFile := daemon.NewPIDFile(daemonCfg.PIDPath)
	if err := pidFile.Write(daemonCfg.SocketPath); err != nil {
		return err
	}
	defer pidFile.Remove()

	server := daemon.NewServer(daemonCfg, logger)
	server.SetHandler(handler)

	out.Statusf("listening on %s", daemonCfg.SocketPath)
	return server.ListenAndServe(ctx)
}
