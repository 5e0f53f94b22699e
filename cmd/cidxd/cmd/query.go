package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cidx-dev/cidx/internal/config"
	"github.com/cidx-dev/cidx/internal/daemon"
	"github.com/cidx-dev/cidx/internal/fts"
	"github.com/cidx-dev/cidx/internal/logging"
	"github.com/cidx-dev/cidx/internal/output"
	"github.com/cidx-dev/cidx/internal/query"
)

func newQueryCmd() *cobra.Command {
	var kind, language, pathGlob, branch string
	var limit int

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run one query (semantic, fts, hybrid, or temporal) against the project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 1 {
				text = args[0]
			}
			return runQuery(cmd, kind, text, language, pathGlob, branch, limit)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "semantic", "query kind: semantic, fts, hybrid, temporal")
	cmd.Flags().StringVar(&language, "language", "", "filter by detected language")
	cmd.Flags().StringVar(&pathGlob, "path", "", "filter by path glob")
	cmd.Flags().StringVar(&branch, "branch", "", "restrict to a branch's visible history")
	cmd.Flags().IntVar(&limit, "limit", query.DefaultLimit, "maximum results")

	return cmd
}

func runQuery(cmd *cobra.Command, kind, text, language, pathGlob, branch string, limit int) error {
	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	root, err := resolveProjectRoot()
	if err != nil {
		return err
	}
	collection := collectionSlug(root)

	params := daemon.QueryParams{
		Collection: collection,
		Kind:       kind,
		Text:       text,
		FTS:        fts.SearchParams{Term: text, Mode: fts.ModeExact, Limit: limit},
		Branch:     branch,
		Options: query.Options{
			Language: language,
			PathGlob: pathGlob,
			Limit:    limit,
		},
		Limit: limit,
	}

	daemonCfg := daemon.DefaultConfig(root)
	client := daemon.NewClient(daemonCfg)
	if client.IsRunning() {
		result, err := client.Query(ctx, params)
		if err != nil {
			return err
		}
		return printQueryResult(out, result)
	}

	result, err := runStandaloneQuery(ctx, root, collection, params)
	if err != nil {
		return err
	}
	return printQueryResult(out, result)
}

func runStandaloneQuery(ctx context.Context, root, collection string, params daemon.QueryParams) (daemon.QueryResult, error) {
	dataDir := logging.DataDir(root)
	logger, cleanup, err := logging.Setup(logging.DefaultConfig(dataDir))
	if err != nil {
		return daemon.QueryResult{}, fmt.Errorf("set up logging: %w", err)
	}
	defer cleanup()

	cfg, err := config.Load(filepath.Join(dataDir, config.FileName), logger)
	if err != nil {
		return daemon.QueryResult{}, err
	}

	handler, err := buildHandler(root, collection, cfg, logger)
	if err != nil {
		return daemon.QueryResult{}, err
	}

	return handler.Query(ctx, params)
}

func printQueryResult(out *output.Writer, result daemon.QueryResult) error {
	if len(result.Temporal) > 0 {
		for _, c := range result.Temporal {
			out.Statusf("%s %s %s", c.Hash[:min(8, len(c.Hash))], c.Author, c.Message)
		}
		return nil
	}
	for _, r := range result.Results {
		out.Statusf("%s:%d-%d [%s] %.4f", r.Path, r.StartLine, r.EndLine, r.Source, r.Score)
		if r.Snippet != "" {
			out.Status(r.Snippet)
		}
	}
	return nil
}
