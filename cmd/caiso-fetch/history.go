package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gridops/caiso-fetch/internal/config"
	"github.com/gridops/caiso-fetch/internal/manifest"
	"github.com/gridops/caiso-fetch/internal/platform/sqlite"
	manifestrepo "github.com/gridops/caiso-fetch/internal/repository/manifest"
)

func newHistoryCmd() *cobra.Command {
	cfg := config.Default()
	var (
		cfgPath string
		runID   int64
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent download runs from the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}

			db, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open manifest database: %w", err)
			}
			defer func() { _ = db.Close() }()

			repo := manifestrepo.NewRepository(db.DB)
			if runID > 0 {
				return printRun(cmd.Context(), repo, runID)
			}
			return printRuns(cmd.Context(), repo, limit)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default: ./caiso.toml, then ~/.caiso-fetch/config.toml)")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "manifest database path")
	cmd.Flags().Int64Var(&runID, "run", 0, "show the chunks of a single run")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func printRuns(ctx context.Context, repo manifest.Repository, limit int) error {
	runs, err := repo.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No download runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tREPORT\tMARKET\tRANGE\tOK\tSKIP\tFAIL\tSTATUS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s .. %s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Report, r.MarketRun,
			r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"),
			r.Downloaded, r.Skipped, r.Failed, r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func printRun(ctx context.Context, repo manifest.Repository, id int64) error {
	run, err := repo.GetRun(ctx, id)
	if err != nil {
		return err
	}
	chunks, err := repo.RunChunks(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Run %d: %s %s, %s .. %s, status %s\n",
		run.ID, run.Report, run.MarketRun,
		run.Start.Format("2006-01-02 15:04"), run.End.Format("2006-01-02 15:04"),
		run.Status)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHUNK\tRANGE\tSTATUS\tATTEMPTS\tBYTES\tDETAIL")
	for _, c := range chunks {
		detail := c.Path
		if c.Error != "" {
			detail = c.Error
		}
		fmt.Fprintf(w, "%d/%d\t%s .. %s\t%s\t%d\t%d\t%s\n",
			c.Index, c.Total,
			c.Start.Format("2006-01-02"), c.End.Format("2006-01-02"),
			c.Status, c.Attempts, c.Bytes, detail)
	}
	return w.Flush()
}
