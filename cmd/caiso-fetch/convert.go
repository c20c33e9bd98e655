package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gridops/caiso-fetch/internal/apperror"
	"github.com/gridops/caiso-fetch/internal/config"
	"github.com/gridops/caiso-fetch/internal/convert"
)

func newConvertCmd() *cobra.Command {
	cfg := config.Default()
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "convert [archive...]",
		Short: "Convert downloaded OASIS archives to CSV",
		Long: `Convert OASIS ZIP archives to CSV without downloading anything.

With no arguments, every .zip in the output directory is converted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}

			paths := args
			if len(paths) == 0 {
				var err error
				paths, err = filepath.Glob(filepath.Join(cfg.OutputDir, "*.zip"))
				if err != nil {
					return fmt.Errorf("scan %s: %w", cfg.OutputDir, err)
				}
			}
			if len(paths) == 0 {
				return apperror.New(apperror.NotFound, fmt.Sprintf("no archives found in %s", cfg.OutputDir))
			}

			conv := convert.New(
				convert.WithDataDir(cfg.DataDir),
				convert.WithCompress(cfg.CompressCSV),
				convert.WithWorkers(cfg.Workers),
			)
			outputs, err := conv.ConvertAll(cmd.Context(), paths)
			if err != nil {
				return err
			}
			if len(outputs) == 0 {
				return apperror.New(apperror.Unavailable, "no archives could be converted")
			}

			rows := 0
			for _, o := range outputs {
				rows += o.Rows
			}
			fmt.Printf("Converted %d/%d archives into %s (%d rows)\n", len(outputs), len(paths), cfg.DataDir, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default: ./caiso.toml, then ~/.caiso-fetch/config.toml)")
	cmd.Flags().StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory scanned for archives when none are given")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for extracted CSV files")
	cmd.Flags().BoolVar(&cfg.CompressCSV, "compress", cfg.CompressCSV, "gzip the CSV output")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent archive conversions")

	return cmd
}
