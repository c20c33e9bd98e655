package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridops/caiso-fetch/internal/config"
)

func newInfoCmd() *cobra.Command {
	cfg := config.Default()
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show data availability notes and the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}

			fmt.Println("CAISO OASIS data availability:")
			fmt.Println("  - historical data for past dates, forecasts for future dates")
			fmt.Println("  - market runs: DA (day-ahead), 2DA (2-day-ahead), 7DA (7-day-ahead)")
			fmt.Println("  - data format: XML report files inside ZIP archives")
			fmt.Println("  - availability varies; check the CAISO OASIS site for current coverage")
			fmt.Println()
			fmt.Println("Effective settings:")
			fmt.Printf("  endpoint:          %s\n", cfg.BaseURL)
			fmt.Printf("  report:            %s (version %d)\n", cfg.QueryName, cfg.Version)
			fmt.Printf("  market run:        %s\n", cfg.MarketRun)
			fmt.Printf("  chunk size:        up to %d days per request\n", cfg.MaxChunkDays)
			fmt.Printf("  rate limit:        %s between requests\n", cfg.RateLimit)
			fmt.Printf("  retries:           %d per chunk\n", cfg.MaxRetries)
			fmt.Printf("  default range:     %s .. %s\n", cfg.DefaultStart, cfg.DefaultEnd)
			fmt.Printf("  archives:          %s\n", cfg.OutputDir)
			fmt.Printf("  csv output:        %s (compress: %v)\n", cfg.DataDir, cfg.CompressCSV)
			fmt.Printf("  manifest database: %s\n", cfg.DBPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default: ./caiso.toml, then ~/.caiso-fetch/config.toml)")

	return cmd
}
