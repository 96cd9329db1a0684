package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cms-migrate/internal/source"
)

var (
	exportBatchSize     int
	includeSystemTables bool
	exportStatsOnly     bool
	exportOut           string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the SQLite content database to a JSON snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateSource(); err != nil {
			return err
		}

		reporter := newBarReporter()
		exp, err := source.Open(cfg.SQLitePath, source.Options{
			BatchSize:           viper.GetInt("export.batch_size"),
			IncludeSystemTables: includeSystemTables,
			OutDir:              exportOut,
		}, Logger, reporter)
		if err != nil {
			return err
		}
		defer exp.Close()

		ctx := cmd.Context()

		if exportStatsOnly {
			counts, err := exp.Stats(ctx)
			if err != nil {
				return err
			}
			tables := make([]string, 0, len(counts))
			for name := range counts {
				tables = append(tables, name)
			}
			sort.Strings(tables)
			printStats(counts, tables)
			return nil
		}

		fmt.Printf("🚚 Exporting %s\n", cfg.SQLitePath)
		start := time.Now()

		uiprogress.Start()
		result, err := exp.Export(ctx)
		uiprogress.Stop()
		if err != nil {
			return err
		}

		fmt.Println("\n📊 Export Report:")
		fmt.Printf("Tables  : %d\n", result.Metadata.TotalTables)
		fmt.Printf("Records : %d\n", result.Metadata.TotalRecords)
		if result.OutputFile != "" {
			fmt.Printf("Snapshot: %s\n", result.OutputFile)
		}
		fmt.Printf("Elapsed : %s\n", time.Since(start).Round(time.Millisecond))

		if !result.Success {
			for _, e := range result.Errors {
				fmt.Printf("    └ Error: %s\n", e)
			}
			return fmt.Errorf("export finished with %d table failures", len(result.Errors))
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(exportCmd)

	exportCmd.Flags().IntVar(&exportBatchSize, "batch-size", 0, "rows fetched per batch (overrides config)")
	exportCmd.Flags().BoolVar(&includeSystemTables, "include-system-tables", false, "export CMS bookkeeping tables too")
	exportCmd.Flags().BoolVar(&exportStatsOnly, "stats-only", false, "print table row counts without exporting")
	exportCmd.Flags().StringVar(&exportOut, "out", ".", "directory for the snapshot file")

	viper.BindPFlag("export.batch_size", exportCmd.Flags().Lookup("batch-size"))
	viper.SetDefault("export.batch_size", 500)
}
