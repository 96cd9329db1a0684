package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cms-migrate/internal/pgschema"
	"cms-migrate/internal/relation"
	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/target"
)

var (
	importInput     string
	importBatchSize int
	createSchema    bool
	dropExisting    bool
	noValidate      bool
	testConnection  bool
	importStatsOnly bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a transformed dataset into PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateTarget(); err != nil {
			return err
		}

		ctx := cmd.Context()
		opts := target.Options{
			BatchSize:      viper.GetInt("import.batch_size"),
			MaxConnections: cfg.Postgres.MaxConnections,
			CreateSchema:   createSchema,
			DropExisting:   dropExisting,
			Schema:         cfg.Postgres.Schema,
		}

		if testConnection {
			imp, err := target.Connect(cfg.DSN(), opts, Logger, nil)
			if err != nil {
				return err
			}
			defer imp.Close()
			version, err := imp.TestConnection(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Connected: %s\n", version)
			return nil
		}

		if importInput == "" {
			return fmt.Errorf("--input is required (a transform JSON file)")
		}
		tr, err := snapshot.ReadTransformFile(importInput)
		if err != nil {
			return err
		}

		tables := make([]string, 0, len(tr.Data))
		for name := range tr.Data {
			tables = append(tables, name)
		}
		sort.Strings(tables)

		if importStatsOnly {
			counts := make(map[string]int, len(tr.Data))
			for name, rows := range tr.Data {
				counts[name] = len(rows)
			}
			printStats(counts, tables)
			return nil
		}

		reporter := newBarReporter()
		imp, err := target.Connect(cfg.DSN(), opts, Logger, reporter)
		if err != nil {
			return err
		}
		defer imp.Close()

		gen := pgschema.NewGenerator(cfg.Postgres.Schema, Logger)
		schemas, issues := gen.Generate(tr)

		mapper := relation.NewMapper()
		snapshots := make(map[string]*snapshot.TableSnapshot, len(tr.Shapes))
		for name, shape := range tr.Shapes {
			snapshots[name] = &snapshot.TableSnapshot{Name: name, ForeignKeys: shape.ForeignKeys}
		}
		mapper.BuildFromForeignKeys(snapshots)
		order := mapper.ImportOrder(tables)

		fmt.Printf("🚚 Importing %d tables into %s\n", len(tables), cfg.Postgres.Schema)
		start := time.Now()

		uiprogress.Start()
		result := imp.Import(ctx, tr, schemas, order)
		uiprogress.Stop()

		if !noValidate {
			expected := make(map[string]int, len(tr.Data))
			for name, rows := range tr.Data {
				expected[name] = len(rows)
			}
			issues = append(issues, imp.VerifyCounts(ctx, expected)...)
		}

		fmt.Println("\n📊 Import Report (Dependency Order):")
		for i, name := range order {
			icon := "✓"
			if _, ok := result.TableRows[name]; !ok {
				icon = "!"
			}
			fmt.Printf("[%s] [%02d/%02d] %-24s : %d rows\n", icon, i+1, len(order), name, result.TableRows[name])
		}
		fmt.Println("--------------------------------------------------")
		fmt.Printf("Total Records: %d\n", result.Metadata.TotalRecords)
		fmt.Printf("Elapsed      : %s\n", time.Since(start).Round(time.Millisecond))

		warnings, errs := snapshot.CountBySeverity(issues)
		warnings += len(result.Warnings)
		for _, w := range result.Warnings {
			fmt.Printf("    └ Warning: %s\n", w)
		}
		for _, is := range issues {
			if is.Severity == snapshot.SeverityWarning {
				fmt.Printf("    └ Warning: %s\n", is.Message)
			} else {
				fmt.Printf("    └ Error: %s\n", is.Message)
			}
		}
		for _, e := range result.Errors {
			fmt.Printf("    └ Error: %s\n", e)
		}

		if !result.Success || errs > 0 {
			return fmt.Errorf("import finished with errors (%d errors, %d warnings)", len(result.Errors)+errs, warnings)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importInput, "input", "", "transform JSON file to load")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "rows per INSERT batch (overrides config)")
	importCmd.Flags().BoolVar(&createSchema, "create-schema", false, "create tables before loading")
	importCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "drop existing tables first (requires --create-schema)")
	importCmd.Flags().BoolVar(&noValidate, "no-validate", false, "skip the post-import row count check")
	importCmd.Flags().BoolVar(&testConnection, "test-connection", false, "probe the target connection and exit")
	importCmd.Flags().BoolVar(&importStatsOnly, "stats-only", false, "print dataset row counts without importing")

	viper.BindPFlag("import.batch_size", importCmd.Flags().Lookup("batch-size"))
	viper.SetDefault("import.batch_size", 500)
}
