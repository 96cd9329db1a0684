package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cms-migrate/internal/orchestrate"
	"cms-migrate/internal/pgschema"
	"cms-migrate/internal/relation"
	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/source"
	"cms-migrate/internal/target"
	"cms-migrate/internal/transform"
	"cms-migrate/internal/validate"
)

var (
	noBackup     bool
	validateData bool
	migrateDry   bool
	migrateOut   string
	backupDir    string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the full SQLite to PostgreSQL migration pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateSource(); err != nil {
			return err
		}
		if err := cfg.ValidateTarget(); err != nil {
			return err
		}

		ctx := cmd.Context()

		if migrateDry {
			return dryRunPlan(cmd, cfg)
		}

		fmt.Printf("🚚 Migrating %s into %s\n", cfg.SQLitePath, cfg.Postgres.Schema)
		start := time.Now()

		uiprogress.Start()
		bar := uiprogress.AddBar(100).AppendCompleted().PrependElapsed()
		bar.PrependFunc(func(b *uiprogress.Bar) string {
			return "Migrating: "
		})

		orch := orchestrate.New(orchestrate.Config{
			SourcePath: cfg.SQLitePath,
			TargetDSN:  cfg.DSN(),
			OutDir:     migrateOut,
			BackupDir:  backupDir,
			Backup:     !noBackup,
			Validate:   validateData,
			Export: source.Options{
				BatchSize: viper.GetInt("export.batch_size"),
			},
			Import: target.Options{
				BatchSize:      viper.GetInt("import.batch_size"),
				MaxConnections: cfg.Postgres.MaxConnections,
				CreateSchema:   true,
				DropExisting:   dropExisting,
				Schema:         cfg.Postgres.Schema,
			},
			OnProgress: func(pct float64) {
				bar.Set(int(pct))
			},
			Logger: Logger,
		})

		result, runErr := orch.Run(ctx)
		uiprogress.Stop()

		printMigrationReport(result, time.Since(start))

		if runErr != nil {
			return runErr
		}
		if !result.Success {
			return fmt.Errorf("migration finished with errors (%d errors, %d warnings)",
				result.Stats.Errors, result.Stats.Warnings)
		}
		return nil
	},
}

// dryRunPlan exports and transforms in memory, then prints the plan
// without touching the target or writing artifacts.
func dryRunPlan(cmd *cobra.Command, cfg *Config) error {
	fmt.Println("🔍 Dry-Run Mode Active: No data will be written.")

	exp, err := source.Open(cfg.SQLitePath, source.Options{
		BatchSize: viper.GetInt("export.batch_size"),
	}, Logger, nil)
	if err != nil {
		return err
	}
	defer exp.Close()

	export, err := exp.Export(cmd.Context())
	if err != nil {
		return err
	}

	tr := transform.New(validate.New(), Logger).Transform(export)
	gen := pgschema.NewGenerator(cfg.Postgres.Schema, Logger)
	schemas, issues := gen.Generate(tr)

	tables := make([]string, 0, len(schemas))
	for _, ts := range schemas {
		tables = append(tables, ts.Name)
	}
	mapper := relation.NewMapper()
	mapper.BuildFromForeignKeys(export.Data)
	order := mapper.ImportOrder(tables)

	deps := make(map[string][]string, len(order))
	for _, name := range order {
		for _, rel := range mapper.Relationships(name) {
			deps[name] = append(deps[name], rel.ToTable)
		}
	}

	fmt.Println("\n📋 Migration Plan (Dependency Order):")
	for i, name := range order {
		line := fmt.Sprintf("[%02d] %-24s : %d rows", i+1, name, len(tr.Data[name]))
		if len(deps[name]) > 0 {
			line += fmt.Sprintf(" (depends on: %s)", strings.Join(deps[name], ", "))
		}
		fmt.Println(line)
	}

	issues = append(issues, tr.Issues...)
	if len(issues) > 0 {
		fmt.Printf("\n%d issues detected:\n", len(issues))
		for _, is := range issues {
			fmt.Printf("    └ [%s] %s\n", is.Severity, is.Message)
		}
	}
	return nil
}

func printMigrationReport(result *orchestrate.Result, elapsed time.Duration) {
	fmt.Println("\n📊 Migration Report:")
	for _, p := range result.Phases {
		icon := "✓"
		switch p.Status {
		case "failed":
			icon = "✗"
		case "skipped":
			icon = "-"
		}
		fmt.Printf("[%s] %-16s %-10s %s\n", icon, p.Phase, p.Status, p.Duration.Round(time.Millisecond))
		if p.Error != "" {
			fmt.Printf("    └ %s\n", p.Error)
		}
	}
	fmt.Println("--------------------------------------------------")
	s := result.Stats
	fmt.Printf("Tables      : %d/%d\n", s.ProcessedTables, s.TotalTables)
	fmt.Printf("Exported    : %d records\n", s.ExportedRecords)
	fmt.Printf("Transformed : %d records\n", s.TransformedRecords)
	fmt.Printf("Imported    : %d records\n", s.ImportedRecords)
	fmt.Printf("Issues      : %d errors, %d warnings\n", s.Errors, s.Warnings)
	fmt.Printf("Elapsed     : %s\n", elapsed.Round(time.Millisecond))

	for _, is := range result.Issues {
		if is.Severity == snapshot.SeverityWarning {
			continue
		}
		fmt.Printf("    └ Error: %s\n", is.Message)
	}

	if result.Rollback.Available {
		fmt.Printf("\n💾 Backup: %s\n", result.Rollback.BackupPath)
		if !result.Success {
			fmt.Println("To roll back:")
			for _, step := range result.Rollback.Instructions {
				fmt.Printf("  - %s\n", step)
			}
		}
	}
}

func init() {
	RootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the source database backup")
	migrateCmd.Flags().BoolVar(&validateData, "validate-data", false, "verify target row counts after import")
	migrateCmd.Flags().BoolVar(&migrateDry, "dry-run", false, "print the migration plan without writing")
	migrateCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "drop existing target tables first")
	migrateCmd.Flags().StringVar(&migrateOut, "out", ".", "directory for export and transform artifacts")
	migrateCmd.Flags().StringVar(&backupDir, "backup-dir", "", "directory for the backup copy (default: next to the source)")
}
