package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cms-migrate/internal/snapshot"
	"cms-migrate/internal/transform"
	"cms-migrate/internal/validate"
)

var (
	transformInput string
	transformOut   string
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Transform an export snapshot into a target-ready dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		if transformInput == "" {
			return fmt.Errorf("--input is required (an export JSON file)")
		}
		export, err := snapshot.ReadExportFile(transformInput)
		if err != nil {
			return err
		}

		fmt.Printf("🚚 Transforming %s\n", transformInput)
		start := time.Now()

		tf := transform.New(validate.New(), Logger)
		tf.OutDir = transformOut
		result := tf.Transform(export)

		fmt.Println("\n📊 Transform Report:")
		fmt.Printf("Tables  : %d\n", result.Metadata.TotalTables)
		fmt.Printf("Records : %d\n", result.Metadata.TotalRecords)
		if result.OutputFile != "" {
			fmt.Printf("Dataset : %s\n", result.OutputFile)
		}
		fmt.Printf("Elapsed : %s\n", time.Since(start).Round(time.Millisecond))

		for _, is := range result.Issues {
			if is.Severity == snapshot.SeverityWarning {
				fmt.Printf("    └ Warning: %s\n", is.Message)
			} else {
				fmt.Printf("    └ Error: %s\n", is.Message)
			}
		}

		if !result.Success {
			warnings, errs := snapshot.CountBySeverity(result.Issues)
			return fmt.Errorf("transform finished with errors (%d errors, %d warnings)", errs, warnings)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(transformCmd)

	transformCmd.Flags().StringVar(&transformInput, "input", "", "export JSON file to transform")
	transformCmd.Flags().StringVar(&transformOut, "out", ".", "directory for the transformed dataset file")
}
