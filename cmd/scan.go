package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/lib"
	"github.com/securescan/securescan/pkg/scan"
	"github.com/securescan/securescan/pkg/scan/progress"
)

var scanURL string

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Runs a one-shot scan against a target URL",
	Run: func(cmd *cobra.Command, args []string) {
		if scanURL == "" {
			log.Error().Msg("A target URL is required (--url)")
			os.Exit(1)
		}
		target := lib.EnsureScheme(scanURL)
		record, err := db.Connection().CreateScan(uuid.New().String(), target)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not create scan record")
		}

		engine := scan.NewEngine(db.Connection(), progress.NewBus())
		if err := engine.Run(cmd.Context(), record); err != nil {
			log.Error().Err(err).Msg("Scan did not complete")
		}
		printScanReport(record)
	},
}

func printScanReport(record *db.Scan) {
	fmt.Printf("\nScan %s finished with status %s\n", record.ID, record.Status)
	fmt.Printf("Pages scanned: %d | Forms found: %d | Endpoints tested: %d\n\n",
		record.PagesScanned, record.FormsFound, record.EndpointsTested)

	if len(record.Vulnerabilities) == 0 {
		fmt.Println("No vulnerabilities found")
		return
	}
	fmt.Printf("Vulnerabilities (%d):\n", len(record.Vulnerabilities))
	for _, finding := range record.Vulnerabilities {
		fmt.Printf(" - [%s] %s (%s)\n", finding.Severity, finding.Name, finding.Category)
		fmt.Printf("   %s\n", finding.Description)
		fmt.Printf("   Location: %s\n", finding.Location)
	}
}

func init() {
	scanCmd.Flags().StringVarP(&scanURL, "url", "u", "", "Target URL to scan")
	rootCmd.AddCommand(scanCmd)
}
