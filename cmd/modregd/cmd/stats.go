package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"modelregistry/internal/catalog"
	"modelregistry/internal/helpers"
	"modelregistry/internal/models"
	"modelregistry/internal/pathpolicy"
)

var statsRecentAttemptsFlag int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print catalog artifact/alias counts and total stored size",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsRecentAttemptsFlag, "recent-attempts", 0, "Also print the N most recent download attempts")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if globalConfig.BasePath == "" {
		return errBasePathRequired
	}

	policy := pathpolicy.New(globalConfig.BasePath)

	cat, err := catalog.Open(policy.CatalogPath(), nil)
	if err != nil {
		return err
	}
	defer cat.Close()

	s, err := cat.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Artifacts:  %d\n", s.ArtifactCount)
	fmt.Printf("Aliases:    %d\n", s.AliasCount)
	fmt.Printf("Total size: %s\n", helpers.BytesToSize(s.TotalBytes))

	if statsRecentAttemptsFlag > 0 {
		attempts, err := cat.ListAttempts()
		if err != nil {
			return err
		}
		printRecentAttempts(attempts, statsRecentAttemptsFlag)
	}
	return nil
}

func printRecentAttempts(attempts []models.DownloadAttempt, n int) {
	if len(attempts) > n {
		attempts = attempts[len(attempts)-n:]
	}
	fmt.Printf("\nRecent download attempts (%d):\n", len(attempts))
	for _, a := range attempts {
		line := fmt.Sprintf("  [%s] %s -> %s", a.Status, a.URL, a.DestPath)
		if a.Error != "" {
			line += fmt.Sprintf(" (%s)", a.Error)
		}
		fmt.Println(line)
	}
}
