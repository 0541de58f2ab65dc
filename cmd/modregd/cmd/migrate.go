package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gosuri/uilive"

	"modelregistry/internal/catalog"
	"modelregistry/internal/migrate"
	"modelregistry/internal/pathpolicy"
	"modelregistry/internal/search"
)

var (
	migrateKindFlag              string
	migrateDryRunFlag            bool
	migrateReplaceDuplicatesFlag bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Scan existing model folders and register their contents in the catalog",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateKindFlag, "kind", "", "Restrict the scan to a single kind (default: all)")
	migrateCmd.Flags().BoolVar(&migrateDryRunFlag, "dry-run", false, "Report planned changes without writing to the catalog")
	migrateCmd.Flags().BoolVar(&migrateReplaceDuplicatesFlag, "replace-duplicates", false, "Replace on-disk duplicates with space-saving aliases of the canonical file")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if globalConfig.BasePath == "" {
		return errBasePathRequired
	}

	policy := pathpolicy.New(globalConfig.BasePath)

	idx, err := search.Open(policy.SearchIndexPath())
	if err != nil {
		return err
	}
	defer idx.Close()

	cat, err := catalog.Open(policy.CatalogPath(), idx)
	if err != nil {
		return err
	}
	defer cat.Close()

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	m := migrate.New(policy, cat)
	summary, err := m.Run(migrate.Options{
		Kind:              migrateKindFlag,
		DryRun:            migrateDryRunFlag,
		ReplaceDuplicates: migrateReplaceDuplicatesFlag,
		OnProgress: func(processed int, path string) {
			fmt.Fprintf(writer, "scanned %d files, current: %s\n", processed, path)
		},
	})
	if err != nil {
		return err
	}

	log.Infof(
		"migration complete: %d files scanned, %d new artifacts, %d new aliases, %d bytes hashed, %d errors, %d symlinks skipped",
		summary.FilesScanned, summary.NewArtifacts, summary.NewAliases, summary.BytesHashed, summary.Errors, summary.SkippedLinks,
	)
	if migrateDryRunFlag {
		log.Info("dry run: no catalog writes were made")
	}
	return nil
}
