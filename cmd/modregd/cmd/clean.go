package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"modelregistry/internal/alias"
	"modelregistry/internal/catalog"
	"modelregistry/internal/pathpolicy"
)

var cleanOrphansFlag bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stray .part files from the temp directory",
	Long: `Recursively scans the temp directory under base_path/.cache/tmp
and removes any leftover *.part files from downloads that never
published (a crashed process, a killed request). Optionally also drops
catalog rows whose canonical file is missing from disk.`,
	Run: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanOrphansFlag, "orphans", false, "Also remove catalog rows whose canonical file no longer exists")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) {
	if globalConfig.BasePath == "" {
		log.Error(errBasePathRequired)
		os.Exit(1)
	}

	policy := pathpolicy.New(globalConfig.BasePath)
	tmpDir := policy.TmpDir()

	var partsRemoved, filesFailed int64

	walkErr := filepath.Walk(tmpDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			log.Warnf("error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(info.Name()), ".part") {
			return nil
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			log.Errorf("failed to remove %q: %v", path, err)
			filesFailed++
			return nil
		}
		log.Infof("removed stray temp file: %s", path)
		partsRemoved++
		return nil
	})
	if walkErr != nil {
		log.Errorf("error walking temp directory %q: %v", tmpDir, walkErr)
	}

	summary := fmt.Sprintf("clean complete: removed %d .part file(s)", partsRemoved)
	if filesFailed > 0 {
		summary += fmt.Sprintf(", failed to remove %d file(s)", filesFailed)
	}

	var orphansRemoved int64
	if cleanOrphansFlag {
		var err error
		orphansRemoved, err = removeOrphanArtifacts(policy)
		if err != nil {
			log.Errorf("error removing orphan catalog rows: %v", err)
		} else {
			summary += fmt.Sprintf(", removed %d orphan catalog row(s)", orphansRemoved)
		}
	}

	log.Info(summary)

	if filesFailed > 0 || walkErr != nil {
		os.Exit(1)
	}
}

func removeOrphanArtifacts(policy *pathpolicy.Policy) (int64, error) {
	cat, err := catalog.Open(policy.CatalogPath(), nil)
	if err != nil {
		return 0, err
	}
	defer cat.Close()

	artifacts, err := cat.ListArtifacts(catalog.Filter{})
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, a := range artifacts {
		if _, statErr := os.Stat(a.CanonicalPath); os.IsNotExist(statErr) {
			aliases, err := cat.ListAliasesFor(a.Hash)
			if err != nil {
				log.Warnf("failed to list aliases for orphan artifact %s: %v", a.Hash, err)
				continue
			}
			for _, al := range aliases {
				if err := alias.Unlink(al.AliasPath); err != nil && !errors.Is(err, alias.ErrNotALink) {
					log.Warnf("failed to unlink alias %s for orphan artifact %s: %v", al.AliasPath, a.Hash, err)
				}
			}

			if err := cat.RemoveArtifact(a.Hash); err != nil {
				log.Warnf("failed to remove orphan artifact %s: %v", a.Hash, err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
