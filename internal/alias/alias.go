// Package alias implements the Aliaser: given a canonical file and a
// second desired path, make the second path resolve to the same bytes
// using the cheapest mechanism the filesystem allows.
package alias

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Strategy names the mechanism Link actually used, for logging/tests.
type Strategy string

const (
	StrategySymlink  Strategy = "symlink"
	StrategyHardlink Strategy = "hardlink"
	StrategyCopy     Strategy = "copy"
)

// Link makes aliasPath resolve to canonicalPath's bytes, trying symlink,
// then hardlink, then a full streamed copy, in that order, per spec
// §4.3's ordered fallback. It returns the strategy that succeeded.
func Link(canonicalPath, aliasPath string) (Strategy, error) {
	if err := os.MkdirAll(filepath.Dir(aliasPath), 0700); err != nil {
		return "", fmt.Errorf("creating alias parent directory: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := trySymlink(canonicalPath, aliasPath); err == nil {
			log.WithFields(log.Fields{"canonical": canonicalPath, "alias": aliasPath}).Debug("alias: linked via symlink")
			return StrategySymlink, nil
		} else {
			log.WithError(err).Debug("alias: symlink failed, trying hardlink")
		}
	}

	if err := tryHardlink(canonicalPath, aliasPath); err == nil {
		log.WithFields(log.Fields{"canonical": canonicalPath, "alias": aliasPath}).Debug("alias: linked via hardlink")
		return StrategyHardlink, nil
	} else {
		log.WithError(err).Debug("alias: hardlink failed, falling back to copy")
	}

	if err := copyFile(canonicalPath, aliasPath); err != nil {
		return "", fmt.Errorf("alias: all linking strategies failed for %s -> %s: %w", canonicalPath, aliasPath, err)
	}
	log.WithFields(log.Fields{"canonical": canonicalPath, "alias": aliasPath}).Debug("alias: linked via copy")
	return StrategyCopy, nil
}

func trySymlink(canonicalPath, aliasPath string) error {
	if _, err := os.Lstat(aliasPath); err == nil {
		return fmt.Errorf("alias path already exists")
	}
	rel, err := filepath.Rel(filepath.Dir(aliasPath), canonicalPath)
	if err != nil {
		rel = canonicalPath
	}
	return os.Symlink(rel, aliasPath)
}

func tryHardlink(canonicalPath, aliasPath string) error {
	if _, err := os.Lstat(aliasPath); err == nil {
		return fmt.Errorf("alias path already exists")
	}
	return os.Link(canonicalPath, aliasPath)
}

func copyFile(canonicalPath, aliasPath string) error {
	if _, err := os.Lstat(aliasPath); err == nil {
		return fmt.Errorf("alias path already exists")
	}

	src, err := os.Open(canonicalPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := aliasPath + ".part"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, aliasPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ErrNotALink is returned by Unlink when aliasPath doesn't exist or is a
// directory, neither of which a Link call could ever have produced.
var ErrNotALink = errors.New("alias: path is not a registry-managed alias")

// Unlink removes an alias path. Only the filesystem entry is removed;
// catalog bookkeeping is the caller's responsibility.
func Unlink(aliasPath string) error {
	info, err := os.Lstat(aliasPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", ErrNotALink, aliasPath)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotALink, aliasPath)
	}
	return os.Remove(aliasPath)
}
