package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/mholt/archiver"
	"github.com/otiai10/copy"
)

// bundleLogs writes a tar.gz of the existing files among paths. The files are copied first
// so that the archive is not written from files that keep growing.
func bundleLogs(w io.Writer, paths []string) error {
	dir, err := os.MkdirTemp("", "console-logs-")
	if err != nil {
		return fmt.Errorf("error creating snapshot dir: %s", err)
	}
	defer os.RemoveAll(dir)

	var snapshots []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			log.Printf("bundleLogs: skipping %s: %s", path, err)
			continue
		}
		snapshot := filepath.Join(dir, filepath.Base(path))
		if err := copy.Copy(path, snapshot); err != nil {
			return fmt.Errorf("error copying %s: %s", path, err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if len(snapshots) == 0 {
		return fmt.Errorf("no log files found")
	}
	return archiver.TarGz.Write(w, snapshots)
}
