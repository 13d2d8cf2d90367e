package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
)

// ArchiveInfo is what the deploy step needs to know before touching the
// server: whether extraction leaves the site wrapped in a single directory,
// and whether an index file will end up at the webroot.
type ArchiveInfo struct {
	// WrappedDir is set when the archive holds exactly one top-level
	// directory and no top-level files; extraction must flatten it.
	WrappedDir string
	HasIndex   bool
	Files      int
}

// Inspect reads the zip central directory of an uploaded bundle.
func Inspect(data []byte) (ArchiveInfo, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ArchiveInfo{}, errs.ValidationError{Msg: fmt.Sprintf("bundle is not a readable zip archive: %v", err)}
	}

	topDirs := map[string]struct{}{}
	topFiles := 0
	files := 0
	for _, file := range reader.File {
		name := strings.TrimPrefix(file.Name, "./")
		if name == "" {
			continue
		}
		if !file.FileInfo().IsDir() {
			files++
		}
		if idx := strings.Index(name, "/"); idx >= 0 {
			topDirs[name[:idx]] = struct{}{}
		} else if !file.FileInfo().IsDir() {
			topFiles++
		} else {
			topDirs[strings.TrimSuffix(name, "/")] = struct{}{}
		}
	}
	if files == 0 {
		return ArchiveInfo{}, errs.ValidationError{Msg: "bundle archive is empty"}
	}

	info := ArchiveInfo{Files: files}
	if topFiles == 0 && len(topDirs) == 1 {
		for dir := range topDirs {
			info.WrappedDir = dir
		}
	}

	root := ""
	if info.WrappedDir != "" {
		root = info.WrappedDir + "/"
	}
	for _, candidate := range []string{"index.html", "index.php", "index.htm"} {
		if _, err := reader.Open(root + candidate); err == nil {
			info.HasIndex = true
			break
		}
	}
	return info, nil
}
