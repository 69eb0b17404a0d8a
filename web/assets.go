// Package web provides the embedded camera viewer page.
//
// The dist/ directory is embedded at build time. During development,
// if dist/ exists on the filesystem, it will be used instead, so the
// page can be edited without rebuilding.
package web

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed dist/*
var assets embed.FS

// GetAssets returns a filesystem containing the viewer page. When devPath
// names an existing directory it is served live; otherwise the embedded
// copy is used. An empty devPath disables the live directory.
func GetAssets(devPath string) fs.FS {
	if devPath != "" {
		if stat, err := os.Stat(devPath); err == nil && stat.IsDir() {
			return os.DirFS(devPath)
		}
	}

	// The assets FS has a "dist/" prefix.
	subFS, err := fs.Sub(assets, "dist")
	if err != nil {
		panic("failed to access embedded web assets: " + err.Error())
	}
	return subFS
}

// GetAssetsWithBase returns the viewer assets, preferring web/dist under
// baseDir when it exists.
func GetAssetsWithBase(baseDir string) fs.FS {
	return GetAssets(filepath.Join(baseDir, "web", "dist"))
}
