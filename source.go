package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Format is a tabular file format accepted as a source.
type Format string

const (
	FormatCSV Format = "csv"
	FormatXLS Format = "xls"
)

var formatsByExt = map[string]Format{
	".csv": FormatCSV,
	".xls": FormatXLS,
}

// Source is a local tabular file to ingest. It is never modified.
type Source struct {
	Path    string    `json:"path"`
	Format  Format    `json:"format"`
	ModTime time.Time `json:"mod_time"`
}

// FormatOf returns the tabular format of path judged by its extension.
func FormatOf(path string) (Format, bool) {
	f, ok := formatsByExt[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// SourceAt returns the source for an explicit path.
func SourceAt(path string) (*Source, error) {
	f, ok := FormatOf(path)
	if !ok {
		return nil, xerrors.Errorf("unsupported source format %s: %w", path, ErrNoSourceFile)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to stat %s: %v: %w", path, err, ErrNoSourceFile)
	}
	if !fi.Mode().IsRegular() {
		return nil, xerrors.Errorf("%s is not a regular file: %w", path, ErrNoSourceFile)
	}

	return &Source{Path: path, Format: f, ModTime: fi.ModTime()}, nil
}

// LatestSource returns the most recently modified tabular file in dir.
func LatestSource(dir string) (*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("failed to read directory %s: %v: %w", dir, err, ErrNoSourceFile)
	}

	var latest *Source

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		f, ok := FormatOf(e.Name())
		if !ok {
			continue
		}

		fi, err := e.Info()
		if err != nil {
			return nil, xerrors.Errorf("failed to stat %s: %w", e.Name(), err)
		}

		// Ties keep the lexically first name as ReadDir returns sorted entries.
		if latest == nil || fi.ModTime().After(latest.ModTime) {
			latest = &Source{
				Path:    filepath.Join(dir, e.Name()),
				Format:  f,
				ModTime: fi.ModTime(),
			}
		}
	}

	if latest == nil {
		return nil, xerrors.Errorf("no tabular file in %s: %w", dir, ErrNoSourceFile)
	}

	return latest, nil
}
