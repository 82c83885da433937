// Package store persists run artifacts: documents and structured records on
// a filesystem, and execution reports in PostgreSQL.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"

	"github.com/xkilldash9x/quill/internal/locator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DayLayout names the per-day run directory.
const DayLayout = "2006-01-02"

// Documents reads and writes run artifacts below a root directory.
type Documents struct {
	fs   afero.Fs
	root string
}

// NewDocuments creates a document store rooted at root on fs.
func NewDocuments(fs afero.Fs, root string) *Documents {
	return &Documents{fs: fs, root: root}
}

// Root returns the store's root directory.
func (d *Documents) Root() string { return d.root }

// DayDir returns the directory, relative to the root, holding artifacts of
// runs started on t's calendar day.
func DayDir(t time.Time) string {
	return t.Format(DayLayout)
}

// WriteDocument writes text to dir/name and returns the full path.
func (d *Documents) WriteDocument(dir, name, text string) (string, error) {
	return d.write(dir, name, []byte(text))
}

// WriteStructured writes v as indented JSON to dir/name.
func (d *Documents) WriteStructured(dir, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return d.write(dir, name, append(data, '\n'))
}

// WriteSnapshot stores a diagnostic capture as dir/<label>-<time>.<format>.
func (d *Documents) WriteSnapshot(dir, label string, at time.Time, snap locator.Snapshot) (string, error) {
	format := snap.Format
	if format == "" {
		format = "bin"
	}
	name := fmt.Sprintf("%s-%s.%s", label, at.Format("150405.000"), format)
	return d.write(dir, strings.ReplaceAll(name, ":", "-"), snap.Data)
}

// ReadDocument reads a document. Relative paths are resolved against the
// working directory first and then against the store root.
func (d *Documents) ReadDocument(path string) (string, error) {
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = append(candidates, filepath.Join(d.root, path))
	}
	for _, p := range candidates {
		data, err := afero.ReadFile(d.fs, p)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read %s: %w", p, err)
		}
	}
	return "", fmt.Errorf("document %s not found: %w", path, os.ErrNotExist)
}

// write stages data in a temporary file and renames it into place so
// readers never observe a partial artifact.
func (d *Documents) write(dir, name string, data []byte) (string, error) {
	target := filepath.Join(d.root, dir)
	if err := d.fs.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", target, err)
	}
	path := filepath.Join(target, name)
	tmp := path + ".tmp"
	if err := afero.WriteFile(d.fs, tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := d.fs.Rename(tmp, path); err != nil {
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return path, nil
}
