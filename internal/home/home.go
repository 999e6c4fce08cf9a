package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the folio home directory.
	DefaultDirName = ".folio"

	// DataDirName is the subdirectory for ingested book data.
	DataDirName = "data"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the folio home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.folio).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the path to the data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.DataPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// BookDir returns the directory holding an ingested book's files.
func (d *Dir) BookDir(bookID string) string {
	return filepath.Join(d.DataPath(), "books", bookID)
}

// BookOriginalsDir returns the directory holding a book's stored PDFs.
// Multi-part books keep one file per part.
func (d *Dir) BookOriginalsDir(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "originals")
}

// BookPDFPath returns the stored PDF for one part of a book (1-indexed).
func (d *Dir) BookPDFPath(bookID string, part int) string {
	return filepath.Join(d.BookOriginalsDir(bookID), fmt.Sprintf("part-%02d.pdf", part))
}

// BookImagesDir returns the directory for figures extracted from a book.
func (d *Dir) BookImagesDir(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "images")
}

// BookImagePath returns the path to a specific extracted figure.
func (d *Dir) BookImagePath(bookID, imageID string) string {
	return filepath.Join(d.BookImagesDir(bookID), imageID+".png")
}

// EnsureBookDir creates the directory tree for a book.
func (d *Dir) EnsureBookDir(bookID string) error {
	if err := os.MkdirAll(d.BookOriginalsDir(bookID), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(d.BookImagesDir(bookID), 0o755)
}

// ExportsDir returns the directory for exported documents (markdown).
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, "exports")
}

// ExportPath returns the export path for a synthesized document.
func (d *Dir) ExportPath(documentID string) string {
	return filepath.Join(d.ExportsDir(), documentID+".md")
}

// EnsureExportsDir creates the exports directory.
func (d *Dir) EnsureExportsDir() error {
	return os.MkdirAll(d.ExportsDir(), 0o755)
}

// DefraDataDir returns the DefraDB data persistence path.
func (d *Dir) DefraDataDir() string {
	return filepath.Join(d.path, "defradb")
}
