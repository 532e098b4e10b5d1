package detector

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// unreadableHash marks a file whose contents could not be read. A file that
// is unreadable at both snapshot and detection time hashes equal and is not
// reported as changed; a file that becomes unreadable is.
const unreadableHash = "!unreadable"

// Scanner produces a content-hash map for every regular file under a module
// directory and serves file contents for classification. Keys are
// slash-separated paths relative to the root. Tests inject synthetic
// scanners so detection logic runs without touching disk.
type Scanner interface {
	Scan(root string) (map[string]string, error)
	ReadFile(root, rel string) ([]byte, error)
}

// FSScanner walks the real filesystem, hashing file contents with xxhash.
type FSScanner struct{}

// Scan walks root recursively and returns the path-to-hash map.
func (FSScanner) Scan(root string) (map[string]string, error) {
	hashes := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable directories degrade to "nothing under here";
			// unreadable files are recorded below.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		hashes[filepath.ToSlash(rel)] = hashFile(path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// ReadFile returns the contents of one file under root.
func (FSScanner) ReadFile(root, rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
}

func hashFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return unreadableHash
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return unreadableHash
	}
	return hex.EncodeToString(h.Sum(nil))
}
