package retrieval

import (
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
)

// LoadDir seeds a MemoryIndex from a context directory laid out as one
// subdirectory per collection, one document per file:
//
//	<dir>/examples/  prior question/SQL pairs
//	<dir>/ddl/       schema fragments
//	<dir>/docs/      documentation snippets
//
// Missing subdirectories are skipped so a deployment can start with
// schema files only and grow examples over time.
func LoadDir(index *MemoryIndex, dir string, config Config) error {
	config.setDefaults()
	for sub, collection := range map[string]string{
		"examples": config.ExamplesCollection,
		"ddl":      config.DDLCollection,
		"docs":     config.DocsCollection,
	} {
		if err := loadCollection(index, filepath.Join(dir, sub), collection); err != nil {
			return err
		}
	}
	return nil
}

func loadCollection(index *MemoryIndex, dir, collection string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CodeRetrievalFailed, "failed to read context dir %s", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CodeRetrievalFailed, "failed to read context file %s", entry.Name())
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			index.Add(collection, text)
		}
	}
	return nil
}
