package model

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MPT checkpoints carry their own python source files. Imports rooted in the
// training package would make the saved code unloadable outside that package,
// so they are flattened to relative imports against the sibling files saved
// in the same directory. Only the "mpt" family needs this.

var importPattern = regexp.MustCompile(`^(\s*)from ([\w.]+) import ([\w, ]+)$`)

// EditFilesForCompatibility rewrites every .py file in dir, flattening
// imports whose module path starts with one of the given prefixes.
func EditFilesForCompatibility(dir string, flattenImports []string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		edited := flattenImportLines(string(contents), flattenImports)
		if edited == string(contents) {
			continue
		}
		if err = os.WriteFile(path, []byte(edited), 0o644); err != nil {
			return err
		}
	}

	return nil
}

func flattenImportLines(source string, flattenImports []string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		match := importPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		indent, module, imported := match[1], match[2], match[3]
		if !matchesPrefix(module, flattenImports) {
			continue
		}

		names := strings.Split(imported, ",")
		flattened := make([]string, 0, len(names))
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			flattened = append(flattened, fmt.Sprintf("%sfrom .%s import %s", indent, name, name))
		}
		lines[i] = strings.Join(flattened, "\n")
	}
	return strings.Join(lines, "\n")
}

func matchesPrefix(module string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if module == prefix || strings.HasPrefix(module, prefix+".") {
			return true
		}
	}
	return false
}
