package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/angelmondragon/vetsync/pkg/config"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir validates the on-disk migration tree rooted at dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir), ".")
}

// ValidateEmbedded validates the migrations compiled into the binary.
func ValidateEmbedded() error {
	return ValidateFS(embedded, "migrations")
}

// ValidateFS checks filenames and goose headers per dialect directory, and that
// every dialect carries the same set of versions.
func ValidateFS(fsys fs.FS, root string) error {
	versionsByDriver := map[string][]string{}
	for _, driver := range []string{config.DriverSQLite, config.DriverPostgres} {
		versions, err := validateDialectDir(fsys, path.Join(root, driver))
		if err != nil {
			return err
		}
		versionsByDriver[driver] = versions
	}

	sqliteVersions := strings.Join(versionsByDriver[config.DriverSQLite], ",")
	postgresVersions := strings.Join(versionsByDriver[config.DriverPostgres], ",")
	if sqliteVersions != postgresVersions {
		return fmt.Errorf("dialect migrations diverge: sqlite [%s] postgres [%s]", sqliteVersions, postgresVersions)
	}
	return nil
}

func validateDialectDir(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{} // version -> filename
	versions := []string{}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}

		version := m[1]
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		seen[version] = name
		versions = append(versions, version)

		full := path.Join(dir, name)
		b, err := fs.ReadFile(fsys, full)
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", full, err)
		}

		txt := string(b)
		if !strings.Contains(txt, "-- +goose Up") {
			return nil, fmt.Errorf("migration %q missing \"-- +goose Up\"", full)
		}
		if !strings.Contains(txt, "-- +goose Down") {
			return nil, fmt.Errorf("migration %q missing \"-- +goose Down\"", full)
		}
	}

	sort.Strings(versions)
	return versions, nil
}
