package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/angelmondragon/vetsync/pkg/config"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedded embed.FS

// DefaultDir is the on-disk root of the per-dialect migration directories.
const DefaultDir = "pkg/migrate/migrations"

// goose keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

// Source locates migrations: Dir on disk when set, otherwise the copy embedded in the binary.
type Source struct {
	Driver string
	Dir    string
}

func (s Source) gooseDialect() (string, error) {
	switch s.Driver {
	case "", config.DriverSQLite:
		return "sqlite3", nil
	case config.DriverPostgres:
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported migration driver %q", s.Driver)
	}
}

func (s Source) driverDir() string {
	if s.Driver == "" {
		return config.DriverSQLite
	}
	return s.Driver
}

func (s Source) open() (fs.FS, string) {
	if s.Dir != "" {
		return os.DirFS(s.Dir), s.driverDir()
	}
	return embedded, path.Join("migrations", s.driverDir())
}

func (s Source) with(fn func(dir string) error) error {
	dialect, err := s.gooseDialect()
	if err != nil {
		return err
	}
	fsys, dir := s.open()

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn(dir)
}

// Run executes a standard goose command that requires a DB connection.
func Run(ctx context.Context, db *sql.DB, src Source, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	return src.with(func(dir string) error {
		if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// Version returns the current schema version recorded by goose.
func Version(ctx context.Context, db *sql.DB, src Source) (int64, error) {
	var current int64
	err := src.with(func(string) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		current = v
		return nil
	})
	return current, err
}

// MigrateToVersion migrates up/down to the requested version by comparing current DB version.
func MigrateToVersion(ctx context.Context, db *sql.DB, src Source, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}

	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	return src.with(func(dir string) error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}

		switch {
		case current == target:
			return nil
		case current < target:
			if err := goose.UpToContext(ctx, db, dir, target); err != nil {
				return fmt.Errorf("goose up-to %d: %w", target, err)
			}
		default:
			if err := goose.DownToContext(ctx, db, dir, target); err != nil {
				return fmt.Errorf("goose down-to %d: %w", target, err)
			}
		}
		return nil
	})
}
