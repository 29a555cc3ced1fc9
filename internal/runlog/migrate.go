package runlog

import (
	"embed"
	"io/fs"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite" // sqlite:// migration driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateUp applies every pending migration to the database at path.
func migrateUp(path string) error {
	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "unable to access migrations")
	}

	sourceDriver, err := iofs.New(migrationsDir, ".")
	if err != nil {
		return errors.Wrap(err, "unable to create migration source")
	}

	normalizedPath := filepath.ToSlash(path)
	if filepath.IsAbs(path) && normalizedPath[0] != '/' {
		normalizedPath = "/" + normalizedPath
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, "sqlite://"+normalizedPath)
	if err != nil {
		return errors.Wrap(err, "unable to create migration instance")
	}

	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "unable to apply migrations")
	}

	return nil
}
