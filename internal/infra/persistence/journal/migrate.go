package journal

import (
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"

	"lexgraph/internal/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migrate runs all pending journal schema migrations on db.
func Migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return errors.Wrap(err, "set goose dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return errors.Wrap(err, "run journal migrations")
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func SchemaVersion(db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, errors.Wrap(err, "set goose dialect")
	}
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, errors.Wrap(err, "read journal schema version")
	}
	return version, nil
}
