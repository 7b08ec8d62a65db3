package repositories

import (
	"errors"
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/shopspring/decimal"

	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type ErrNotFound struct {
}

func (e *ErrNotFound) Error() string {
	return "not found"
}

func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

// numeric stores a uint64 without the sign bit limits of the drivers' integer types.
func numeric(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func fromNumeric(d decimal.Decimal) (uint64, error) {
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("value %s does not fit in uint64", d.String())
	}
	return b.Uint64(), nil
}

const DefaultSignalLimit = 100

// migrateUp applies the pending migrations in dir, recording the applied
// version in the database so each file runs once.
func migrateUp(dir string, dbName string, driver migratedb.Driver) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations directory: %v", err)
	}
	fileURL := "file://" + filepath.ToSlash(abs)
	log.Debug("Running migrations in %s", fileURL)

	m, err := migrate.NewWithDatabaseInstance(fileURL, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %v", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %v", err)
	}
	if dirty {
		return fmt.Errorf("migration %d is dirty", version)
	}
	log.Info("Migrations now at v%d", version)
	return nil
}
