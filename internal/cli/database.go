package cli

import (
	"fmt"

	"github.com/mrlokans/librarian/internal/config"
	"github.com/mrlokans/librarian/internal/database"
)

// openDatabase connects using the environment configuration, with -db
// overriding the SQLite path when given.
func openDatabase(cfg *config.Config, path string) (*database.Database, error) {
	dbCfg := cfg.Database
	if path != "" {
		dbCfg.Driver = config.DatabaseDriverSQLite
		dbCfg.Path = path
	}
	if dbCfg.LogLevel == "" {
		dbCfg.LogLevel = "warn"
	}
	db, err := database.NewDatabase(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
