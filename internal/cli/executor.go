package cli

import (
	"context"
	"sort"

	"github.com/roach88/fhirsql/internal/config"
	"github.com/roach88/fhirsql/internal/pgstore"
	"github.com/roach88/fhirsql/internal/store"
)

// openExecutor connects to PostgreSQL when a database URL is given (by
// flag, or by config with the postgres dialect) and opens the configured
// SQLite database otherwise. It returns the dialect statements must be
// compiled for.
func openExecutor(ctx context.Context, cfg *config.Config, databaseURL string) (store.Executor, string, error) {
	if databaseURL == "" && cfg.UsesPostgres() {
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL != "" {
		pg, err := pgstore.Open(ctx, databaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, "", err
		}
		return pg, config.DialectPostgres, nil
	}

	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return nil, "", err
	}
	return st, config.DialectSQLite, nil
}

// loadData loads resource files and reports what each contained.
func loadData(ctx context.Context, exec store.Executor, files []string, f *OutputFormatter) error {
	for _, path := range files {
		counts, err := exec.LoadFile(ctx, path)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), map[string]string{"file": path})
		}
		types := make([]string, 0, len(counts))
		for typ := range counts {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			f.VerboseLog("Loaded %d %s resource(s) from %s", counts[typ], typ, path)
		}
	}
	return nil
}
