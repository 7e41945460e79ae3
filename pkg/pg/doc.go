// Package pg bootstraps PostgreSQL access with pgx/v5: a pooled connection
// with retries, goose migrations from an embedded filesystem, a health probe,
// and helpers classifying driver errors.
//
// Configuration is read from the environment through Config:
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations, "migrations", cfg, slog.Default()); err != nil {
//		return err
//	}
//
// Error helpers such as IsDuplicateKeyError unwrap *pgconn.PgError so that
// callers can turn uniqueness races into domain errors.
package pg
