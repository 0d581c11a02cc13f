// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Config is populated from PG_* environment variables through
// github.com/caarlos0/env. Connect opens a *pgxpool.Pool and retries until the
// database answers a ping. Migrate runs goose migrations from an fs.FS, which
// lets each store package embed its own schema. The error helpers classify
// pgx errors (no rows, unique and foreign key violations) so stores can map
// them to their own sentinels.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := pg.Migrate(ctx, pool, migrations.FS, ".", cfg, log); err != nil {
//	    return err
//	}
package pg
