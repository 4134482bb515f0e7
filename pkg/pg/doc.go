// Package pg bootstraps PostgreSQL access on pgx/v5: a retrying pool
// constructor, goose migrations over the same pool, a readiness probe and
// helpers that classify driver errors.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, migrations.FS, log); err != nil {
//		return err
//	}
//
// Configuration is read from PG_* environment variables; see Config.
package pg
