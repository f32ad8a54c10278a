// Package postgres provides a CredentialStore backed by PostgreSQL via
// pgx. The same Store also implements ActivityRecorder, so identities,
// two-factor enrollments, backup codes and the account activity history
// live in one database.
//
// Wiring:
//
//	pool, err := postgres.Connect(ctx, os.Getenv("DATABASE_URL"))
//	store := postgres.New(pool)
//	if err := store.EnsureSchema(ctx); err != nil { ... }
//
//	engine, err := authcore.New().
//		WithRedis(rdb).
//		WithCredentialStore(store).
//		WithAuditSink(authcore.NewActivityLogSink(store)).
//		Build()
//
// Backup codes are burned with a conditional DELETE, so single-use holds
// even when two requests race on the same code across processes.
package postgres
